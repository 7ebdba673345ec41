package peerwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeKeepalive(t *testing.T) {
	var m *Message
	assert.Equal(t, []byte{0, 0, 0, 0}, m.Serialize())
}

func TestMessageRoundTrip(t *testing.T) {
	m := FormatHave(5)
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, m))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.NotNil(t, got)
	index, err := ParseHave(got)
	require.NoError(t, err)
	assert.Equal(t, 5, index)
}

func TestReadMessageKeepalive(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0, 0})
	m, err := ReadMessage(buf)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xff
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	_, err := ReadMessage(bytes.NewReader(lenBuf[:]))
	assert.Error(t, err)
}

func TestFormatAndParseRequest(t *testing.T) {
	m := FormatRequest(1, 2, BlockRequestLen)
	fields, err := ParseRequest(m)
	require.NoError(t, err)
	assert.Equal(t, RequestFields{Index: 1, Begin: 2, Length: BlockRequestLen}, fields)
}

func TestFormatCancelReusesRequestPayload(t *testing.T) {
	m := FormatCancel(1, 2, 3)
	assert.Equal(t, Cancel, m.ID)
	fields, err := ParseRequest(m)
	require.NoError(t, err)
	assert.Equal(t, RequestFields{Index: 1, Begin: 2, Length: 3}, fields)
}

func TestApplyPiece(t *testing.T) {
	buf := make([]byte, 8)
	m := FormatPiece(3, 2, []byte{9, 9, 9})
	n, err := ApplyPiece(3, buf, m)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0, 0, 9, 9, 9, 0, 0, 0}, buf)
}

func TestApplyPieceRejectsWrongIndex(t *testing.T) {
	buf := make([]byte, 8)
	m := FormatPiece(4, 0, []byte{1})
	_, err := ApplyPiece(3, buf, m)
	assert.Error(t, err)
}

func TestApplyPieceRejectsOverrun(t *testing.T) {
	buf := make([]byte, 4)
	m := FormatPiece(3, 2, []byte{1, 1, 1})
	_, err := ApplyPiece(3, buf, m)
	assert.Error(t, err)
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "Piece", Piece.String())
	assert.Contains(t, ID(99).String(), "Unknown")
}
