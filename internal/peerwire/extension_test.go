package peerwire

import (
	"bytes"
	"testing"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionHandshakeRoundTrip(t *testing.T) {
	m, err := BuildExtensionHandshake(12345)
	require.NoError(t, err)
	assert.Equal(t, Extended, m.ID)

	decoded, err := ParseExtensionHandshake(m)
	require.NoError(t, err)
	assert.Equal(t, 12345, decoded.MetadataSize)
	id, ok := decoded.UTMetadataID()
	require.True(t, ok)
	assert.Equal(t, LocalUTMetadataID, id)
}

func TestParseExtensionHandshakeRejectsWrongExtendedID(t *testing.T) {
	m := &Message{ID: Extended, Payload: []byte{3, 'd', 'e'}}
	_, err := ParseExtensionHandshake(m)
	assert.Error(t, err)
}

func TestMetadataRequestResponseRoundTrip(t *testing.T) {
	req := BuildMetadataRequest(7, 0)
	assert.Equal(t, byte(7), req.Payload[0])

	data := []byte("some metadata bytes")
	header := metadataHeader{MsgType: metadataMsgTypeData, Piece: 0, TotalSize: len(data)}
	var bufPayload []byte
	bufPayload = append(bufPayload, LocalUTMetadataID)
	bufPayload = append(bufPayload, encodeHeaderForTest(t, header)...)
	bufPayload = append(bufPayload, data...)

	result, err := ParseMetadataPiece(&Message{ID: Extended, Payload: bufPayload})
	require.NoError(t, err)
	assert.False(t, result.Rejected)
	assert.Equal(t, data, result.Data)
	assert.Equal(t, len(data), result.TotalSize)
}

func TestParseMetadataPieceHandlesReject(t *testing.T) {
	header := metadataHeader{MsgType: metadataMsgTypeReject, Piece: 2}
	payload := append([]byte{LocalUTMetadataID}, encodeHeaderForTest(t, header)...)
	result, err := ParseMetadataPiece(&Message{ID: Extended, Payload: payload})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Equal(t, 2, result.Piece)
}

func TestParseMetadataPieceRejectsUnknownExtendedID(t *testing.T) {
	payload := []byte{99, 'd', 'e'}
	_, err := ParseMetadataPiece(&Message{ID: Extended, Payload: payload})
	assert.Error(t, err)
}

func encodeHeaderForTest(t *testing.T, h metadataHeader) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, h))
	return buf.Bytes()
}
