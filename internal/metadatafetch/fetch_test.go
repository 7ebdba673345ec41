package metadatafetch

import (
	"bytes"
	"crypto/sha1"
	"sync"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/gobittorrent/internal/peerwire"
)

// fakeConn is an in-memory ReadWriteDeadliner standing in for a peer
// connection: every Write is a request message, and each Read drains
// a canned metadata-piece response queued in reaction to it.
type fakeConn struct {
	mu        sync.Mutex
	toPeer    bytes.Buffer
	fromPeer  bytes.Buffer
	infoBytes []byte
	blockSize int
	reject    bool
	served    int
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fromPeer.Len() == 0 {
		c.serveNextRequestLocked()
	}
	return c.fromPeer.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toPeer.Write(p)
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) serveNextRequestLocked() {
	if _, err := peerwire.ReadMessage(&c.toPeer); err != nil {
		return
	}
	idx := c.served
	c.served++

	if c.reject {
		c.fromPeer.Write(rejectMessage(idx).Serialize())
		return
	}

	blockSize := c.blockSize
	if blockSize <= 0 {
		blockSize = defaultMetadataBlockSize
	}
	begin := idx * blockSize
	end := begin + blockSize
	if end > len(c.infoBytes) {
		end = len(c.infoBytes)
	}
	c.fromPeer.Write(dataMessage(idx, len(c.infoBytes), c.infoBytes[begin:end]).Serialize())
}

type metadataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

func dataMessage(piece, totalSize int, block []byte) *peerwire.Message {
	var buf bytes.Buffer
	_ = bencode.Marshal(&buf, metadataHeader{MsgType: 1, Piece: piece, TotalSize: totalSize})
	payload := append([]byte{peerwire.LocalUTMetadataID}, buf.Bytes()...)
	payload = append(payload, block...)
	return &peerwire.Message{ID: peerwire.Extended, Payload: payload}
}

func rejectMessage(piece int) *peerwire.Message {
	var buf bytes.Buffer
	_ = bencode.Marshal(&buf, metadataHeader{MsgType: 2, Piece: piece})
	payload := append([]byte{peerwire.LocalUTMetadataID}, buf.Bytes()...)
	return &peerwire.Message{ID: peerwire.Extended, Payload: payload}
}

func TestFetchAssemblesAndVerifiesMetadata(t *testing.T) {
	infoBytes := []byte("d6:lengthi10e4:name4:test12:piece lengthi4e6:pieces60:" + string(bytes.Repeat([]byte{0xab}, 60)) + "e")
	hash := sha1.Sum(infoBytes)

	conn := &fakeConn{infoBytes: infoBytes}
	info, err := Fetch(conn, 5, len(infoBytes), 0, hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, hash, info.InfoHash)
	assert.EqualValues(t, 10, info.Length)
}

func TestFetchRejectsNonPositiveMetadataSize(t *testing.T) {
	conn := &fakeConn{}
	_, err := Fetch(conn, 5, 0, 0, [20]byte{}, time.Second)
	assert.Error(t, err)
}

func TestFetchFailsOnReject(t *testing.T) {
	infoBytes := []byte("d6:lengthi10e4:name4:test12:piece lengthi4e6:pieces0:e")
	conn := &fakeConn{infoBytes: infoBytes, reject: true}
	_, err := Fetch(conn, 5, len(infoBytes), 0, [20]byte{}, time.Second)
	assert.Error(t, err)
}

func TestFetchHonorsConfiguredBlockSize(t *testing.T) {
	infoBytes := []byte("d6:lengthi10e4:name4:test12:piece lengthi4e6:pieces60:" + string(bytes.Repeat([]byte{0xab}, 60)) + "e")
	hash := sha1.Sum(infoBytes)

	conn := &fakeConn{infoBytes: infoBytes, blockSize: 8}
	info, err := Fetch(conn, 5, len(infoBytes), 8, hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, hash, info.InfoHash)
	assert.Equal(t, (len(infoBytes)+7)/8, conn.served)
}
