package trackerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCompactPeers(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1a, 0xe1, 10, 0, 0, 2, 0x1a, 0xe2}
	peers, err := DecodeCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1", peers[0].IP.String())
	assert.EqualValues(t, 0x1ae1, peers[0].Port)
	assert.Equal(t, "10.0.0.2", peers[1].IP.String())
}

func TestDecodeCompactPeersSkipsTrailingPartialRecord(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1a, 0xe1, 9, 9, 9}
	peers, err := DecodeCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1", peers[0].IP.String())
}

func TestAnnounceParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "info_hash=%01%02")
		w.Write([]byte("d8:intervali1800e5:peers6:\x7f\x00\x00\x01\x1a\xe1e"))
	}))
	defer srv.Close()

	c := NewHTTPClient()
	var hash [20]byte
	hash[0] = 1
	hash[1] = 2
	var peerID [20]byte
	resp, err := c.Announce(context.Background(), AnnounceRequest{
		AnnounceURL: srv.URL,
		InfoHash:    hash,
		PeerID:      peerID,
		Port:        6881,
		Left:        100,
		Compact:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
}

func TestAnnounceRejectsNonHTTPScheme(t *testing.T) {
	c := NewHTTPClient()
	var hash, peerID [20]byte
	_, err := c.Announce(context.Background(), AnnounceRequest{AnnounceURL: "udp://tracker.example:80/announce", InfoHash: hash, PeerID: peerID})
	assert.Error(t, err)
}
