package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
)

func TestVerify(t *testing.T) {
	data := []byte("hello world")
	hash := sha1.Sum(data)
	assert.NoError(t, Verify(data, hash))

	hash[0] ^= 0xff
	assert.Error(t, Verify(data, hash))
}

func TestWriterSingleFile(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")
	info := &metainfo.Info{Name: "out.bin", PieceLength: 4, Length: 8}

	w, err := Open(info, outPath)
	require.NoError(t, err)

	require.NoError(t, w.WritePiece(0, []byte("abcd")))
	require.NoError(t, w.WritePiece(1, []byte("efgh")))
	require.NoError(t, w.Close())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(got))
}

func TestWriterMultiFileSplitsAcrossBoundary(t *testing.T) {
	dir := t.TempDir()
	files := []metainfo.FileEntry{
		{Path: []string{"a.txt"}, Length: 3},
		{Path: []string{"sub", "b.txt"}, Length: 5},
	}
	info := &metainfo.Info{
		Name:        "bundle",
		PieceLength: 4,
		Length:      8,
		Files:       files,
		Offsets:     []int64{0, 3},
	}

	w, err := Open(info, dir)
	require.NoError(t, err)

	// Piece 0 spans bytes [0,4): "abc" in a.txt, "d" in b.txt.
	require.NoError(t, w.WritePiece(0, []byte("abcd")))
	require.NoError(t, w.WritePiece(1, []byte("efgh")))
	require.NoError(t, w.Close())

	a, err := os.ReadFile(filepath.Join(dir, "bundle", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(a))

	b, err := os.ReadFile(filepath.Join(dir, "bundle", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "defgh", string(b))
}
