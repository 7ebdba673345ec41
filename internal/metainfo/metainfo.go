// Package metainfo provides a typed view over a decoded bencode info
// dictionary, including the info-hash computed over the exact
// bencoded bytes of the info sub-dictionary (never a re-encoding).
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/corvidlabs/gobittorrent/internal/bencode"
	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// FileEntry describes one file within a multi-file torrent.
type FileEntry struct {
	Path   []string // path components, root-relative
	Length int64
}

// Info is a typed view over a torrent's info dictionary plus the
// announce URL carried alongside it in the .torrent file.
type Info struct {
	Announce string

	InfoHash [20]byte

	Name        string
	PieceLength int64
	PieceHashes [][20]byte

	// Length is the single-file length, or the sum of Files' lengths
	// for a multi-file layout.
	Length int64

	// Files is nil for a single-file torrent. For a multi-file
	// torrent it is the ordered file list, and Offsets[i] is the
	// cumulative byte offset (within the concatenated piece stream)
	// at which Files[i] begins.
	Files   []FileEntry
	Offsets []int64
}

// IsMultiFile reports whether this torrent has more than one file.
func (info *Info) IsMultiFile() bool {
	return info.Files != nil
}

// PieceCount returns the number of pieces implied by Length and
// PieceLength; it must equal len(PieceHashes) (spec's metainfo
// invariant).
func (info *Info) PieceCount() int {
	if info.PieceLength == 0 {
		return 0
	}
	return int((info.Length + info.PieceLength - 1) / info.PieceLength)
}

// PieceBounds returns the [begin, end) byte range of piece index
// within the concatenated content stream.
func (info *Info) PieceBounds(index int) (begin, end int64) {
	begin = int64(index) * info.PieceLength
	end = begin + info.PieceLength
	if end > info.Length {
		end = info.Length
	}
	return begin, end
}

// PieceLen returns the length of piece index, accounting for a
// shorter final piece.
func (info *Info) PieceLen(index int) int64 {
	begin, end := info.PieceBounds(index)
	return end - begin
}

// Parse decodes a .torrent file's bytes into an Info, computing the
// info-hash from the exact bencoded bytes of the "info" key rather
// than by re-encoding the parsed struct.
func Parse(raw []byte) (*Info, error) {
	top, _, err := bencode.Decode(raw, 0)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "decoding torrent file", err)
	}
	topDict, ok := top.(*bencode.Dict)
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "top-level bencode value is not a dictionary")
	}

	infoStart, infoEnd, ok := topDict.Span("info")
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "missing info dictionary")
	}
	infoBytes := raw[infoStart:infoEnd]
	hash := sha1.Sum(infoBytes)

	infoVal, _ := topDict.Get("info")
	infoDict, ok := infoVal.(*bencode.Dict)
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "info value is not a dictionary")
	}

	announce, _ := getString(topDict, "announce")

	name, _ := getString(infoDict, "name")

	pieceLength, ok := getInt(infoDict, "piece length")
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "info missing piece length")
	}

	piecesRaw, ok := getString(infoDict, "pieces")
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "info missing pieces")
	}
	pieceHashes, err := splitPieceHashes(piecesRaw)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Announce:    announce,
		InfoHash:    hash,
		Name:        name,
		PieceLength: pieceLength,
		PieceHashes: pieceHashes,
	}

	if length, ok := getInt(infoDict, "length"); ok {
		info.Length = length
	} else if filesVal, ok := infoDict.Get("files"); ok {
		files, total, err := parseFiles(filesVal)
		if err != nil {
			return nil, err
		}
		info.Files = files
		info.Length = total
		info.Offsets = cumulativeOffsets(files)
	} else {
		return nil, torrenterr.New(torrenterr.Malformed, "info has neither length nor files")
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// ParseInfoBytes builds an Info directly from the raw bytes of an
// info dictionary (no surrounding {announce, info} wrapper), as
// assembled from ut_metadata pieces during the magnet flow. It
// verifies the bytes hash to expectedHash before trusting them.
func ParseInfoBytes(infoBytes []byte, expectedHash [20]byte) (*Info, error) {
	hash := sha1.Sum(infoBytes)
	if hash != expectedHash {
		return nil, torrenterr.New(torrenterr.HashMismatch, "assembled metadata does not match magnet info-hash")
	}
	val, n, err := bencode.Decode(infoBytes, 0)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "decoding assembled metadata", err)
	}
	if n != len(infoBytes) {
		return nil, torrenterr.New(torrenterr.Malformed, "trailing bytes after assembled metadata")
	}
	infoDict, ok := val.(*bencode.Dict)
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "assembled metadata is not a dictionary")
	}

	name, _ := getString(infoDict, "name")
	pieceLength, ok := getInt(infoDict, "piece length")
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "info missing piece length")
	}
	piecesRaw, ok := getString(infoDict, "pieces")
	if !ok {
		return nil, torrenterr.New(torrenterr.Malformed, "info missing pieces")
	}
	pieceHashes, err := splitPieceHashes(piecesRaw)
	if err != nil {
		return nil, err
	}

	info := &Info{
		InfoHash:    expectedHash,
		Name:        name,
		PieceLength: pieceLength,
		PieceHashes: pieceHashes,
	}

	if length, ok := getInt(infoDict, "length"); ok {
		info.Length = length
	} else if filesVal, ok := infoDict.Get("files"); ok {
		files, total, err := parseFiles(filesVal)
		if err != nil {
			return nil, err
		}
		info.Files = files
		info.Length = total
		info.Offsets = cumulativeOffsets(files)
	} else {
		return nil, torrenterr.New(torrenterr.Malformed, "info has neither length nor files")
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// ParseReader reads the whole of r and parses it, for CLI and file
// based entry points.
func ParseReader(r io.Reader) (*Info, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.IoError, "reading torrent file", err)
	}
	return Parse(raw)
}

func (info *Info) validate() error {
	if info.PieceLength <= 0 {
		return torrenterr.New(torrenterr.Malformed, "piece length must be positive")
	}
	want := info.PieceCount()
	if want != len(info.PieceHashes) {
		return torrenterr.New(torrenterr.Malformed, fmt.Sprintf(
			"piece count mismatch: expected %d from length/piece_length, got %d hashes",
			want, len(info.PieceHashes)))
	}
	if len(info.PieceHashes) > 0 {
		lastLen := info.PieceLen(len(info.PieceHashes) - 1)
		if lastLen <= 0 || lastLen > info.PieceLength {
			return torrenterr.New(torrenterr.Malformed, "last piece length out of range")
		}
	}
	return nil
}

func splitPieceHashes(pieces string) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, torrenterr.New(torrenterr.Malformed, fmt.Sprintf("pieces length %d not a multiple of 20", len(pieces)))
	}
	n := len(pieces) / 20
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

func parseFiles(v interface{}) ([]FileEntry, int64, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, 0, torrenterr.New(torrenterr.Malformed, "files is not a list")
	}
	entries := make([]FileEntry, 0, len(list))
	var total int64
	for _, item := range list {
		fd, ok := item.(*bencode.Dict)
		if !ok {
			return nil, 0, torrenterr.New(torrenterr.Malformed, "file entry is not a dictionary")
		}
		length, ok := getInt(fd, "length")
		if !ok {
			return nil, 0, torrenterr.New(torrenterr.Malformed, "file entry missing length")
		}
		pathVal, ok := fd.Get("path")
		if !ok {
			return nil, 0, torrenterr.New(torrenterr.Malformed, "file entry missing path")
		}
		pathList, ok := pathVal.([]interface{})
		if !ok {
			return nil, 0, torrenterr.New(torrenterr.Malformed, "file entry path is not a list")
		}
		path := make([]string, 0, len(pathList))
		for _, p := range pathList {
			s, ok := p.(string)
			if !ok {
				return nil, 0, torrenterr.New(torrenterr.Malformed, "file entry path component is not a string")
			}
			path = append(path, s)
		}
		entries = append(entries, FileEntry{Path: path, Length: length})
		total += length
	}
	return entries, total, nil
}

func cumulativeOffsets(files []FileEntry) []int64 {
	offsets := make([]int64, len(files))
	var running int64
	for i, f := range files {
		offsets[i] = running
		running += f.Length
	}
	return offsets
}

func getString(d *bencode.Dict, key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getInt(d *bencode.Dict, key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}
