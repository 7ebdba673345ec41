// Package storage verifies downloaded piece bytes against their
// expected SHA-1 hash and writes them to their positional location in
// one or more output files.
package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// Verify checks piece bytes against the expected hash.
func Verify(data []byte, expected [20]byte) error {
	got := sha1.Sum(data)
	if got != expected {
		return torrenterr.New(torrenterr.HashMismatch, "piece hash mismatch")
	}
	return nil
}

// Writer serializes positional writes into a single output file or,
// for multi-file layouts, across the files implied by info.Files and
// info.Offsets.
type Writer struct {
	mu    sync.Mutex
	info  *metainfo.Info
	files []*os.File // one entry for single-file layouts
}

// Open creates (or truncates) the output destination at out: for a
// single-file torrent, out is the exact destination file path; for a
// multi-file torrent, out is the destination directory under which a
// subdirectory named info.Name is created, mirroring info.Files.
func Open(info *metainfo.Info, out string) (*Writer, error) {
	w := &Writer{info: info}
	if !info.IsMultiFile() {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, torrenterr.Wrap(torrenterr.IoError, "creating output directory", err)
		}
		f, err := openSized(out, info.Length)
		if err != nil {
			return nil, err
		}
		w.files = []*os.File{f}
		return w, nil
	}

	root := filepath.Join(out, info.Name)
	for _, fe := range info.Files {
		parts := append([]string{root}, fe.Path...)
		path := filepath.Join(parts...)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, torrenterr.Wrap(torrenterr.IoError, "creating output directory", err)
		}
		f, err := openSized(path, fe.Length)
		if err != nil {
			return nil, err
		}
		w.files = append(w.files, f)
	}
	return w, nil
}

func openSized(path string, length int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.IoError, "opening output file", err)
	}
	if err := f.Truncate(length); err != nil {
		f.Close()
		return nil, torrenterr.Wrap(torrenterr.IoError, "sizing output file", err)
	}
	return f, nil
}

// WritePiece writes a verified piece's bytes at its positional offset,
// splitting across file boundaries for multi-file layouts. Writes are
// serialized: only one piece may be in flight at a time.
func (w *Writer) WritePiece(index int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	begin, _ := w.info.PieceBounds(index)
	if !w.info.IsMultiFile() {
		if _, err := w.files[0].WriteAt(data, begin); err != nil {
			return torrenterr.Wrap(torrenterr.IoError, "writing piece", err)
		}
		return nil
	}
	return w.writeMultiFile(begin, data)
}

// writeMultiFile splits data (starting at absolute offset streamOffset
// within the concatenated content stream) across whichever files its
// range overlaps, using info.Offsets as the cumulative boundary table.
func (w *Writer) writeMultiFile(streamOffset int64, data []byte) error {
	remaining := data
	pos := streamOffset
	for i, fe := range w.info.Files {
		fileStart := w.info.Offsets[i]
		fileEnd := fileStart + fe.Length
		if pos >= fileEnd {
			continue
		}
		if len(remaining) == 0 {
			break
		}
		writeAt := pos - fileStart
		avail := fileEnd - pos
		n := int64(len(remaining))
		if n > avail {
			n = avail
		}
		if _, err := w.files[i].WriteAt(remaining[:n], writeAt); err != nil {
			return torrenterr.Wrap(torrenterr.IoError, "writing piece across file boundary", err)
		}
		remaining = remaining[n:]
		pos += n
	}
	if len(remaining) != 0 {
		return torrenterr.New(torrenterr.IoError, "piece data ran past end of file layout")
	}
	return nil
}

// Close closes every underlying file handle.
func (w *Writer) Close() error {
	var firstErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = torrenterr.Wrap(torrenterr.IoError, "closing output file", err)
		}
	}
	return firstErr
}
