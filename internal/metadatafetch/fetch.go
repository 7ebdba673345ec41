// Package metadatafetch implements the BEP-9 ut_metadata piece
// request/response state machine used to assemble a magnet link's
// info dictionary from a single peer.
package metadatafetch

import (
	"io"
	"time"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/peerwire"
	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// defaultMetadataBlockSize is BEP-9's fixed 16KiB metadata piece size.
// Fetch takes the block size as a parameter (config.Config's
// MetadataBlockSize) rather than assuming this constant, so tests can
// exercise the piece-boundary math with a smaller size.
const defaultMetadataBlockSize = 16384

// ReadWriteDeadliner is the subset of net.Conn this package needs: a
// peerwire message stream plus per-call read deadlines for the
// per-block request timeout.
type ReadWriteDeadliner interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Fetch drives the ut_metadata request/response loop against a single
// peer that has already completed its extension handshake, assembling
// and verifying the info dictionary against infoHash.
//
// peerExtendedID is the id the peer assigned to ut_metadata in its own
// handshake; metadataSize is the total byte length it advertised.
// blockSize is the per-piece size to request; zero falls back to
// BEP-9's standard 16KiB.
func Fetch(conn ReadWriteDeadliner, peerExtendedID byte, metadataSize, blockSize int, infoHash [20]byte, blockTimeout time.Duration) (*metainfo.Info, error) {
	if metadataSize <= 0 {
		return nil, torrenterr.New(torrenterr.Malformed, "peer advertised non-positive metadata_size")
	}
	if blockSize <= 0 {
		blockSize = defaultMetadataBlockSize
	}
	pieceCount := (metadataSize + blockSize - 1) / blockSize
	assembled := make([]byte, metadataSize)

	for piece := 0; piece < pieceCount; piece++ {
		req := peerwire.BuildMetadataRequest(peerExtendedID, piece)
		if err := peerwire.WriteMessage(conn, req); err != nil {
			return nil, err
		}

		if err := conn.SetReadDeadline(time.Now().Add(blockTimeout)); err != nil {
			return nil, torrenterr.Wrap(torrenterr.IoError, "setting metadata read deadline", err)
		}
		result, err := awaitMetadataPiece(conn, piece)
		if err != nil {
			return nil, err
		}
		if result.Rejected {
			return nil, torrenterr.New(torrenterr.PeerProtocolError, "peer rejected metadata piece request")
		}

		begin := piece * blockSize
		if begin+len(result.Data) > metadataSize {
			return nil, torrenterr.New(torrenterr.Malformed, "metadata piece overruns advertised size")
		}
		copy(assembled[begin:], result.Data)
	}

	return metainfo.ParseInfoBytes(assembled, infoHash)
}

// awaitMetadataPiece reads peer-wire messages, skipping any that are
// not the ut_metadata response we're waiting on, until it finds the
// requested piece or the connection errors out.
func awaitMetadataPiece(conn ReadWriteDeadliner, piece int) (*peerwire.MetadataPieceResult, error) {
	for {
		m, err := peerwire.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		if m == nil || m.ID != peerwire.Extended {
			continue
		}
		result, err := peerwire.ParseMetadataPiece(m)
		if err != nil {
			return nil, err
		}
		if result.Piece != piece {
			continue
		}
		return result, nil
	}
}
