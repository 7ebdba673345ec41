// Package session drives one peer connection through its state
// machine: connect, handshake, extension negotiation, optional
// metadata fetch, and steady-state block exchange.
package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvidlabs/gobittorrent/internal/bitfield"
	"github.com/corvidlabs/gobittorrent/internal/config"
	"github.com/corvidlabs/gobittorrent/internal/metadatafetch"
	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/peerwire"
	"github.com/corvidlabs/gobittorrent/internal/scheduler"
	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// Session owns one peer's socket and protocol state for its whole
// lifetime: Connecting -> Handshaking -> ExchangingExtensions ->
// (FetchingMetadata)? -> Exchanging -> Closed. There is no explicit
// state field; the sequence of method calls below is the state
// machine, mirroring the phases a caller must walk through in order.
type Session struct {
	conn net.Conn
	cfg  config.Config
	log  *logrus.Entry

	peerID, infoHash [20]byte
	remotePeerID     [20]byte

	amChoking, amInterested   bool
	peerChoking, peerInterest bool

	bf Bitfield

	peerSupportsExtensions bool
	peerUTMetadataID       int
	peerMetadataSize       int
}

// Bitfield is the subset of bitfield.Bitfield's behavior Session
// depends on; kept as an interface so tests can substitute a stub.
type Bitfield interface {
	Has(index int) bool
	Set(index int)
}

// Connect dials addr, performs the handshake, and negotiates BEP-10
// extensions. expectedInfoHash must already be known: for the
// metainfo flow it comes from the .torrent file; for the magnet flow
// it comes from the magnet URI itself (the info dict is fetched
// afterwards via FetchMetadata).
func Connect(addr string, peerID, expectedInfoHash [20]byte, cfg config.Config, log *logrus.Entry) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.Timeout, "connecting to peer", err)
	}

	s := &Session{
		conn:          conn,
		cfg:           cfg,
		log:           log,
		peerID:        peerID,
		infoHash:      expectedInfoHash,
		amChoking:     true,
		peerChoking:   true,
		amInterested:  false,
		peerInterest:  false,
	}

	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.negotiateExtensions(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) handshake() error {
	s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	ours := peerwire.NewHandshake(s.infoHash, s.peerID, true)
	if _, err := s.conn.Write(ours.Encode()); err != nil {
		return torrenterr.Wrap(torrenterr.IoError, "sending handshake", err)
	}

	theirs, err := peerwire.ReadHandshake(s.conn)
	if err != nil {
		s.logf("reading handshake failed: %v", err)
		return err
	}
	if err := peerwire.VerifyInfoHash(theirs.InfoHash, s.infoHash); err != nil {
		s.logf("peer info-hash mismatch")
		return err
	}
	s.remotePeerID = theirs.PeerID
	s.peerSupportsExtensions = theirs.SupportsExtensions()
	return nil
}

// PeerID returns the remote peer's id as received in its handshake.
func (s *Session) PeerID() [20]byte {
	return s.remotePeerID
}

// UTMetadataID returns the extended-message id the peer assigned to
// ut_metadata; only meaningful when SupportsUTMetadata is true.
func (s *Session) UTMetadataID() int {
	return s.peerUTMetadataID
}

// logf is a nil-safe logging helper: tests construct bare Sessions
// without a logger for unit-level coverage of DownloadPiece.
func (s *Session) logf(format string, args ...interface{}) {
	if s.log == nil {
		return
	}
	s.log.Debugf(format, args...)
}

// negotiateExtensions exchanges BEP-10 handshakes when both sides
// support them. It is not an error for a peer to lack extension
// support; callers that need metadata (the magnet flow) check
// SupportsUTMetadata themselves, and FetchMetadata fails with
// ExtensionUnsupported on a peer that lacks it.
func (s *Session) negotiateExtensions() error {
	if !s.peerSupportsExtensions {
		return nil
	}
	s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	ours, err := peerwire.BuildExtensionHandshake(0)
	if err != nil {
		return err
	}
	if err := peerwire.WriteMessage(s.conn, ours); err != nil {
		return err
	}

	m, err := peerwire.ReadMessage(s.conn)
	if err != nil {
		return err
	}
	if m == nil || m.ID != peerwire.Extended {
		return torrenterr.New(torrenterr.PeerProtocolError, "expected extension handshake")
	}
	theirs, err := peerwire.ParseExtensionHandshake(m)
	if err != nil {
		return err
	}
	if id, ok := theirs.UTMetadataID(); ok {
		s.peerUTMetadataID = id
		s.peerMetadataSize = theirs.MetadataSize
	}
	return nil
}

// SupportsUTMetadata reports whether the peer advertised ut_metadata
// support during extension negotiation.
func (s *Session) SupportsUTMetadata() bool {
	return s.peerUTMetadataID != 0
}

// FetchMetadata runs the BEP-9 ut_metadata request loop against this
// peer and returns the assembled, hash-verified Info.
func (s *Session) FetchMetadata() (*metainfo.Info, error) {
	if !s.SupportsUTMetadata() {
		return nil, torrenterr.New(torrenterr.ExtensionUnsupported, "peer does not support ut_metadata")
	}
	return metadatafetch.Fetch(s.conn, byte(s.peerUTMetadataID), s.peerMetadataSize, s.cfg.MetadataBlockSize, s.infoHash, s.cfg.BlockTimeout)
}

// AwaitBitfieldOrHaves resets the peer's bitfield to an empty one
// sized for pieceCount pieces and then reads a single message: a
// Bitfield replaces it (after its padding bits are checked), a Have
// sets one bit, and a keepalive or any other message leaves it empty.
// Later Have messages are applied by EnsureInterested and
// DownloadPiece; a Bitfield message that arrives after this call is
// not applied.
func (s *Session) AwaitBitfieldOrHaves(pieceCount int) error {
	s.bf = bitfield.New(pieceCount)
	s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	m, err := peerwire.ReadMessage(s.conn)
	if err != nil {
		return err
	}
	if m == nil {
		return nil // keepalive before any availability info; peer just has nothing yet.
	}
	switch m.ID {
	case peerwire.BitfieldMsg:
		bf := bitfield.Bitfield(m.Payload)
		if !bf.ValidatePadding(pieceCount) {
			return torrenterr.New(torrenterr.PeerProtocolError, "bitfield has non-zero padding bits")
		}
		s.bf = bf
	case peerwire.Have:
		index, err := peerwire.ParseHave(m)
		if err != nil {
			return err
		}
		s.bf.(bitfield.Bitfield).Set(index)
	case peerwire.Extended:
		// Some peers re-send extension chatter here; ignore and move on.
	default:
		// Unrelated protocol traffic before availability info is not
		// itself an error; just note it and continue waiting on the
		// next Exchanging-loop read.
	}
	return nil
}

// HasPiece reports whether the peer's known bitfield claims piece i.
func (s *Session) HasPiece(index int) bool {
	if s.bf == nil {
		return false
	}
	return s.bf.Has(index)
}

// EnsureInterested sends Interested once and blocks until the peer
// unchokes us, per spec.md section 4.6: "while peer_choking is true,
// do not send Request". While waiting it sends its own keepalives and
// drops the peer if it goes quiet, per readOrKeepalive.
func (s *Session) EnsureInterested() error {
	if !s.amInterested {
		if err := peerwire.WriteMessage(s.conn, &peerwire.Message{ID: peerwire.Interested}); err != nil {
			return err
		}
		s.amInterested = true
	}
	defer s.conn.SetDeadline(time.Time{})
	for s.peerChoking {
		m, err := s.readOrKeepalive()
		if err != nil {
			return err
		}
		if err := s.applyControlMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// readOrKeepalive reads the next peer-wire message, sending our own
// keepalive and retrying whenever cfg.KeepaliveInterval elapses with
// no traffic, and failing with Timeout once cfg.IdleDropTimeout has
// elapsed without a reply (spec.md section 4.6: "Keepalive every 2
// minutes of idleness; drop peer after 2 minutes without traffic").
func (s *Session) readOrKeepalive() (*peerwire.Message, error) {
	deadlineAt := time.Now().Add(s.cfg.IdleDropTimeout)
	for {
		step := s.cfg.KeepaliveInterval
		if remaining := time.Until(deadlineAt); remaining < step {
			step = remaining
		}
		if step <= 0 {
			return nil, torrenterr.New(torrenterr.Timeout, "peer idle past drop timeout")
		}
		s.conn.SetReadDeadline(time.Now().Add(step))
		m, err := peerwire.ReadMessage(s.conn)
		if err == nil {
			return m, nil
		}
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			return nil, err
		}
		if time.Now().After(deadlineAt) {
			return nil, torrenterr.New(torrenterr.Timeout, "peer idle past drop timeout")
		}
		s.logf("sending keepalive after %s idle", s.cfg.KeepaliveInterval)
		if werr := peerwire.WriteMessage(s.conn, nil); werr != nil {
			return nil, werr
		}
	}
}

func (s *Session) applyControlMessage(m *peerwire.Message) error {
	if m == nil {
		return nil
	}
	switch m.ID {
	case peerwire.Choke:
		s.peerChoking = true
	case peerwire.Unchoke:
		s.peerChoking = false
	case peerwire.Interested:
		s.peerInterest = true
	case peerwire.NotInterested:
		s.peerInterest = false
	case peerwire.Have:
		index, err := peerwire.ParseHave(m)
		if err != nil {
			return err
		}
		if s.bf != nil {
			s.bf.(bitfield.Bitfield).Set(index)
		}
	}
	return nil
}

// DownloadPiece runs the Exchanging loop for a single piece: requests
// blocks up to RequestWindow outstanding at a time, applies incoming
// Piece messages at their offset, and returns once the whole piece has
// arrived. A Choke mid-flight aborts the piece (spec.md section 4.6:
// "on Choke: drop the assignment, return piece to scheduler").
func (s *Session) DownloadPiece(desc scheduler.PieceDescriptor) ([]byte, error) {
	buf := make([]byte, desc.Length)
	var requested, received, outstanding int64

	s.conn.SetDeadline(time.Now().Add(s.cfg.BlockTimeout))
	defer s.conn.SetDeadline(time.Time{})

	for received < desc.Length {
		for outstanding < int64(s.cfg.RequestWindow) && requested < desc.Length {
			blockLen := int64(peerwire.BlockRequestLen)
			if desc.Length-requested < blockLen {
				blockLen = desc.Length - requested
			}
			req := peerwire.FormatRequest(desc.Index, int(requested), int(blockLen))
			if err := peerwire.WriteMessage(s.conn, req); err != nil {
				return nil, err
			}
			requested += blockLen
			outstanding++
		}

		m, err := peerwire.ReadMessage(s.conn)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue // keepalive
		}
		switch m.ID {
		case peerwire.Choke:
			s.peerChoking = true
			s.logf("peer choked mid-piece %d, %d/%d bytes received", desc.Index, received, desc.Length)
			return nil, torrenterr.New(torrenterr.PeerProtocolError, "peer choked mid-piece")
		case peerwire.Piece:
			n, err := peerwire.ApplyPiece(desc.Index, buf, m)
			if err != nil {
				return nil, err
			}
			received += int64(n)
			outstanding--
		default:
			if err := s.applyControlMessage(m); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// SendHave announces a completed piece to this peer.
func (s *Session) SendHave(index int) error {
	return peerwire.WriteMessage(s.conn, peerwire.FormatHave(index))
}

// Close closes the underlying connection. Any piece assignment the
// caller was mid-way through must be released to the scheduler by the
// caller; Session has no scheduler reference of its own.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.conn.RemoteAddr())
}
