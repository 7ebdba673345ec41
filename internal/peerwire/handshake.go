// Package peerwire implements the BitTorrent peer wire protocol's
// binary framing: the fixed 68-byte handshake and the length-prefixed
// message frame, including the BEP-10 extension envelope.
package peerwire

import (
	"bytes"
	"io"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

const protocolID = "BitTorrent protocol"

// HandshakeLen is the fixed size of a handshake frame.
const HandshakeLen = 1 + len(protocolID) + 8 + 20 + 20

// extensionReservedByte and extensionBit encode BEP-10 support: bit 20
// from the right of the 8 reserved bytes, i.e. reserved[5] & 0x10.
const extensionReservedByte = 5
const extensionBit = 0x10

// Handshake is the fixed 68-byte frame that opens every peer
// connection.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake, setting the BEP-10 extension bit
// when supportsExtensions is true.
func NewHandshake(infoHash, peerID [20]byte, supportsExtensions bool) Handshake {
	h := Handshake{InfoHash: infoHash, PeerID: peerID}
	if supportsExtensions {
		h.Reserved[extensionReservedByte] |= extensionBit
	}
	return h
}

// SupportsExtensions reports whether the BEP-10 extension bit is set.
func (h Handshake) SupportsExtensions() bool {
	return h.Reserved[extensionReservedByte]&extensionBit != 0
}

// Encode serializes the handshake to its 68-byte wire form.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLen)
	cursor := 0
	buf[cursor] = byte(len(protocolID))
	cursor++
	cursor += copy(buf[cursor:], protocolID)
	cursor += copy(buf[cursor:], h.Reserved[:])
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads exactly 68 bytes from r and validates pstrlen
// and pstr. It does not check the info-hash; callers compare it
// against the torrent they're downloading.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, torrenterr.Wrap(torrenterr.IoError, "reading handshake", err)
	}
	return decodeHandshake(buf)
}

func decodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, torrenterr.New(torrenterr.HandshakeMismatch, "handshake has wrong length")
	}
	pstrlen := int(buf[0])
	if pstrlen != len(protocolID) {
		return Handshake{}, torrenterr.New(torrenterr.HandshakeMismatch, "unexpected pstrlen")
	}
	if !bytes.Equal(buf[1:1+pstrlen], []byte(protocolID)) {
		return Handshake{}, torrenterr.New(torrenterr.HandshakeMismatch, "unexpected pstr")
	}
	var h Handshake
	cursor := 1 + pstrlen
	copy(h.Reserved[:], buf[cursor:cursor+8])
	cursor += 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], buf[cursor:cursor+20])
	return h, nil
}

// VerifyInfoHash returns a HandshakeMismatch error if got != want.
func VerifyInfoHash(got, want [20]byte) error {
	if !bytes.Equal(got[:], want[:]) {
		return torrenterr.New(torrenterr.HandshakeMismatch, "peer info-hash does not match")
	}
	return nil
}
