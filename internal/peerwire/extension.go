package peerwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// LocalUTMetadataID is the extended message id this client assigns to
// ut_metadata in its own extension handshake. Only one extension is
// supported, so a fixed id is fine.
const LocalUTMetadataID = 1

// extensionHandshakePayload mirrors BEP-10's handshake dictionary.
// jackpal/bencode-go's struct-tag marshal/unmarshal is a good fit
// here, unlike the info-hash path, because this dictionary is small,
// fully typed, and never needs byte-exact round-tripping.
type extensionHandshakePayload struct {
	M            map[string]int `bencode:"m"`
	MetadataSize int            `bencode:"metadata_size,omitempty"`
}

// ExtensionHandshake is the parsed form of a peer's BEP-10 handshake.
type ExtensionHandshake struct {
	// SupportedIDs maps extension name to the extended-message id the
	// peer wants it sent under.
	SupportedIDs map[string]int
	MetadataSize int
}

// UTMetadataID returns the id the peer assigned to ut_metadata, or
// false if it didn't advertise support.
func (h ExtensionHandshake) UTMetadataID() (int, bool) {
	id, ok := h.SupportedIDs["ut_metadata"]
	return id, ok
}

// BuildExtensionHandshake builds the Extended(id=0) message this
// client sends, advertising ut_metadata under LocalUTMetadataID.
func BuildExtensionHandshake(metadataSize int) (*Message, error) {
	payload := extensionHandshakePayload{
		M:            map[string]int{"ut_metadata": LocalUTMetadataID},
		MetadataSize: metadataSize,
	}
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, payload); err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "encoding extension handshake", err)
	}
	body := append([]byte{0}, buf.Bytes()...) // extended-id 0 = handshake
	return &Message{ID: Extended, Payload: body}, nil
}

// ParseExtensionHandshake parses an Extended(id=0) message's payload.
func ParseExtensionHandshake(m *Message) (*ExtensionHandshake, error) {
	if m.ID != Extended {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("expected Extended, got %s", m.ID))
	}
	if len(m.Payload) < 1 || m.Payload[0] != 0 {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, "expected extended-id 0 (handshake)")
	}
	var decoded extensionHandshakePayload
	if err := bencode.Unmarshal(bytes.NewReader(m.Payload[1:]), &decoded); err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "decoding extension handshake", err)
	}
	return &ExtensionHandshake{SupportedIDs: decoded.M, MetadataSize: decoded.MetadataSize}, nil
}

// --- ut_metadata (BEP-9) request/response/reject ---

const (
	metadataMsgTypeRequest = 0
	metadataMsgTypeData    = 1
	metadataMsgTypeReject  = 2
)

type metadataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

// BuildMetadataRequest builds the Extended message requesting metadata
// piece index, to be sent with extended-id = the peer's advertised
// ut_metadata id.
func BuildMetadataRequest(peerExtendedID byte, piece int) *Message {
	header := metadataHeader{MsgType: metadataMsgTypeRequest, Piece: piece}
	var buf bytes.Buffer
	// Marshal error is impossible for this static shape; ignore it.
	_ = bencode.Marshal(&buf, header)
	body := append([]byte{peerExtendedID}, buf.Bytes()...)
	return &Message{ID: Extended, Payload: body}
}

// MetadataPieceResult is a decoded ut_metadata data or reject message.
type MetadataPieceResult struct {
	Piece     int
	TotalSize int
	Data      []byte // nil for a reject
	Rejected  bool
}

// ParseMetadataPiece decodes an Extended message sent under our local
// ut_metadata id, distinguishing data from reject and slicing the
// trailing raw block (bencode's reader-position trick: decoding the
// header dictionary via a bytes.Reader leaves exactly the raw block
// bytes unread).
func ParseMetadataPiece(m *Message) (*MetadataPieceResult, error) {
	if m.ID != Extended {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("expected Extended, got %s", m.ID))
	}
	if len(m.Payload) < 2 {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, "metadata message too short")
	}
	if m.Payload[0] != LocalUTMetadataID {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, "metadata message on unexpected extended id")
	}
	r := bytes.NewReader(m.Payload[1:])
	var header metadataHeader
	if err := bencode.Unmarshal(r, &header); err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "decoding metadata message header", err)
	}
	trailing, err := io.ReadAll(r)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.IoError, "reading metadata trailing block", err)
	}

	switch header.MsgType {
	case metadataMsgTypeData:
		return &MetadataPieceResult{Piece: header.Piece, TotalSize: header.TotalSize, Data: trailing}, nil
	case metadataMsgTypeReject:
		return &MetadataPieceResult{Piece: header.Piece, Rejected: true}, nil
	default:
		return nil, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("unexpected ut_metadata msg_type %d", header.MsgType))
	}
}
