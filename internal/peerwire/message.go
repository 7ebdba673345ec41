package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// ID identifies a peer wire message's payload shape.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitfieldMsg   ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Port          ID = 9
	Extended      ID = 20
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case BitfieldMsg:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case Port:
		return "Port"
	case Extended:
		return "Extended"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(id))
	}
}

// BlockRequestLen is the max allowed block length per spec's
// BlockRequest data model.
const BlockRequestLen = 16384

// maxMessageLen caps framing length to guard against a peer lying
// about a huge payload (spec.md section 4.5: "length exceeds a
// configured cap"). One MiB plus room for a maximal piece message.
const maxMessageLen = 1<<20 + BlockRequestLen + 16

// Message is a length-prefixed peer wire message. A nil *Message
// (returned alongside a nil error) represents a keepalive.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize encodes the message (or a keepalive, if m is nil) to its
// wire form: a 4-byte big-endian length prefix, optionally followed by
// a 1-byte id and the payload.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one length-prefixed message from r. A keepalive
// (zero length) decodes to (nil, nil).
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, torrenterr.Wrap(torrenterr.IoError, "reading message length prefix", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLen {
		return nil, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("message length %d exceeds cap", length))
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, torrenterr.Wrap(torrenterr.IoError, "reading message body", err)
	}
	return &Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

// WriteMessage serializes and writes m (or a keepalive if m is nil).
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Serialize())
	if err != nil {
		return torrenterr.Wrap(torrenterr.IoError, "writing message", err)
	}
	return nil
}

// --- typed payload builders/parsers ---

func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

func ParseHave(m *Message) (int, error) {
	if m.ID != Have {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("expected Have, got %s", m.ID))
	}
	if len(m.Payload) != 4 {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, "Have payload must be 4 bytes")
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

type RequestFields struct {
	Index, Begin, Length int
}

func ParseRequest(m *Message) (RequestFields, error) {
	if m.ID != Request && m.ID != Cancel {
		return RequestFields{}, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("expected Request/Cancel, got %s", m.ID))
	}
	if len(m.Payload) != 12 {
		return RequestFields{}, torrenterr.New(torrenterr.PeerProtocolError, "Request payload must be 12 bytes")
	}
	return RequestFields{
		Index:  int(binary.BigEndian.Uint32(m.Payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(m.Payload[4:8])),
		Length: int(binary.BigEndian.Uint32(m.Payload[8:12])),
	}, nil
}

func FormatCancel(index, begin, length int) *Message {
	msg := FormatRequest(index, begin, length)
	msg.ID = Cancel
	return msg
}

func FormatPiece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: Piece, Payload: payload}
}

// ApplyPiece validates a Piece message against the expected piece
// index and writes its block into buf at the message's offset. It
// returns the number of bytes written.
func ApplyPiece(expectedIndex int, buf []byte, m *Message) (int, error) {
	if m.ID != Piece {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("expected Piece, got %s", m.ID))
	}
	if len(m.Payload) < 8 {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, "Piece payload shorter than 8 bytes")
	}
	gotIndex := int(binary.BigEndian.Uint32(m.Payload[0:4]))
	if gotIndex != expectedIndex {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, fmt.Sprintf("piece index %d, expected %d", gotIndex, expectedIndex))
	}
	begin := int(binary.BigEndian.Uint32(m.Payload[4:8]))
	if begin < 0 || begin > len(buf) {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, "block begin outside piece bounds")
	}
	data := m.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, torrenterr.New(torrenterr.PeerProtocolError, "block runs past end of piece")
	}
	copy(buf[begin:], data)
	return len(data), nil
}
