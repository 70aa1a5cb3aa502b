// Package peerwire implements the length-prefixed message framing used
// on a BitTorrent peer connection after the handshake: encoding and
// decoding the nine wire message kinds, plus keep-alive handling.
package peerwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a wire message's kind.
type MessageID byte

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8

	// KeepAlive is a synthetic ID surfaced by ReadMessage for a
	// zero-length frame. No peer ever sends this byte on the wire; it
	// exists so callers can observe and log liveness without the framer
	// silently looping past it (that is peer.Session's job, which needs
	// to re-arm read deadlines on every frame, keep-alives included).
	KeepAlive MessageID = 0xFF
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case KeepAlive:
		return "keep_alive"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// ErrInvalidMessage is returned for a message ID outside the nine known
// wire kinds.
var ErrInvalidMessage = errors.New("peerwire: invalid message id")

// Message is a single post-handshake wire message.
type Message struct {
	ID      MessageID
	Payload []byte
}

const maxMessageLength = 1 << 20 // generous bound against a malicious/buggy peer

// ReadMessage reads one length-prefixed frame from r. A zero-length
// frame (keep-alive) is returned as a Message with ID KeepAlive and a
// nil payload rather than being silently consumed, so callers that need
// to observe liveness can.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("peerwire: read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return &Message{ID: KeepAlive}, nil
	}
	if length > maxMessageLength {
		return nil, fmt.Errorf("%w: length %d exceeds maximum", ErrInvalidMessage, length)
	}

	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, fmt.Errorf("peerwire: read message id: %w", err)
	}
	id := MessageID(idBuf[0])
	if !validID(id) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessage, idBuf[0])
	}

	payloadLen := length - 1
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("peerwire: read payload: %w", err)
		}
	}
	return &Message{ID: id, Payload: payload}, nil
}

func validID(id MessageID) bool {
	return id <= Cancel
}

// WriteMessage writes m as a length-prefixed frame. A Message with ID
// KeepAlive writes the zero-length keep-alive frame (its Payload is
// ignored).
func WriteMessage(w io.Writer, m *Message) error {
	if m.ID == KeepAlive {
		var lenBuf [4]byte
		_, err := w.Write(lenBuf[:])
		return err
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// EncodeHave builds the 4-byte payload for a `have` message.
func EncodeHave(pieceIndex uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, pieceIndex)
	return buf
}

// DecodeHave reads the piece index out of a `have` message's payload.
func DecodeHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("peerwire: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// EncodeRequest builds the 12-byte payload shared by `request` and
// `cancel` messages.
func EncodeRequest(index, begin, length uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	binary.BigEndian.PutUint32(buf[8:12], length)
	return buf
}

// RequestPayload is the decoded form of a `request`/`cancel` payload.
type RequestPayload struct {
	Index, Begin, Length uint32
}

// DecodeRequest parses a `request`/`cancel` message's payload.
func DecodeRequest(payload []byte) (RequestPayload, error) {
	if len(payload) != 12 {
		return RequestPayload{}, fmt.Errorf("peerwire: request payload must be 12 bytes, got %d", len(payload))
	}
	return RequestPayload{
		Index:  binary.BigEndian.Uint32(payload[0:4]),
		Begin:  binary.BigEndian.Uint32(payload[4:8]),
		Length: binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

// PiecePayload is the decoded form of a `piece` message's payload.
type PiecePayload struct {
	Index, Begin uint32
	Block        []byte
}

// DecodePiece parses a `piece` message's payload.
func DecodePiece(payload []byte) (PiecePayload, error) {
	if len(payload) < 8 {
		return PiecePayload{}, fmt.Errorf("peerwire: piece payload must be at least 8 bytes, got %d", len(payload))
	}
	return PiecePayload{
		Index: binary.BigEndian.Uint32(payload[0:4]),
		Begin: binary.BigEndian.Uint32(payload[4:8]),
		Block: payload[8:],
	}, nil
}

// EncodePiece builds the payload for a `piece` message.
func EncodePiece(index, begin uint32, block []byte) []byte {
	buf := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	copy(buf[8:], block)
	return buf
}
