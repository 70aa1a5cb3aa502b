package peerwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	protocolName   = "BitTorrent protocol"
	handshakeSize  = 68
	infoHashOffset = 28
	peerIDOffset   = 48
)

// ErrHandshakeProtocol is returned when the peer's handshake does not
// carry the expected protocol length byte and string.
var ErrHandshakeProtocol = errors.New("peerwire: unexpected handshake protocol")

// ErrHandshakeInfoHashMismatch is returned when the peer's handshake
// info-hash does not match the one we sent.
var ErrHandshakeInfoHashMismatch = errors.New("peerwire: handshake info-hash mismatch")

// Handshake is the 68-byte fixed-layout message exchanged before any
// wire messages.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode renders h in the fixed 68-byte wire layout: protocol length
// (19), protocol string, 8 reserved zero bytes, info-hash, peer id.
func (h Handshake) Encode() []byte {
	buf := make([]byte, handshakeSize)
	buf[0] = byte(len(protocolName))
	copy(buf[1:], protocolName)
	// bytes 20:28 are reserved and left zero: no extension this client
	// implements sets a reserved bit.
	copy(buf[infoHashOffset:infoHashOffset+20], h.InfoHash[:])
	copy(buf[peerIDOffset:peerIDOffset+20], h.PeerID[:])
	return buf
}

// DecodeHandshake parses a 68-byte handshake message read off the wire.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != handshakeSize {
		return Handshake{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrHandshakeProtocol, handshakeSize, len(buf))
	}
	if int(buf[0]) != len(protocolName) || string(buf[1:1+len(protocolName)]) != protocolName {
		return Handshake{}, fmt.Errorf("%w: protocol string mismatch", ErrHandshakeProtocol)
	}
	var h Handshake
	copy(h.InfoHash[:], buf[infoHashOffset:infoHashOffset+20])
	copy(h.PeerID[:], buf[peerIDOffset:peerIDOffset+20])
	return h, nil
}

// DoHandshake writes our handshake to rw and reads the peer's reply,
// verifying protocol string and info-hash. Returns the peer's
// self-reported peer id.
func DoHandshake(rw io.ReadWriter, infoHash [20]byte, peerID string) ([20]byte, error) {
	var ourID [20]byte
	copy(ourID[:], peerID)

	out := Handshake{InfoHash: infoHash, PeerID: ourID}
	if _, err := rw.Write(out.Encode()); err != nil {
		return [20]byte{}, fmt.Errorf("peerwire: write handshake: %w", err)
	}

	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(rw, buf); err != nil {
		return [20]byte{}, fmt.Errorf("peerwire: read handshake: %w", err)
	}
	in, err := DecodeHandshake(buf)
	if err != nil {
		return [20]byte{}, err
	}
	if !bytes.Equal(in.InfoHash[:], infoHash[:]) {
		return [20]byte{}, ErrHandshakeInfoHashMismatch
	}
	return in.PeerID, nil
}
