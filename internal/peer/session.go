// Package peer drives a single TCP connection to one peer through the
// handshake and choke/interested/bitfield/request/piece state
// progression, issuing block requests and verifying each assembled
// piece's SHA-1 against the torrent's metainfo.
package peer

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	bitmap "github.com/boljen/go-bitmap"

	"github.com/mcheviron/gobittorrent/internal/metainfo"
	"github.com/mcheviron/gobittorrent/internal/peerwire"
)

// blockSize is the fixed 16 KiB unit of request on the peer wire.
const blockSize = 16 * 1024

type state int

const (
	stateFresh state = iota
	stateHandshaked
	stateHaveBitfield
	stateUnchoked
	stateClosed
)

var (
	// ErrPeerChoked is returned when the peer chokes us, either before
	// or during a download; re-interesting is a documented non-goal (see
	// DESIGN.md), so this is treated as fatal to the session.
	ErrPeerChoked = errors.New("peer: peer choked the connection")
	// ErrProtocolDesync is returned when a message other than the
	// expected kind (ignoring have/keep-alive) arrives mid-exchange.
	ErrProtocolDesync = errors.New("peer: unexpected message during exchange")
	// ErrPieceHashMismatch is returned when an assembled piece's SHA-1
	// does not match the metainfo's recorded hash.
	ErrPieceHashMismatch = errors.New("peer: piece hash mismatch")
	// ErrInvalidPieceIndex is returned for a piece index outside
	// [0, PieceCount).
	ErrInvalidPieceIndex = errors.New("peer: invalid piece index")
	// ErrPeerTimeout is returned when a read exceeds the session's
	// configured deadline.
	ErrPeerTimeout = errors.New("peer: timed out waiting for peer")
	// ErrWrongState is returned when an operation is attempted outside
	// the state it requires.
	ErrWrongState = errors.New("peer: operation not valid in current state")
)

// Session owns one TCP connection to one peer, the peer's reported
// bitfield, and the handshake/choke state machine described in the
// package doc comment.
type Session struct {
	conn     net.Conn
	m        *metainfo.Metainfo
	peerID   [20]byte
	bitfield bitmap.Bitmap
	state    state

	ReadTimeout time.Duration
}

const defaultReadTimeout = 30 * time.Second

// Dial connects to addr and performs the handshake, returning a Session
// in the Handshaked state.
func Dial(ctx context.Context, addr string, m *metainfo.Metainfo, myPeerID string) (*Session, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}
	s, err := NewSession(conn, m, myPeerID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession performs the handshake over an already-connected conn.
func NewSession(conn net.Conn, m *metainfo.Metainfo, myPeerID string) (*Session, error) {
	s := &Session{
		conn:        conn,
		m:           m,
		state:       stateFresh,
		ReadTimeout: defaultReadTimeout,
	}
	infoHash := m.InfoHash()
	if err := s.setDeadline(); err != nil {
		return nil, err
	}
	peerID, err := peerwire.DoHandshake(conn, infoHash, myPeerID)
	if err != nil {
		return nil, err
	}
	s.peerID = peerID
	s.state = stateHandshaked
	return s, nil
}

// PeerID returns the peer's self-reported 20-byte id from the handshake.
func (s *Session) PeerID() [20]byte { return s.peerID }

// Close closes the underlying socket. Safe to call on every exit path;
// calling it more than once is a no-op error that callers may ignore.
func (s *Session) Close() error {
	s.state = stateClosed
	return s.conn.Close()
}

func (s *Session) setDeadline() error {
	if s.ReadTimeout <= 0 {
		return nil
	}
	return s.conn.SetDeadline(time.Now().Add(s.ReadTimeout))
}

// watchContext races ctx against whatever blocking conn operation the
// caller is about to perform: net.Conn has no native context support, so
// cancellation is wired by forcing an immediate deadline on the conn the
// moment ctx is done, which unblocks the in-flight Read/Write with a
// timeout error. The caller must invoke the returned stop func once its
// operation returns, or the watcher goroutine leaks until ctx ends.
func (s *Session) watchContext(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (s *Session) readMessage(ctx context.Context) (*peerwire.Message, error) {
	if err := s.setDeadline(); err != nil {
		return nil, err
	}
	stop := s.watchContext(ctx)
	msg, err := peerwire.ReadMessage(s.conn)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrPeerTimeout, err)
		}
		return nil, err
	}
	return msg, nil
}

func (s *Session) writeMessage(ctx context.Context, msg *peerwire.Message) error {
	if err := s.setDeadline(); err != nil {
		return err
	}
	stop := s.watchContext(ctx)
	err := peerwire.WriteMessage(s.conn, msg)
	stop()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// AwaitBitfield reads messages until the peer's bitfield is known: the
// first post-handshake message is expected to be `bitfield`, but a peer
// that opens instead with a `have` message (some do, to avoid sending an
// all-zero bitfield) is tolerated: that first `have` is applied to a
// freshly-allocated bitmap and the session advances. Later `have`
// messages are skipped without updating the bitmap.
func (s *Session) AwaitBitfield(ctx context.Context) error {
	if s.state != stateHandshaked {
		return fmt.Errorf("%w: AwaitBitfield requires Handshaked, got state %d", ErrWrongState, s.state)
	}
	s.bitfield = bitmap.New(s.m.PieceCount())

	for {
		msg, err := s.readMessage(ctx)
		if err != nil {
			return err
		}
		switch msg.ID {
		case peerwire.KeepAlive:
			continue
		case peerwire.Bitfield:
			s.applyBitfield(msg.Payload)
			s.state = stateHaveBitfield
			return nil
		case peerwire.Have:
			idx, err := peerwire.DecodeHave(msg.Payload)
			if err != nil {
				return err
			}
			s.bitfield.Set(int(idx), true)
			s.state = stateHaveBitfield
			return nil
		default:
			return fmt.Errorf("%w: expected bitfield or have, got %s", ErrProtocolDesync, msg.ID)
		}
	}
}

func (s *Session) applyBitfield(payload []byte) {
	for i := 0; i < s.m.PieceCount(); i++ {
		byteIdx := i / 8
		if byteIdx >= len(payload) {
			break
		}
		bit := payload[byteIdx] & (1 << (7 - uint(i%8)))
		if bit != 0 {
			s.bitfield.Set(i, true)
		}
	}
}

// Bitfield returns the peer's piece-availability bitmap (nil before
// AwaitBitfield has run).
func (s *Session) Bitfield() bitmap.Bitmap { return s.bitfield }

// HasPiece reports whether the peer's known bitfield claims piece i. If
// the bitfield has not been read yet it reports true (optimistic), since
// some peers skip the bitfield entirely and rely on have.
func (s *Session) HasPiece(i int) bool {
	if s.bitfield == nil {
		return true
	}
	return s.bitfield.Get(i)
}

// EnterUnchoked sends `interested` and blocks until `unchoke`, ignoring
// interleaved `have` and keep-alive frames. A `choke` surfaces as
// ErrPeerChoked.
func (s *Session) EnterUnchoked(ctx context.Context) error {
	if s.state != stateHaveBitfield {
		return fmt.Errorf("%w: EnterUnchoked requires HaveBitfield, got state %d", ErrWrongState, s.state)
	}
	if err := s.writeMessage(ctx, &peerwire.Message{ID: peerwire.Interested}); err != nil {
		return fmt.Errorf("peer: send interested: %w", err)
	}

	for {
		msg, err := s.readMessage(ctx)
		if err != nil {
			return err
		}
		switch msg.ID {
		case peerwire.KeepAlive, peerwire.Have:
			continue
		case peerwire.Unchoke:
			s.state = stateUnchoked
			return nil
		case peerwire.Choke:
			return ErrPeerChoked
		default:
			return fmt.Errorf("%w: expected unchoke, got %s", ErrProtocolDesync, msg.ID)
		}
	}
}

// DownloadPiece fetches piece i block by block (16 KiB requests, one
// outstanding at a time), verifies its SHA-1 against the metainfo, and
// writes it to sink only once verified in full — a hash mismatch never
// lets partial or corrupt bytes reach the caller's sink.
func (s *Session) DownloadPiece(ctx context.Context, i int, sink io.Writer) error {
	if s.state != stateUnchoked {
		return fmt.Errorf("%w: DownloadPiece requires Unchoked, got state %d", ErrWrongState, s.state)
	}
	if i < 0 || i >= s.m.PieceCount() {
		return fmt.Errorf("%w: %d", ErrInvalidPieceIndex, i)
	}

	pieceLen := s.m.PieceLength(i)
	scratch := make([]byte, pieceLen)
	hasher := sha1.New()

	var offset int64
	for offset < pieceLen {
		reqLen := int64(blockSize)
		if remaining := pieceLen - offset; remaining < reqLen {
			reqLen = remaining
		}
		if err := s.requestBlock(ctx, i, offset, reqLen, scratch); err != nil {
			return err
		}
		offset += reqLen
	}

	hasher.Write(scratch)
	var sum [20]byte
	copy(sum[:], hasher.Sum(nil))
	expected := s.m.PieceHash(i)
	if sum != expected {
		return fmt.Errorf("%w: piece %d", ErrPieceHashMismatch, i)
	}

	_, err := sink.Write(scratch)
	return err
}

func (s *Session) requestBlock(ctx context.Context, index int, begin, length int64, scratch []byte) error {
	req := &peerwire.Message{
		ID:      peerwire.Request,
		Payload: peerwire.EncodeRequest(uint32(index), uint32(begin), uint32(length)),
	}
	if err := s.writeMessage(ctx, req); err != nil {
		return fmt.Errorf("peer: send request: %w", err)
	}

	for {
		msg, err := s.readMessage(ctx)
		if err != nil {
			return err
		}
		switch msg.ID {
		case peerwire.KeepAlive, peerwire.Have:
			continue
		case peerwire.Choke:
			return ErrPeerChoked
		case peerwire.Piece:
			p, err := peerwire.DecodePiece(msg.Payload)
			if err != nil {
				return err
			}
			if int(p.Index) != index || int64(p.Begin) != begin {
				return fmt.Errorf("%w: expected piece %d/%d, got %d/%d", ErrProtocolDesync, index, begin, p.Index, p.Begin)
			}
			copy(scratch[begin:], p.Block)
			return nil
		default:
			return fmt.Errorf("%w: expected piece, got %s", ErrProtocolDesync, msg.ID)
		}
	}
}
