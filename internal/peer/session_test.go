package peer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcheviron/gobittorrent/internal/metainfo"
	"github.com/mcheviron/gobittorrent/internal/peerwire"
)

func sampleMetainfo(t *testing.T, pieceData [][]byte) *metainfo.Metainfo {
	t.Helper()
	var pieces strings.Builder
	var total int
	for _, p := range pieceData {
		h := sha1.Sum(p)
		pieces.Write(h[:])
		total += len(p)
	}
	pieceLength := len(pieceData[0])
	src := "d8:announce3:url4:infod6:lengthi" + itoa(total) + "e4:name4:test12:piece lengthi" +
		itoa(pieceLength) + "e6:pieces" + itoa(pieces.Len()) + ":" + pieces.String() + "ee"
	m, err := metainfo.ParseBytes([]byte(src))
	require.NoError(t, err)
	return m
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// fakePeer drives the server side of a net.Pipe connection, performing
// the handshake and then the bitfield/unchoke/piece exchange the session
// under test expects.
func fakePeer(t *testing.T, conn net.Conn, infoHash [20]byte, pieceData []byte, done chan<- error) {
	t.Helper()
	go func() {
		buf := make([]byte, 68)
		if _, err := io.ReadFull(conn, buf); err != nil {
			done <- err
			return
		}
		reply := peerwire.Handshake{InfoHash: infoHash, PeerID: infoHash}
		if _, err := conn.Write(reply.Encode()); err != nil {
			done <- err
			return
		}

		if err := peerwire.WriteMessage(conn, &peerwire.Message{ID: peerwire.Bitfield, Payload: []byte{0xFF}}); err != nil {
			done <- err
			return
		}

		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			done <- err
			return
		}
		if msg.ID != peerwire.Interested {
			done <- assertErr("expected interested")
			return
		}
		if err := peerwire.WriteMessage(conn, &peerwire.Message{ID: peerwire.Unchoke}); err != nil {
			done <- err
			return
		}

		const block = blockSize
		for offset := 0; offset < len(pieceData); offset += block {
			reqMsg, err := peerwire.ReadMessage(conn)
			if err != nil {
				done <- err
				return
			}
			if reqMsg.ID != peerwire.Request {
				done <- assertErr("expected request")
				return
			}
			req, err := peerwire.DecodeRequest(reqMsg.Payload)
			if err != nil {
				done <- err
				return
			}
			end := int(req.Begin) + int(req.Length)
			payload := peerwire.EncodePiece(req.Index, req.Begin, pieceData[req.Begin:end])
			if err := peerwire.WriteMessage(conn, &peerwire.Message{ID: peerwire.Piece, Payload: payload}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestSessionFullDownloadPieceFlow(t *testing.T) {
	piece0 := bytes.Repeat([]byte{0xAB}, 5)
	m := sampleMetainfo(t, [][]byte{piece0})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := m.InfoHash()
	done := make(chan error, 1)
	fakePeer(t, serverConn, infoHash, piece0, done)

	s, err := NewSession(clientConn, m, "-GB0001-123456789012")
	require.NoError(t, err)
	s.ReadTimeout = 0

	require.NoError(t, s.AwaitBitfield(context.Background()))
	require.NoError(t, s.EnterUnchoked(context.Background()))

	var out bytes.Buffer
	require.NoError(t, s.DownloadPiece(context.Background(), 0, &out))
	assert.Equal(t, piece0, out.Bytes())

	require.NoError(t, <-done)
}

func TestSessionDownloadPieceRejectsBadIndex(t *testing.T) {
	piece0 := bytes.Repeat([]byte{0x01}, 4)
	m := sampleMetainfo(t, [][]byte{piece0})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := m.InfoHash()
	done := make(chan error, 1)
	fakePeer(t, serverConn, infoHash, piece0, done)

	s, err := NewSession(clientConn, m, "-GB0001-123456789012")
	require.NoError(t, err)
	s.ReadTimeout = 0
	require.NoError(t, s.AwaitBitfield(context.Background()))
	require.NoError(t, s.EnterUnchoked(context.Background()))

	var out bytes.Buffer
	err = s.DownloadPiece(context.Background(), 5, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPieceIndex)
}

func TestSessionDownloadPieceDetectsHashMismatch(t *testing.T) {
	piece0 := bytes.Repeat([]byte{0x01}, 4)
	m := sampleMetainfo(t, [][]byte{piece0})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := m.InfoHash()
	done := make(chan error, 1)
	// Serve different bytes than what the hash was computed over.
	fakePeer(t, serverConn, infoHash, bytes.Repeat([]byte{0x02}, 4), done)

	s, err := NewSession(clientConn, m, "-GB0001-123456789012")
	require.NoError(t, err)
	s.ReadTimeout = 0
	require.NoError(t, s.AwaitBitfield(context.Background()))
	require.NoError(t, s.EnterUnchoked(context.Background()))

	var out bytes.Buffer
	err = s.DownloadPiece(context.Background(), 0, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPieceHashMismatch)
	assert.Equal(t, 0, out.Len(), "caller's sink must not see bytes on hash mismatch")
}
