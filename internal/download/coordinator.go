// Package download implements the bounded multi-peer worker pool that
// sits above a single internal/peer.Session: handing out piece indices
// to a rotation of discovered peers, retrying a piece on the next peer
// when one fails, and assembling completed pieces into the destination
// file in the correct order.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mcheviron/gobittorrent/internal/metainfo"
	"github.com/mcheviron/gobittorrent/internal/peer"
	"github.com/mcheviron/gobittorrent/internal/tracker"
)

// ErrNoPeersAvailable is returned once every peer in the rotation has
// failed for a given piece (dial, handshake, protocol or verification
// failure alike), the Go-idiomatic
// rendering of the distilled spec's ErrorConnectingToPeers.
var ErrNoPeersAvailable = errors.New("download: no peers available")

// Coordinator drives piece retrieval across a set of known peer
// addresses.
type Coordinator struct {
	PeerID      string
	WorkerCount int
}

// NewCoordinator builds a Coordinator with one worker per peer (the
// teacher's own worker-per-peer pool), capped at workerCap when
// positive.
func NewCoordinator(peerID string, workerCap int) *Coordinator {
	return &Coordinator{PeerID: peerID, WorkerCount: workerCap}
}

// DownloadPiece tries each peer in turn, stopping at the first
// successful handshake-and-verify, and returns ErrNoPeersAvailable if
// every peer fails.
func (c *Coordinator) DownloadPiece(ctx context.Context, m *metainfo.Metainfo, peers []tracker.PeerAddress, index int, sink io.Writer) error {
	var lastErr error
	for _, addr := range peers {
		if err := c.downloadPieceFromPeer(ctx, m, addr, index, sink); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no peers supplied")
	}
	return fmt.Errorf("%w: %v", ErrNoPeersAvailable, lastErr)
}

func (c *Coordinator) downloadPieceFromPeer(ctx context.Context, m *metainfo.Metainfo, addr tracker.PeerAddress, index int, sink io.Writer) error {
	s, err := peer.Dial(ctx, addr.String(), m, c.PeerID)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.AwaitBitfield(ctx); err != nil {
		return err
	}
	if err := s.EnterUnchoked(ctx); err != nil {
		return err
	}
	return s.DownloadPiece(ctx, index, sink)
}

type pieceJob struct {
	index int
}

type pieceOutcome struct {
	index int
	data  []byte
	err   error
}

// DownloadFile retrieves every piece of the torrent: workers, each bound
// to one peer (assigned round-robin), pull piece indices from a shared
// queue, and each completed piece is written to its correct offset in
// dst as soon as it is verified, regardless of completion order. When a
// worker's own peer fails a piece, that same worker retries the piece
// against each of the other peers in list order.
func (c *Coordinator) DownloadFile(ctx context.Context, m *metainfo.Metainfo, peers []tracker.PeerAddress, dst io.WriterAt) error {
	if len(peers) == 0 {
		return ErrNoPeersAvailable
	}
	total := m.PieceCount()
	workers := c.WorkerCount
	if workers <= 0 || workers > len(peers) {
		workers = len(peers)
	}

	jobs := make(chan pieceJob, total)
	for i := 0; i < total; i++ {
		jobs <- pieceJob{index: i}
	}
	close(jobs)

	results := make(chan pieceOutcome, total)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		addr := peers[w%len(peers)]
		wg.Add(1)
		go func(addr tracker.PeerAddress) {
			defer wg.Done()
			c.worker(ctx, m, addr, peers, jobs, results)
		}(addr)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for outcome := range results {
		if outcome.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("download: piece %d: %w", outcome.index, outcome.err)
			}
			continue
		}
		offset := int64(outcome.index) * m.Info.PieceLength
		if _, err := dst.WriteAt(outcome.data, offset); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("download: write piece %d: %w", outcome.index, err)
		}
	}
	return firstErr
}

// worker pulls jobs off the shared channel, retrying each piece against
// the full peer rotation (starting from its own assigned peer) before
// giving up on that piece.
func (c *Coordinator) worker(ctx context.Context, m *metainfo.Metainfo, primary tracker.PeerAddress, allPeers []tracker.PeerAddress, jobs <-chan pieceJob, results chan<- pieceOutcome) {
	for job := range jobs {
		var buf bytes.Buffer
		err := c.downloadPieceFromPeer(ctx, m, primary, job.index, &buf)
		if err != nil {
			for _, addr := range allPeers {
				if addr.Equal(primary) {
					continue
				}
				buf.Reset()
				if err = c.downloadPieceFromPeer(ctx, m, addr, job.index, &buf); err == nil {
					break
				}
			}
		}
		results <- pieceOutcome{index: job.index, data: buf.Bytes(), err: err}
	}
}
