package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mcheviron/gobittorrent/internal/bencode"
	"github.com/mcheviron/gobittorrent/internal/config"
	"github.com/mcheviron/gobittorrent/internal/download"
	"github.com/mcheviron/gobittorrent/internal/logging"
	"github.com/mcheviron/gobittorrent/internal/magnet"
	"github.com/mcheviron/gobittorrent/internal/metainfo"
	"github.com/mcheviron/gobittorrent/internal/peer"
	"github.com/mcheviron/gobittorrent/internal/tracker"
)

func main() {
	logger := logging.New(false)
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Error("no command given")
		os.Exit(1)
	}
	command := os.Args[1]

	var err error
	switch command {
	case "decode":
		err = handleDecode(os.Args)
	case "info":
		err = handleInfo(os.Args)
	case "peers":
		err = handlePeers(os.Args)
	case "handshake":
		err = handleHandshake(os.Args)
	case "download_piece":
		err = handleDownloadPiece(os.Args)
	case "download":
		err = handleDownload(os.Args)
	case "magnet_parse":
		err = handleMagnetParse(os.Args)
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

// Command handlers

func handleDecode(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	v, err := bencode.DecodeBytes([]byte(args[2]))
	if err != nil {
		return err
	}
	out, err := bencode.ToJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func handleInfo(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("file path required")
	}
	m, err := metainfo.Load(args[2])
	if err != nil {
		return err
	}

	infoHash := m.InfoHash()
	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d\n", m.Info.Length)
	fmt.Printf("Info Hash: %x\n", infoHash)
	fmt.Printf("Piece Length: %d\n", m.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for i := 0; i < m.PieceCount(); i++ {
		fmt.Printf("%x\n", m.PieceHash(i))
	}
	return nil
}

func handlePeers(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("file path required")
	}
	m, err := metainfo.Load(args[2])
	if err != nil {
		return err
	}

	peers, err := announcePeers(m)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

func handleHandshake(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("not enough arguments. Usage: handshake <torrent-file> <peer-address>")
	}
	m, err := metainfo.Load(args[2])
	if err != nil {
		return err
	}

	cfg := config.Default()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	s, err := peer.Dial(ctx, args[3], m, cfg.PeerID)
	if err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	defer s.Close()

	fmt.Printf("Peer ID: %x\n", s.PeerID())
	return nil
}

func handleDownloadPiece(args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("usage: download_piece -o <output-path> <torrent-file> <piece-index>")
	}
	if args[2] != "-o" {
		return fmt.Errorf("expected -o flag, got: %s", args[2])
	}
	outputPath := args[3]
	torrentPath := args[4]

	pieceIndex, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("invalid piece index: %v", err)
	}

	m, err := metainfo.Load(torrentPath)
	if err != nil {
		return fmt.Errorf("failed to parse torrent file: %w", err)
	}

	peers, err := announcePeers(m)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := config.Default()
	coord := download.NewCoordinator(cfg.PeerID, len(peers))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	return coord.DownloadPiece(ctx, m, peers, pieceIndex, f)
}

func handleDownload(args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: download -o <output-path> <torrent-file>")
	}
	if args[2] != "-o" {
		return fmt.Errorf("expected -o flag, got: %s", args[2])
	}
	outputPath := args[3]
	torrentPath := args[4]

	m, err := metainfo.Load(torrentPath)
	if err != nil {
		return fmt.Errorf("failed to parse torrent file: %w", err)
	}

	peers, err := announcePeers(m)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(m.Info.Length); err != nil {
		return err
	}

	cfg := config.Default()
	coord := download.NewCoordinator(cfg.PeerID, cfg.WorkerCount)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	return coord.DownloadFile(ctx, m, peers, f)
}

func handleMagnetParse(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}

	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Printf("Tracker URL: %s\n", link.Trackers[0])
	fmt.Printf("Info Hash: %s\n", link.InfoHash)

	return nil
}

func announcePeers(m *metainfo.Metainfo) ([]tracker.PeerAddress, error) {
	cfg := config.Default()
	client := tracker.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Announce(ctx, m, tracker.AnnounceOptions{
		PeerID:  cfg.PeerID,
		Port:    cfg.Port,
		Left:    m.Info.Length,
		Compact: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Peers6()
}
