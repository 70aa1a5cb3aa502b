// Package tracker builds the HTTP announce request to a torrent's
// tracker and parses its bencoded, compact-peer-list response.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mcheviron/gobittorrent/internal/bencode"
	"github.com/mcheviron/gobittorrent/internal/metainfo"
)

// ErrTrackerServerError is returned when the tracker responds with a
// non-200 HTTP status.
var ErrTrackerServerError = errors.New("tracker: server returned an error status")

// ErrMalformedTrackerResponse is returned when the bencoded response
// body cannot be decoded, or its compact peers field is not a multiple
// of six bytes.
var ErrMalformedTrackerResponse = errors.New("tracker: malformed response")

const peerAddressSize = 6

// PeerAddress is an IPv4 address and port decoded from a tracker's
// compact peer list.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Equal reports whether p and other name the same address. PeerAddress
// embeds a net.IP (a byte slice), so it is not comparable with == — this
// compares the underlying bytes and port directly instead.
func (p PeerAddress) Equal(other PeerAddress) bool {
	return p.IP.Equal(other.IP) && p.Port == other.Port
}

// AnnounceOptions parameterizes the GET request sent to the tracker.
type AnnounceOptions struct {
	PeerID     string
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	// Event is an optional tracker announce event
	// ("started"/"stopped"/"completed"); empty sends no event parameter,
	// matching the baseline GET the distilled contract specifies.
	Event string
}

// AnnounceResponse is the projected bencoded tracker reply.
type AnnounceResponse struct {
	Interval   int64  `bencode:"interval"`
	Peers      []byte `bencode:"peers"`
	MinInterval int64 `bencode:"min interval"`
	TrackerID  string `bencode:"tracker id"`
	Complete   int64  `bencode:"complete"`
	Incomplete int64  `bencode:"incomplete"`
}

// Client issues announce requests against an injected *http.Client.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with the teacher's 15-second tracker
// request timeout.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// Announce builds the GET request described in the distilled spec's
// tracker table, sends it, and parses the bencoded reply.
func (c *Client) Announce(ctx context.Context, m *metainfo.Metainfo, opts AnnounceOptions) (*AnnounceResponse, error) {
	infoHash := m.InfoHash()
	announceURL, err := buildAnnounceURL(m.Announce, infoHash, opts)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, announceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrTrackerServerError, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: read response: %w", err)
	}

	var parsed AnnounceResponse
	if err := bencode.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTrackerResponse, err)
	}
	if len(parsed.Peers)%peerAddressSize != 0 {
		return nil, fmt.Errorf("%w: peers field length %d not a multiple of %d", ErrMalformedTrackerResponse, len(parsed.Peers), peerAddressSize)
	}
	return &parsed, nil
}

// Peers6 parses the compact peer list carried by an AnnounceResponse.
func (r *AnnounceResponse) Peers6() ([]PeerAddress, error) {
	return ParseCompactPeers(r.Peers)
}

func buildAnnounceURL(announce string, infoHash [20]byte, opts AnnounceOptions) (string, error) {
	base, err := url.Parse(announce)
	if err != nil {
		return "", fmt.Errorf("parse announce url: %w", err)
	}

	compact := "0"
	if opts.Compact {
		compact = "1"
	}
	q := url.Values{
		"info_hash":  []string{string(infoHash[:])},
		"peer_id":    []string{opts.PeerID},
		"port":       []string{strconv.Itoa(int(opts.Port))},
		"uploaded":   []string{strconv.FormatInt(opts.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(opts.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(opts.Left, 10)},
		"compact":    []string{compact},
	}
	if opts.Event != "" {
		q.Set("event", opts.Event)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// ParseCompactPeers decodes the compact peer list representation:
// consecutive 6-byte groups of IPv4 (4 bytes) || port (2 bytes,
// big-endian).
func ParseCompactPeers(b []byte) ([]PeerAddress, error) {
	if len(b)%peerAddressSize != 0 {
		return nil, fmt.Errorf("%w: length %d not a multiple of %d", ErrMalformedTrackerResponse, len(b), peerAddressSize)
	}
	n := len(b) / peerAddressSize
	peers := make([]PeerAddress, n)
	for i := 0; i < n; i++ {
		off := i * peerAddressSize
		ip := net.IPv4(b[off], b[off+1], b[off+2], b[off+3])
		port := uint16(b[off+4])<<8 | uint16(b[off+5])
		peers[i] = PeerAddress{IP: ip, Port: port}
	}
	return peers, nil
}
