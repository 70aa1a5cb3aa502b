// Package magnet parses magnet URIs into their component fields.
// Magnet links sit outside the distilled core (no DHT or peer exchange
// resolves them into a metainfo here), but the parser is cheap to keep
// alongside it since it shares no state with the pieces the core does
// cover, and gives the CLI's magnet_parse subcommand somewhere to live.
package magnet

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Link is a parsed magnet URI.
type Link struct {
	InfoHash   string
	Name       string
	Trackers   []string
	ExactTopic string
}

// Parse parses a magnet: URI, extracting the info-hash, display name,
// and tracker URLs. Returns an error if the xt parameter is missing or
// is not a 40-character hex-encoded urn:btih.
func Parse(uri string) (*Link, error) {
	if !strings.HasPrefix(uri, "magnet:?") {
		return nil, fmt.Errorf("magnet: invalid uri, missing magnet:? prefix")
	}

	values, err := url.ParseQuery(uri[len("magnet:?"):])
	if err != nil {
		return nil, fmt.Errorf("magnet: parse query: %w", err)
	}

	xt := values.Get("xt")
	const btihPrefix = "urn:btih:"
	if !strings.HasPrefix(xt, btihPrefix) {
		return nil, fmt.Errorf("magnet: missing or invalid urn:btih xt parameter")
	}

	infoHash := strings.TrimPrefix(xt, btihPrefix)
	if len(infoHash) != 40 {
		return nil, fmt.Errorf("magnet: info hash must be 40 hex characters, got %d", len(infoHash))
	}
	if _, err := hex.DecodeString(infoHash); err != nil {
		return nil, fmt.Errorf("magnet: info hash is not valid hex: %w", err)
	}

	return &Link{
		ExactTopic: xt,
		InfoHash:   infoHash,
		Name:       values.Get("dn"),
		Trackers:   values["tr"],
	}, nil
}
