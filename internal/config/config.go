// Package config collects the client's fixed defaults in one place.
// There is no environment variable or persisted configuration surface;
// this exists so the constants the original prototype scattered as
// literals across handlers are reviewable and overridable from one spot.
package config

import "time"

// Config holds the client's tunable defaults.
type Config struct {
	PeerID      string
	Port        uint16
	ReadTimeout time.Duration
	DialTimeout time.Duration
	WorkerCount int
}

// Default returns the client's standard configuration: a fixed peer-id
// literal, the conventional BitTorrent listening port, a 30-second peer
// read timeout, and a 3-second dial timeout matching the original
// prototype's net.DialTimeout call.
func Default() Config {
	return Config{
		PeerID:      "-GB0001-123456789012",
		Port:        6881,
		ReadTimeout: 30 * time.Second,
		DialTimeout: 3 * time.Second,
		WorkerCount: 0, // 0 means "one worker per discovered peer"
	}
}
