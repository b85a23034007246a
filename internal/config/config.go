// Package config holds the tunables of a download session.
package config

import "time"

type Config struct {
	// OutputDir is where downloaded content is placed. Multi-file torrents get
	// a subdirectory named after the torrent.
	OutputDir string
	// LostTimeout is how long a requested block may stay outstanding before it
	// is released for another peer.
	LostTimeout time.Duration
	// MinAnnounceInterval is the floor applied to tracker re-announce intervals.
	MinAnnounceInterval time.Duration
	TrackerTimeout      time.Duration
	// TrackerRetries is the number of failed announces in a row after which a
	// tracker session gives up.
	TrackerRetries int
	// TrackerRetryInterval is the first backoff delay after a failed announce.
	TrackerRetryInterval time.Duration
	DialTimeout          time.Duration
	HandshakeTimeout     time.Duration
	// EmptyConnectsPerTracker bounds connect cycles without an unchoked peer,
	// per tracker session.
	EmptyConnectsPerTracker int
	Port                    uint16
	NumWant                 int32
	// ProxyURL is an optional socks5:// proxy used by HTTP tracker requests.
	ProxyURL         string
	DialsPerSecond   float64
	MaxMessageLength int
}

func Default() Config {
	return Config{
		OutputDir:               ".",
		LostTimeout:             3 * time.Second,
		MinAnnounceInterval:     15 * time.Second,
		TrackerTimeout:          15 * time.Second,
		TrackerRetries:          5,
		TrackerRetryInterval:    2 * time.Second,
		DialTimeout:             5 * time.Second,
		HandshakeTimeout:        10 * time.Second,
		EmptyConnectsPerTracker: 2,
		Port:                    6881,
		NumWant:                 100,
		DialsPerSecond:          20,
		MaxMessageLength:        256 * 1024,
	}
}

// MaxEmptyConnects is the exhaustion bound for a download fed by the given
// number of tracker sessions.
func (c Config) MaxEmptyConnects(sessions int) int {
	if sessions < 1 {
		sessions = 1
	}
	return sessions * c.EmptyConnectsPerTracker
}
