// Package config holds the tunables the coordinator and peer sessions
// read at startup. Defaults match spec section 4.6/4.9/6.
package config

import "time"

// Config collects every tunable the download pipeline needs. Callers
// start from Default and override fields explicitly; the CLI commands
// use Default unchanged, and there is no flag, env or file loading
// layer in this client.
type Config struct {
	// ListenPort is advertised to the tracker; this client never
	// actually listens (no seeding), but the tracker announce still
	// needs a port value.
	ListenPort uint16

	// MaxPeers is the number of concurrent peer sessions the
	// coordinator keeps alive (P in spec section 4.9).
	MaxPeers int

	// RequestWindow is the outstanding-block window per peer (W in
	// spec section 4.6).
	RequestWindow int

	// MaxPieceRetries caps how many times a single piece may fail (a
	// HashMismatch or a dropped session): the failure that brings the
	// count to MaxPieceRetries fails the download outright instead of
	// requeueing the piece. Zero means unlimited, matching the
	// source's ambiguous indefinite-retry behavior (see SPEC_FULL.md
	// section 9).
	MaxPieceRetries int

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	BlockTimeout     time.Duration

	// KeepaliveInterval is how long a session waits for peer traffic
	// before sending its own keepalive while idle (e.g. waiting on
	// Unchoke); IdleDropTimeout is the total idle time after which the
	// peer is dropped (spec section 4.6: "Keepalive every 2 minutes of
	// idleness; drop peer after 2 minutes without traffic").
	KeepaliveInterval time.Duration
	IdleDropTimeout   time.Duration

	// MetadataBlockSize is the ut_metadata piece size: always 16KiB per
	// BEP-9 against real peers, but threaded through as a parameter
	// rather than a metadatafetch-internal constant so tests can
	// exercise the piece-boundary math at a smaller size.
	MetadataBlockSize int
}

// Default returns the default configuration, which the CLI commands
// use as is.
func Default() Config {
	return Config{
		ListenPort:        6881,
		MaxPeers:          5,
		RequestWindow:     5,
		MaxPieceRetries:   0,
		ConnectTimeout:    3 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		BlockTimeout:      30 * time.Second,
		KeepaliveInterval: 2 * time.Minute,
		IdleDropTimeout:   2 * time.Minute,
		MetadataBlockSize: 16384,
	}
}
