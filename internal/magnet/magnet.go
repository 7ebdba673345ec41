// Package magnet parses magnet:? URIs into the info-hash, display
// name, and tracker list needed to bootstrap a download without a
// .torrent file.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// Link is the parsed form of a magnet URI.
type Link struct {
	InfoHash    [20]byte
	DisplayName string
	Trackers    []string
	// PeerHints carries any x.pe=<ip:port> parameters. This client
	// still announces to a tracker for its peer list rather than
	// dialing hints directly (direct-dial/PEX-style bootstrapping is
	// out of scope), but records them for visibility.
	PeerHints []string
}

const btihPrefix = "urn:btih:"

// Parse parses a magnet:? URI into a Link.
func Parse(raw string) (*Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.Malformed, "parsing magnet URI", err)
	}
	if u.Scheme != "magnet" {
		return nil, torrenterr.New(torrenterr.Malformed, "not a magnet URI")
	}
	q := u.Query()

	xt := q.Get("xt")
	if xt == "" {
		return nil, torrenterr.New(torrenterr.Malformed, "magnet URI missing xt parameter")
	}
	if !strings.HasPrefix(xt, btihPrefix) {
		return nil, torrenterr.New(torrenterr.Malformed, "magnet URI xt is not a BitTorrent info-hash")
	}
	hashStr := xt[len(btihPrefix):]

	hash, err := decodeInfoHash(hashStr)
	if err != nil {
		return nil, err
	}

	link := &Link{
		InfoHash:    hash,
		DisplayName: q.Get("dn"),
		Trackers:    append([]string(nil), q["tr"]...),
		PeerHints:   append([]string(nil), q["x.pe"]...),
	}
	return link, nil
}

func decodeInfoHash(s string) ([20]byte, error) {
	var hash [20]byte
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return hash, torrenterr.Wrap(torrenterr.Malformed, "decoding hex info-hash", err)
		}
		copy(hash[:], b)
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return hash, torrenterr.Wrap(torrenterr.Malformed, "decoding base32 info-hash", err)
		}
		copy(hash[:], b)
	default:
		return hash, torrenterr.New(torrenterr.Malformed, "info-hash must be 40 hex or 32 base32 characters")
	}
	return hash, nil
}

// String serializes the link back into a magnet URI. Parameter order
// is xt, dn (if set), tr... — round-tripping Parse(String(l)) produces
// an equivalent Link, though not necessarily byte-identical to
// whatever the original URI's parameter order was (spec's round-trip
// property is stated "up to parameter order").
func (l *Link) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(l.InfoHash[:]))
	if l.DisplayName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(l.DisplayName))
	}
	for _, tr := range l.Trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	for _, pe := range l.PeerHints {
		b.WriteString("&x.pe=")
		b.WriteString(url.QueryEscape(pe))
	}
	return b.String()
}
