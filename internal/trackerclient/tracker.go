// Package trackerclient issues HTTP tracker announces and parses the
// compact peer list from the response. The wire contract (spec.md
// section 4.4) is fixed; only the HTTP transport is this package's
// concern.
package trackerclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jackpal/bencode-go"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
	"github.com/corvidlabs/gobittorrent/internal/torrentlog"
)

// AnnounceRequest is the set of parameters spec.md section 4.4 fixes
// for every announce.
type AnnounceRequest struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        uint16
	Uploaded    int64
	Downloaded  int64
	Left        int64
	Compact     bool
}

// PeerAddress is an IPv4 + port pair decoded from a tracker's compact
// peer list.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// AnnounceResponse is the subset of the tracker response this client
// consumes.
type AnnounceResponse struct {
	Interval int
	Peers    []PeerAddress
}

// Client is the abstract tracker collaborator the coordinator depends
// on; spec.md treats the tracker as an external system and fixes only
// this interface.
type Client interface {
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
}

type bencodeResponse struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
	Failure  string `bencode:"failure reason"`
}

// HTTPClient is the concrete, HTTP-only Client implementation. UDP
// trackers are out of scope per spec.md Non-goals.
type HTTPClient struct {
	HTTP *http.Client
}

// NewHTTPClient builds an HTTPClient with a default *http.Client.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{HTTP: http.DefaultClient}
}

// Announce issues the GET request and parses the compact peer list.
func (c *HTTPClient) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := buildURL(req)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.TrackerUnavailable, "building tracker URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, torrenterr.New(torrenterr.TrackerUnavailable, fmt.Sprintf("unsupported tracker scheme %q", u.Scheme))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.TrackerUnavailable, "building tracker request", err)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, torrenterr.Wrap(torrenterr.TrackerUnavailable, "announce request failed", err)
	}
	defer resp.Body.Close()

	var decoded bencodeResponse
	if err := bencode.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, torrenterr.Wrap(torrenterr.TrackerUnavailable, "decoding tracker response", err)
	}
	if decoded.Failure != "" {
		return nil, torrenterr.New(torrenterr.TrackerUnavailable, decoded.Failure)
	}

	peers, err := DecodeCompactPeers([]byte(decoded.Peers))
	if err != nil {
		return nil, err
	}
	return &AnnounceResponse{Interval: decoded.Interval, Peers: peers}, nil
}

func buildURL(req AnnounceRequest) (*url.URL, error) {
	base, err := url.Parse(req.AnnounceURL)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
	}
	if req.Compact {
		q.Set("compact", "1")
	}
	base.RawQuery = q.Encode() +
		"&info_hash=" + percentEncodeBytes(req.InfoHash[:]) +
		"&peer_id=" + percentEncodeBytes(req.PeerID[:])
	return base, nil
}

// percentEncodeBytes percent-encodes every byte of a raw 20-byte
// identifier. url.QueryEscape would leave some bytes un-encoded or
// encode spaces as '+', neither of which trackers expect for
// info_hash/peer_id; the convention is to encode every byte
// explicitly.
func percentEncodeBytes(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, v := range b {
		out = append(out, '%')
		out = append(out, hexDigit(v>>4), hexDigit(v&0xf))
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + n - 10
}

// DecodeCompactPeers parses the 6-byte-per-peer compact IPv4 format
// from spec.md section 4.4. The separate "peers6" compact format some
// trackers also return is out of scope (spec.md Non-goals: IPv6
// compact peer entries); a response using it, or any trailing bytes
// that don't form a whole 6-byte record, is not itself a failed
// announce — the well-formed records decoded so far are still usable,
// so the remainder is logged and dropped rather than failing the
// whole peer list.
func DecodeCompactPeers(raw []byte) ([]PeerAddress, error) {
	const v4Size = 6
	n := len(raw) / v4Size
	if rem := len(raw) % v4Size; rem != 0 {
		torrentlog.Get().Debugf("compact peers length %d not a multiple of %d, dropping trailing %d bytes", len(raw), v4Size, rem)
	}
	peers := make([]PeerAddress, 0, n)
	for i := 0; i < n; i++ {
		off := i * v4Size
		ip := net.IP(append([]byte(nil), raw[off:off+4]...))
		port := binary.BigEndian.Uint16(raw[off+4 : off+6])
		peers = append(peers, PeerAddress{IP: ip, Port: port})
	}
	return peers, nil
}
