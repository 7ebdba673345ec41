package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/corvidlabs/gobittorrent/internal/config"
	"github.com/corvidlabs/gobittorrent/internal/download"
	"github.com/corvidlabs/gobittorrent/internal/magnet"
	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/peerid"
	"github.com/corvidlabs/gobittorrent/internal/scheduler"
	"github.com/corvidlabs/gobittorrent/internal/session"
	"github.com/corvidlabs/gobittorrent/internal/storage"
	"github.com/corvidlabs/gobittorrent/internal/torrentlog"
	"github.com/corvidlabs/gobittorrent/internal/trackerclient"
)

func runMagnetParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_parse <magnet uri>")
	}
	link, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	if len(link.Trackers) > 0 {
		fmt.Printf("Tracker URL: %s\n", link.Trackers[0])
	}
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(link.InfoHash[:]))
	return nil
}

// announceMagnet mirrors announce() for a magnet link: the total
// length isn't known before metadata is fetched, so "left" is reported
// as 1 (unknown-but-nonzero), matching common client behavior when the
// real total is still unknown.
func announceMagnet(link *magnet.Link) ([]trackerclient.PeerAddress, error) {
	if len(link.Trackers) == 0 {
		return nil, fmt.Errorf("magnet URI has no tracker (tr=) parameters")
	}
	peerID := peerid.Generate()
	client := trackerclient.NewHTTPClient()
	resp, err := client.Announce(context.Background(), trackerclient.AnnounceRequest{
		AnnounceURL: link.Trackers[0],
		InfoHash:    link.InfoHash,
		PeerID:      peerID,
		Port:        config.Default().ListenPort,
		Left:        1,
		Compact:     true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

func runMagnetHandshake(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_handshake <magnet uri>")
	}
	link, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	peers, err := announceMagnet(link)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return fmt.Errorf("tracker returned no peers")
	}

	cfg := config.Default()
	log := torrentlog.Get().WithField("command", "magnet_handshake")
	s, err := session.Connect(peers[0].String(), peerid.Generate(), link.InfoHash, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(s.PeerID()[:]))
	if s.SupportsUTMetadata() {
		fmt.Printf("Peer Metadata Extension ID: %d\n", s.UTMetadataID())
	}
	return nil
}

// fetchMagnetMetadata tries each announced peer in turn until one
// completes a ut_metadata fetch, returning that peer's still-open
// session alongside the assembled Info so a caller that keeps
// exchanging with that peer (magnet_download_piece) doesn't have to
// reconnect.
func fetchMagnetMetadata(link *magnet.Link, cfg config.Config, log *logrus.Entry) (*metainfo.Info, *session.Session, error) {
	peers, err := announceMagnet(link)
	if err != nil {
		return nil, nil, err
	}
	var lastErr error
	for _, p := range peers {
		s, err := session.Connect(p.String(), peerid.Generate(), link.InfoHash, cfg, log)
		if err != nil {
			lastErr = err
			continue
		}
		if !s.SupportsUTMetadata() {
			s.Close()
			lastErr = fmt.Errorf("peer %s does not support ut_metadata", p)
			continue
		}
		info, err := s.FetchMetadata()
		if err != nil {
			s.Close()
			lastErr = err
			continue
		}
		info.Announce = link.Trackers[0]
		return info, s, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no peers available for metadata fetch")
	}
	return nil, nil, lastErr
}

func runMagnetInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_info <magnet uri>")
	}
	link, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	cfg := config.Default()
	log := torrentlog.Get().WithField("command", "magnet_info")
	info, s, err := fetchMagnetMetadata(link, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	printInfo(info)
	return nil
}

func runMagnetDownloadPiece(args []string) error {
	out, rest, err := parseOutputFlag("magnet_download_piece", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: magnet_download_piece -o <out> <magnet uri> <index>")
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("invalid piece index %q: %w", rest[1], err)
	}

	link, err := magnet.Parse(rest[0])
	if err != nil {
		return err
	}
	cfg := config.Default()
	log := torrentlog.Get().WithField("command", "magnet_download_piece")
	info, s, err := fetchMagnetMetadata(link, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if index < 0 || index >= info.PieceCount() {
		return fmt.Errorf("piece index %d out of range [0,%d)", index, info.PieceCount())
	}

	if err := s.AwaitBitfieldOrHaves(info.PieceCount()); err != nil {
		return err
	}
	if err := s.EnsureInterested(); err != nil {
		return err
	}

	begin, end := info.PieceBounds(index)
	desc := scheduler.PieceDescriptor{Index: index, Length: end - begin, ExpectedHash: info.PieceHashes[index]}
	data, err := s.DownloadPiece(desc)
	if err != nil {
		return err
	}
	if err := storage.Verify(data, desc.ExpectedHash); err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Piece %d downloaded to %s.\n", index, out)
	return nil
}

func runMagnetDownload(args []string) error {
	out, rest, err := parseOutputFlag("magnet_download", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: magnet_download -o <out> <magnet uri>")
	}

	link, err := magnet.Parse(rest[0])
	if err != nil {
		return err
	}
	cfg := config.Default()
	log := torrentlog.Get().WithField("command", "magnet_download")
	info, metadataSession, err := fetchMagnetMetadata(link, cfg, log)
	if err != nil {
		return err
	}
	metadataSession.Close() // a fresh set of sessions drives the piece download below.

	peers, err := announceMagnet(link)
	if err != nil {
		return err
	}

	sched := scheduler.New(info, cfg.MaxPieceRetries)
	w, err := storage.Open(info, out)
	if err != nil {
		return err
	}
	defer w.Close()

	result, err := download.Run(context.Background(), info, peers, peerid.Generate(), sched, w, cfg, log)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s (%d/%d pieces) to %s.\n", info.Name, result.PiecesWritten, result.TotalPieces, out)
	return nil
}
