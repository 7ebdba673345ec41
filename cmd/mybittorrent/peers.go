package main

import (
	"context"
	"fmt"
	"os"

	"github.com/corvidlabs/gobittorrent/internal/config"
	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/peerid"
	"github.com/corvidlabs/gobittorrent/internal/trackerclient"
)

func runPeers(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: peers <file.torrent>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := metainfo.ParseReader(f)
	if err != nil {
		return err
	}

	peers, err := announce(info)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

// announce performs a single compact-peer tracker announce for info,
// shared by peers, download_piece, and download.
func announce(info *metainfo.Info) ([]trackerclient.PeerAddress, error) {
	peerID := peerid.Generate()
	client := trackerclient.NewHTTPClient()
	resp, err := client.Announce(context.Background(), trackerclient.AnnounceRequest{
		AnnounceURL: info.Announce,
		InfoHash:    info.InfoHash,
		PeerID:      peerID,
		Port:        config.Default().ListenPort,
		Left:        info.Length,
		Compact:     true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}
