package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/peerid"
	"github.com/corvidlabs/gobittorrent/internal/peerwire"
)

func runHandshake(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: handshake <file.torrent> <ip:port>")
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

	conn, err := net.DialTimeout("tcp", args[1], 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	peerID := peerid.Generate()
	ours := peerwire.NewHandshake(info.InfoHash, peerID, true)
	if _, err := conn.Write(ours.Encode()); err != nil {
		return err
	}

	theirs, err := peerwire.ReadHandshake(conn)
	if err != nil {
		return err
	}
	if err := peerwire.VerifyInfoHash(theirs.InfoHash, info.InfoHash); err != nil {
		return err
	}

	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(theirs.PeerID[:]))
	return nil
}
