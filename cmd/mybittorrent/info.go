package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
)

func runInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <file.torrent>")
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
	printInfo(info)
	return nil
}

func printInfo(info *metainfo.Info) {
	fmt.Printf("Tracker URL: %s\n", info.Announce)
	fmt.Printf("Length: %d\n", info.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(info.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range info.PieceHashes {
		fmt.Println(hex.EncodeToString(h[:]))
	}
}
