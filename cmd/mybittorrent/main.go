// Command mybittorrent is the CLI surface over the download pipeline:
// bencode inspection, torrent/magnet introspection, and the download
// commands themselves.
package main

import (
	"fmt"
	"os"

	"github.com/corvidlabs/gobittorrent/internal/torrentlog"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mybittorrent <command> [arguments]")
		os.Exit(1)
	}

	verbose := os.Getenv("MYBITTORRENT_VERBOSE") != ""
	torrentlog.Init(verbose)
	defer torrentlog.Teardown()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "decode":
		err = runDecode(args)
	case "info":
		err = runInfo(args)
	case "peers":
		err = runPeers(args)
	case "handshake":
		err = runHandshake(args)
	case "download_piece":
		err = runDownloadPiece(args)
	case "download":
		err = runDownload(args)
	case "magnet_parse":
		err = runMagnetParse(args)
	case "magnet_handshake":
		err = runMagnetHandshake(args)
	case "magnet_info":
		err = runMagnetInfo(args)
	case "magnet_download_piece":
		err = runMagnetDownloadPiece(args)
	case "magnet_download":
		err = runMagnetDownload(args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
