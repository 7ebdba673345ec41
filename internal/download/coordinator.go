// Package download drives the end-to-end flow: spawn peer sessions
// from a tracker's peer list, feed them from a shared scheduler, and
// write verified pieces to storage. Peer workers run in a bounded,
// context-cancelable fan-out so the coordinator can cap concurrency at
// Config.MaxPeers and fail the whole run on the first fatal error.
package download

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/corvidlabs/gobittorrent/internal/config"
	"github.com/corvidlabs/gobittorrent/internal/metainfo"
	"github.com/corvidlabs/gobittorrent/internal/scheduler"
	"github.com/corvidlabs/gobittorrent/internal/session"
	"github.com/corvidlabs/gobittorrent/internal/storage"
	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
	"github.com/corvidlabs/gobittorrent/internal/trackerclient"
)

// Result is the outcome of a completed download run.
type Result struct {
	PiecesWritten int
	TotalPieces   int
}

// progress tracks counters shared across concurrent peer workers.
type progress struct {
	completed    atomic.Int64
	anyConnected atomic.Bool
}

// Run spawns up to cfg.MaxPeers concurrent sessions against peers,
// each pulling pieces from sched until it's empty, verifying and
// writing each to w. It returns NoPeersLeft if every session closes
// with pieces still pending.
func Run(ctx context.Context, info *metainfo.Info, peers []trackerclient.PeerAddress, peerID [20]byte, sched *scheduler.Scheduler, w *storage.Writer, cfg config.Config, log *logrus.Entry) (Result, error) {
	if len(peers) == 0 {
		return Result{}, torrenterr.New(torrenterr.NoPeersLeft, "tracker returned no peers")
	}

	maxPeers := cfg.MaxPeers
	if maxPeers > len(peers) {
		maxPeers = len(peers)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxPeers)

	var prog progress

	for _, addr := range peers {
		addr := addr
		group.Go(func() error {
			err := runPeerWorker(groupCtx, addr, peerID, info, sched, w, cfg, log, &prog)
			if err == nil {
				return nil
			}
			if torrenterr.Is(err, torrenterr.HashMismatch) {
				// A piece exhausted its retry budget: fatal to the whole
				// run, so propagate it and let the group cancel the rest.
				return err
			}
			log.WithField("peer", addr.String()).WithError(err).Debug("peer worker exited")
			return nil // any other single peer failure never aborts the whole run
		})
	}

	groupErr := group.Wait()

	result := Result{PiecesWritten: int(prog.completed.Load()), TotalPieces: info.PieceCount()}
	if groupErr != nil {
		return result, groupErr
	}
	if !sched.Empty() {
		if !prog.anyConnected.Load() {
			return result, torrenterr.New(torrenterr.NoPeersLeft, "no peer ever completed a handshake")
		}
		return result, torrenterr.New(torrenterr.NoPeersLeft, "peers exhausted with pieces still pending")
	}
	return result, nil
}

// runPeerWorker repeatedly pulls a piece from sched and downloads it
// from one peer connection until the scheduler drains or the
// connection fails.
func runPeerWorker(ctx context.Context, addr trackerclient.PeerAddress, peerID [20]byte, info *metainfo.Info, sched *scheduler.Scheduler, w *storage.Writer, cfg config.Config, log *logrus.Entry, prog *progress) error {
	s, err := session.Connect(addr.String(), peerID, info.InfoHash, cfg, log.WithField("peer", addr.String()))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.AwaitBitfieldOrHaves(info.PieceCount()); err != nil {
		return err
	}
	prog.anyConnected.Store(true)

	if err := s.EnsureInterested(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		desc, ok := sched.Take(s.HasPiece)
		if !ok {
			if sched.Empty() {
				return nil
			}
			// Peer has nothing we currently need; nothing more this
			// connection can contribute.
			return nil
		}

		data, err := s.DownloadPiece(desc)
		if err != nil {
			if exhausted := sched.ReleaseFail(desc.Index); exhausted {
				return torrenterr.Wrap(torrenterr.HashMismatch,
					fmt.Sprintf("piece %d exceeded retry limit", desc.Index), err)
			}
			return err
		}
		if err := storage.Verify(data, desc.ExpectedHash); err != nil {
			if exhausted := sched.ReleaseFail(desc.Index); exhausted {
				return torrenterr.Wrap(torrenterr.HashMismatch,
					fmt.Sprintf("piece %d failed verification %d times", desc.Index, cfg.MaxPieceRetries), err)
			}
			continue
		}
		if err := w.WritePiece(desc.Index, data); err != nil {
			sched.ReleaseFail(desc.Index)
			return err
		}
		sched.ReleaseOk(desc.Index)
		prog.completed.Add(1)
		_ = s.SendHave(desc.Index)
	}
}
