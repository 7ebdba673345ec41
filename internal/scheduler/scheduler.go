// Package scheduler hands out piece indices to peer sessions from a
// shared FIFO queue, reinserting failed assignments at the front.
package scheduler

import (
	"sync"

	"github.com/corvidlabs/gobittorrent/internal/metainfo"
)

// PieceDescriptor is an immutable description of one piece to fetch.
type PieceDescriptor struct {
	Index        int
	Length       int64
	ExpectedHash [20]byte
}

// Scheduler is the shared, mutex-protected queue of pending piece
// indices. Operations never block on I/O under the lock.
type Scheduler struct {
	mu         sync.Mutex
	pending    []int
	info       *metainfo.Info
	maxRetries int
	failures   map[int]int
}

// New builds a Scheduler with every piece of info initially pending,
// in index order. maxRetries bounds how many times ReleaseFail may
// requeue a given index before it reports that piece exhausted; zero
// means unlimited retries.
func New(info *metainfo.Info, maxRetries int) *Scheduler {
	pending := make([]int, info.PieceCount())
	for i := range pending {
		pending[i] = i
	}
	return &Scheduler{pending: pending, info: info, maxRetries: maxRetries, failures: make(map[int]int)}
}

// Take pops the next piece index a session with the given bitfield
// may work on. It skips (without discarding) pieces the session's
// bitfield claims not to have, returning ok=false if nothing in the
// queue is currently available to this peer.
func (s *Scheduler) Take(hasPiece func(index int) bool) (PieceDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, idx := range s.pending {
		if !hasPiece(idx) {
			continue
		}
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		begin, end := s.info.PieceBounds(idx)
		return PieceDescriptor{
			Index:        idx,
			Length:       end - begin,
			ExpectedHash: s.info.PieceHashes[idx],
		}, true
	}
	return PieceDescriptor{}, false
}

// ReleaseOk marks a piece as permanently complete; it does not return
// to the queue.
func (s *Scheduler) ReleaseOk(index int) {
	_ = index // nothing to do: the piece was already popped by Take.
}

// ReleaseFail returns a piece to the front of the queue, favouring it
// for the next Take so partially-downloaded work finishes sooner on a
// fresh peer. It reports exhausted=true, and does not requeue the
// piece, once the index has failed maxRetries times (a zero
// maxRetries never exhausts).
func (s *Scheduler) ReleaseFail(index int) (exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[index]++
	if s.maxRetries > 0 && s.failures[index] >= s.maxRetries {
		return true
	}
	s.pending = append([]int{index}, s.pending...)
	return false
}

// Empty reports whether the pending queue has drained.
func (s *Scheduler) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// Remaining reports how many pieces are still pending.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
