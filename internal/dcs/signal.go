package dcs

import (
	"context"
	"sync/atomic"
	"time"
)

// ChangeSignal is the only state shared between store callbacks and the
// goroutine loading snapshots. Callbacks set the flag and then signal; the
// loader drains the signal and then clears the flag, so a callback firing
// between a check and a wait is never lost.
type ChangeSignal struct {
	stale atomic.Bool
	wake  chan struct{}
}

// NewChangeSignal starts stale so the first load always reaches the store.
func NewChangeSignal() *ChangeSignal {
	s := &ChangeSignal{wake: make(chan struct{}, 1)}
	s.stale.Store(true)
	return s
}

func (s *ChangeSignal) Invalidate() {
	s.stale.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// MarkStale forces the next load without waking waiters.
func (s *ChangeSignal) MarkStale() {
	s.stale.Store(true)
}

// Take clears the flag and returns its previous value.
func (s *ChangeSignal) Take() bool {
	select {
	case <-s.wake:
	default:
	}
	return s.stale.Swap(false)
}

func (s *ChangeSignal) Stale() bool {
	return s.stale.Load()
}

// Wait blocks until Invalidate is called, timeout elapses or ctx is done. It
// reports whether it was woken by Invalidate.
func (s *ChangeSignal) Wait(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		return s.Stale()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.wake:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
