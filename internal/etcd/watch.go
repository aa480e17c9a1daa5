package etcd

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Watch delivers events for every key under prefix to fn until ctx is done.
// It returns once the store has confirmed the watch, or after the dial
// timeout, in which case fn receives an EventResync when the watch does
// start. The watch is re-armed after failures; since events may have been
// missed in between, fn then receives an EventResync too.
func (s *Session) Watch(ctx context.Context, prefix string, fn func(WatchEvent)) {
	created := make(chan struct{})
	var returned atomic.Bool

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchLoop(ctx, prefix, fn, func() {
			close(created)
			if returned.Load() {
				fn(WatchEvent{Type: EventResync, Path: prefix})
			}
		})
	}()

	timer := time.NewTimer(s.cfg.DialTimeout)
	defer timer.Stop()

	select {
	case <-created:
	case <-timer.C:
		s.logger.Warnw("Store watch not confirmed, continuing", "prefix", prefix, "timeout", s.cfg.DialTimeout)
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	returned.Store(true)
}

// watchLoop calls onFirst when the first watch is confirmed.
func (s *Session) watchLoop(ctx context.Context, prefix string, fn func(WatchEvent), onFirst func()) {
	var rev int64
	resync := false
	first := true

	for ctx.Err() == nil && s.ctx.Err() == nil {
		watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
		opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithCreatedNotify()}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev+1))
		}

		for resp := range s.client.Watch(watchCtx, prefix, opts...) {
			if err := resp.Err(); err != nil {
				if errors.Is(err, rpctypes.ErrCompacted) || resp.CompactRevision > 0 {
					rev = 0
				}
				s.logger.Debugw("Store watch interrupted", "prefix", prefix, "error", err)
				break
			}
			if resp.Created {
				if first {
					first = false
					onFirst()
				}
				if resync {
					resync = false
					fn(WatchEvent{Type: EventResync, Path: prefix})
				}
				continue
			}
			for _, ev := range resp.Events {
				rev = ev.Kv.ModRevision
				fn(WatchEvent{Type: eventType(ev), Path: string(ev.Kv.Key)})
			}
		}
		cancel()

		resync = true
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		case <-time.After(s.cfg.RetryMaxDelay):
		}
	}
}

func eventType(ev *clientv3.Event) EventType {
	switch {
	case ev.Type == clientv3.EventTypeDelete:
		return EventDeleted
	case ev.IsCreate():
		return EventCreated
	default:
		return EventChanged
	}
}
