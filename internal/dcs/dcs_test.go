package dcs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajpantuso/hactl/internal/util"
)

func TestChangeSignal(t *testing.T) {
	s := NewChangeSignal()
	assert.True(t, s.Stale(), "new signal must force the first load")
	assert.True(t, s.Take())
	assert.False(t, s.Stale())
	assert.False(t, s.Take())

	// An invalidation between Take and Wait must not be lost.
	s.Invalidate()
	assert.True(t, s.Wait(context.Background(), time.Second))
	assert.True(t, s.Stale())

	assert.True(t, s.Take())
	assert.False(t, s.Wait(context.Background(), 10*time.Millisecond))
}

func TestChangeSignalWakesWaiter(t *testing.T) {
	s := NewChangeSignal()
	s.Take()

	done := make(chan bool)
	go func() {
		done <- s.Wait(context.Background(), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Invalidate()

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestChangeSignalMarkStale(t *testing.T) {
	s := NewChangeSignal()
	s.Take()

	s.MarkStale()
	assert.False(t, s.Wait(context.Background(), 10*time.Millisecond), "mark stale must not wake waiters")
	assert.True(t, s.Stale())
	assert.True(t, s.Take())
}

func TestChangeSignalWaitCancelled(t *testing.T) {
	s := NewChangeSignal()
	s.Take()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.Wait(ctx, time.Minute))
	assert.False(t, s.Wait(context.Background(), 0))
}

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestRetry(t *testing.T) {
	policy := RetryPolicy{Deadline: time.Second, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient errors", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), "set", policy, isTransient, func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("non retriable error returned as is", func(t *testing.T) {
		notFound := errors.New("not found")
		var calls int32
		err := Retry(context.Background(), "get", policy, isTransient, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return notFound
		})
		assert.ErrorIs(t, err, notFound)
		assert.NotErrorIs(t, err, util.ErrStoreUnavailable)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("deadline exhausted", func(t *testing.T) {
		short := RetryPolicy{Deadline: 30 * time.Millisecond, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
		err := Retry(context.Background(), "create", short, isTransient, func(context.Context) error {
			return errTransient
		})
		assert.ErrorIs(t, err, util.ErrStoreUnavailable)
		assert.ErrorIs(t, err, errTransient)

		var sue *util.StoreUnavailableError
		require.ErrorAs(t, err, &sue)
		assert.Equal(t, "create", sue.Op)
	})
}

func TestPollUntil(t *testing.T) {
	t.Run("condition met", func(t *testing.T) {
		var calls int32
		err := PollUntil(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("immediate check", func(t *testing.T) {
		var calls int32
		err := PollUntil(context.Background(), time.Hour, time.Second, func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("no deadline", func(t *testing.T) {
		var calls int32
		err := PollUntil(context.Background(), time.Millisecond, 0, func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) == 5, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(5), calls)
	})

	t.Run("timeout", func(t *testing.T) {
		err := PollUntil(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrPollTimeout)
	})

	t.Run("condition error", func(t *testing.T) {
		boom := errors.New("boom")
		err := PollUntil(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("parent cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := PollUntil(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
