package dcs

import (
	"context"
	"errors"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/Ajpantuso/hactl/internal/util"
)

// ErrPollTimeout is returned by PollUntil when the deadline passes before the
// condition holds.
var ErrPollTimeout = errors.New("poll deadline exceeded")

// RetryPolicy bounds a single store call. Retries back off exponentially from
// InitialDelay up to MaxDelay and stop once Deadline has elapsed.
type RetryPolicy struct {
	Deadline     time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Deadline:     10 * time.Second,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

func (p RetryPolicy) backoff() wait.Backoff {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return wait.Backoff{
		Duration: initial,
		Factor:   2,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      p.MaxDelay,
	}
}

// Retry runs fn until it succeeds, returns an error retriable rejects, or the
// policy deadline passes. Exhausting the deadline yields a
// StoreUnavailableError wrapping the last transient error.
func Retry(ctx context.Context, op string, p RetryPolicy, retriable func(error) bool, fn func(context.Context) error) error {
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var lastErr error
	err := p.backoff().DelayFunc().Until(ctx, true, false, func(ctx context.Context) (bool, error) {
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if !retriable(err) {
			return false, err
		}
		lastErr = err
		return false, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && !wait.Interrupted(err):
		// rejected by retriable
		return err
	case lastErr != nil:
		return &util.StoreUnavailableError{Op: op, Err: lastErr}
	default:
		return &util.StoreUnavailableError{Op: op, Err: err}
	}
}

// PollUntil evaluates cond immediately and then every interval until it
// returns true, returns an error, or timeout elapses. A timeout of zero polls
// until ctx is done.
func PollUntil(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	var err error
	if timeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, interval, timeout, true, cond)
	} else {
		err = wait.PollUntilContextCancel(ctx, interval, true, cond)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		return ErrPollTimeout
	}
	return err
}
