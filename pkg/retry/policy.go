package retry

import (
	"context"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Policy decides whether a failed model call is worth another attempt and how
// long to wait before it. Backoff grows linearly with the attempt number.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; attempt n waits n*BaseDelay.
	BaseDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
	}
}

// State tracks progress of retries for a single model call. It is created
// fresh for every call and discarded on success.
type State struct {
	Attempt int
	LastErr error
}

// transientError marks an error as retryable. Providers wrap stream-level
// failures with MarkTransient so the policy can tell them apart from fatal
// orchestration errors.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so that IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error is a transient stream error: an
// explicit transient mark, a network timeout, a reset connection, or a
// truncated stream.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// linearBackOff waits attempt*base, unlike the exponential policies shipped
// with the backoff package.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Run executes op, retrying transient failures up to MaxRetries with linearly
// increasing delays. onRetry is invoked before each sleep with the upcoming
// attempt number, the error, and the delay; the orchestrator uses it to
// announce the retry in-band. Fatal (non-transient) errors and context
// cancellation abort immediately.
func (p Policy) Run(ctx context.Context, op func() error, onRetry func(state State, delay time.Duration)) error {
	state := State{}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		state.LastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		state.Attempt++
		log.Debug().Err(err).Int("attempt", state.Attempt).Dur("delay", delay).Msg("retrying after transient error")
		if onRetry != nil {
			onRetry(state, delay)
		}
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: p.BaseDelay}, uint64(p.MaxRetries)),
		ctx,
	)
	return backoff.RetryNotify(wrapped, bo, notify)
}
