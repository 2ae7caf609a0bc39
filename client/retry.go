package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
)

// Retrier runs an operation again with exponential backoff while it fails with
// a retryable error kind.
type Retrier struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable lists the error kinds worth another attempt.
	Retryable []lpcerr.Kind
	Log       zerolog.Logger
}

// NewRetrier retries UnknownAccessPath and Timeout failures, the two outcomes
// of connecting before the service has installed.
func NewRetrier(attempts int, baseDelay time.Duration, log zerolog.Logger) *Retrier {
	return &Retrier{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		MaxDelay:  2 * time.Second,
		Retryable: []lpcerr.Kind{lpcerr.KindUnknownAccessPath, lpcerr.KindTimeout},
		Log:       log,
	}
}

// Do calls f up to Attempts times. It stops early on success, on an error that
// is not retryable, or when ctx is done, and returns the last error.
func (r *Retrier) Do(ctx context.Context, op string, f func(context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = f(ctx); err == nil || !r.retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		r.Log.Debug().Err(err).Str("op", op).Int("attempt", i+1).Dur("backoff", delay).Msg("Retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
	return err
}

func (r *Retrier) retryable(err error) bool {
	kind := lpcerr.KindOf(err)
	for _, k := range r.Retryable {
		if k == kind {
			return true
		}
	}
	return false
}
