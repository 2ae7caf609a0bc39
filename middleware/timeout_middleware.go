package middleware

import (
	"context"
	"errors"
	"time"

	"mini-lpc/message"
)

// ErrHandlerTimeout is returned when a handler does not finish in time.
var ErrHandlerTimeout = errors.New("handler timed out")

// Timeout bounds each call. The handler keeps running in the background after
// the deadline but its result is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Envelope) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				out []byte
				err error
			}
			done := make(chan result, 1)
			go func() {
				out, err := next(ctx, call)
				done <- result{out, err}
			}()

			select {
			case r := <-done:
				return r.out, r.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
