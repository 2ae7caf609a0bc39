package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"mini-lpc/message"
)

// ErrRateLimited is returned for calls rejected by RateLimit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit admits calls through a token bucket of r per second with the given burst.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Envelope) ([]byte, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
