// Package middleware wraps service handlers in an onion chain:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
//
// A runs first on the way in and last on the way out.
package middleware

import (
	"context"

	"mini-lpc/message"
)

// HandlerFunc computes the result of one call.
type HandlerFunc func(ctx context.Context, call *message.Envelope) ([]byte, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
