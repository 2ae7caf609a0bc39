package middleware

import (
	"context"
	"fmt"

	"mini-lpc/message"
)

// Recover turns a handler panic into an error so one bad call cannot stop the
// serve loop.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Envelope) (result []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					result, err = nil, fmt.Errorf("handler panic in %q: %v", call.Function, r)
				}
			}()
			return next(ctx, call)
		}
	}
}
