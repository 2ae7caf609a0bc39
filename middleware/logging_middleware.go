package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/message"
)

// Logging logs every call with its duration and outcome.
func Logging(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Envelope) ([]byte, error) {
			start := time.Now()
			result, err := next(ctx, call)

			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Str("function", call.Function).
				Str("token", call.Token.String()).
				Int("args", len(call.Args)).
				Int("result_bytes", len(result)).
				Dur("duration", time.Since(start)).
				Msg("Call handled")
			return result, err
		}
	}
}
