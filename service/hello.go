package service

import (
	"context"
	"strings"

	"mini-lpc/message"
)

// HelloHandler answers any call with "Hello from fn(arg1, arg2, ...)".
func HelloHandler(_ context.Context, call *message.Envelope) ([]byte, error) {
	var b strings.Builder
	b.WriteString("Hello from ")
	b.WriteString(call.Function)
	b.WriteByte('(')
	for i, arg := range call.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Write(arg)
	}
	b.WriteByte(')')
	return []byte(b.String()), nil
}
