package lpcerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindSentinel(t *testing.T) {
	t.Parallel()

	err := New(KindUnknownAccessPath, "connect").WithPath("/missing")
	wrapped := fmt.Errorf("dial: %w", err)

	assert.ErrorIs(t, wrapped, ErrUnknownAccessPath)
	assert.NotErrorIs(t, wrapped, ErrTimeout)
	assert.NotErrorIs(t, wrapped, ErrTransport)
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Transport("open", ".pipes/in", io.ErrClosedPipe)
	assert.Equal(t, `lpc open ".pipes/in": transport: io: read/write on closed pipe`, err.Error())
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestTransportPromotesDeadlines(t *testing.T) {
	t.Parallel()

	err := Transport("read", "x", os.ErrDeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)

	err = Transport("open", "x", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, err.Kind)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"file deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), KindTimeout},
		{"typed", New(KindTokenMismatch, "await"), KindTokenMismatch},
		{"wrapped typed", fmt.Errorf("x: %w", New(KindFraming, "decode")), KindFraming},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
