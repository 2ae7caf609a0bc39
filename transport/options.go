package transport

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxFrameSize bounds a single envelope read from a pipe.
	DefaultMaxFrameSize = 16 << 20
	// DefaultMaxRequeue bounds how often one foreign return is written back.
	DefaultMaxRequeue = 64
)

type options struct {
	log          zerolog.Logger
	metrics      *Metrics
	maxFrameSize int
	maxRequeue   int
	requeue      io.Writer
	writeTimeout time.Duration
	name         string
}

func defaultOptions() options {
	return options{
		log:          zerolog.Nop(),
		maxFrameSize: DefaultMaxFrameSize,
		maxRequeue:   DefaultMaxRequeue,
	}
}

// Option configures a channel.
type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxFrameSize limits the size of frames read; larger frames are skipped.
// Zero disables the limit.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithMaxRequeue limits how many times a return nobody in this process waits
// for is written back to the return pipe.
func WithMaxRequeue(n int) Option {
	return func(o *options) { o.maxRequeue = n }
}

// WithRequeue sets where foreign returns are written back to, normally the
// return pipe itself opened read-write. Without it they are dropped.
func WithRequeue(w io.Writer) Option {
	return func(o *options) { o.requeue = w }
}

// WithWriteTimeout bounds each envelope write when the writer supports deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithName labels the channel in logs and errors, usually with its pipe names.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// writeFrame writes buf in one call, bounded by timeout when w supports it.
func writeFrame(w io.Writer, buf []byte, timeout time.Duration) error {
	if d, ok := w.(writeDeadliner); ok && timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(timeout)); err == nil {
			defer d.SetWriteDeadline(time.Time{})
		}
	}
	_, err := w.Write(buf)
	return err
}
