package transport

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/protocol"
)

// ServiceChannel is the service end of a call channel. ReceiveCall must be
// called from a single goroutine; Reply and ReplyTo are safe for concurrent use.
type ServiceChannel struct {
	calls   io.ReadCloser
	returns io.WriteCloser
	opts    options
	log     zerolog.Logger
	metrics *Metrics

	writeMu   sync.Mutex // one whole return envelope at a time
	recvOnce  sync.Once
	recvErr   error
	closeOnce sync.Once
	closeErr  error
}

// NewServiceChannel wraps the read end of the call pipe and the write end of the
// return pipe.
func NewServiceChannel(calls io.ReadCloser, returns io.WriteCloser, opts ...Option) *ServiceChannel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	return &ServiceChannel{
		calls:   calls,
		returns: returns,
		opts:    o,
		log:     o.log.With().Str("component", "service-channel").Str("channel", o.name).Logger(),
		metrics: o.metrics,
	}
}

// ReceiveCall blocks until one whole call envelope has been read.
//
// A *protocol.FramingError means one malformed frame was consumed and skipped;
// the channel remains usable. Any other error is terminal.
func (s *ServiceChannel) ReceiveCall() (*message.Envelope, error) {
	env, err := protocol.ReadCall(s.calls, s.opts.maxFrameSize)
	if err == nil {
		return env, nil
	}
	var fe *protocol.FramingError
	if errors.As(err, &fe) {
		s.metrics.FramingErrors.WithLabelValues("service").Inc()
		return nil, err
	}
	return nil, lpcerr.Transport("receive", s.opts.name, err)
}

// Reply writes a return envelope carrying token and result.
func (s *ServiceChannel) Reply(token message.Token, result []byte) error {
	return s.write(&message.Envelope{Args: [][]byte{result}, Token: token})
}

// ReplyTo answers call, echoing its function name and token.
func (s *ServiceChannel) ReplyTo(call *message.Envelope, result []byte) error {
	return s.write(message.NewReturn(call, result))
}

func (s *ServiceChannel) write(env *message.Envelope) error {
	buf, err := protocol.Encode((*protocol.Returning)(env))
	if err != nil {
		return lpcerr.New(lpcerr.KindFraming, "reply").WithPath(s.opts.name).WithCause(err)
	}
	s.writeMu.Lock()
	err = writeFrame(s.returns, buf, s.opts.writeTimeout)
	s.writeMu.Unlock()
	if err != nil {
		return lpcerr.Transport("reply", s.opts.name, err)
	}
	s.log.Debug().Str("function", env.Function).Str("token", env.Token.String()).Int("bytes", len(buf)).Msg("Return written")
	return nil
}

// CloseReceive closes the call pipe only, ending ReceiveCall while replies can
// still be written.
func (s *ServiceChannel) CloseReceive() error {
	s.recvOnce.Do(func() {
		s.recvErr = s.calls.Close()
	})
	return s.recvErr
}

// Close closes both pipes. A pending ReceiveCall returns with an error.
func (s *ServiceChannel) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.CloseReceive(), s.returns.Close())
	})
	return s.closeErr
}
