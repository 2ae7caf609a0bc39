// Package transport implements both ends of a call channel: the call/return pipe
// pair shared by one service and any number of clients.
//
// Every client writes whole call envelopes onto the shared call pipe, and every
// return for every client comes back on the shared return pipe. A ClientChannel
// therefore keeps one reader per process on the return pipe and routes each
// return to the goroutine waiting for its token:
//
//	goroutine-1 ──Call(T1)──┐
//	goroutine-2 ──Call(T2)──┼──→ call pipe ──→ service
//	goroutine-3 ──Call(T3)──┘
//
//	recvLoop: ←── return(T2) → pending[T2] → goroutine-2 wakes up
//
// A return whose token has no waiter in this process belongs to a client in
// another process reading the same pipe. It is written back onto the return pipe
// so that process gets another chance to read it.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/protocol"
)

// ErrClosed is the cause reported by operations on a closed channel.
var ErrClosed = errors.New("channel closed")

type reply struct {
	env *message.Envelope
	err error
}

// waiter stays in pending from Call until its caller has taken the reply, so a
// return that arrives before AwaitReturn is kept rather than lost.
type waiter struct {
	ch      chan reply // holds at most one reply
	started time.Time

	mu      sync.Mutex
	settled bool
}

// settle hands r to the waiter. Only the first reply is kept.
func (w *waiter) settle(r reply) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled {
		return false
	}
	w.settled = true
	w.ch <- r
	return true
}

// ClientChannel is the client end of a call channel. It is safe for concurrent use.
type ClientChannel struct {
	calls   io.WriteCloser
	returns io.ReadCloser
	opts    options
	log     zerolog.Logger
	metrics *Metrics

	writeMu   sync.Mutex // one whole call envelope at a time
	requeueMu sync.Mutex // one whole requeued return at a time
	pending   sync.Map   // message.Token → *waiter

	abandoned *tokenSet
	hops      *tokenSet

	mu        sync.Mutex
	err       error
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClientChannel starts the return reader and returns the channel. calls is
// the write end of the call pipe and returns the read end of the return pipe.
func NewClientChannel(calls io.WriteCloser, returns io.ReadCloser, opts ...Option) *ClientChannel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	c := &ClientChannel{
		calls:     calls,
		returns:   returns,
		opts:      o,
		log:       o.log.With().Str("component", "client-channel").Str("channel", o.name).Logger(),
		metrics:   o.metrics,
		abandoned: newTokenSet(),
		hops:      newTokenSet(),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// Call writes a call envelope for fn with a fresh token and returns the token.
// The waiter is registered before the write, so a return can never arrive
// before it.
func (c *ClientChannel) Call(ctx context.Context, fn string, args ...[]byte) (message.Token, error) {
	if err := c.Err(); err != nil {
		return message.Token{}, err
	}
	if err := ctx.Err(); err != nil {
		return message.Token{}, lpcerr.Transport("call", c.opts.name, err)
	}

	env := message.NewCall(fn, args...)
	buf, err := protocol.Encode((*protocol.Calling)(env))
	if err != nil {
		return message.Token{}, lpcerr.New(lpcerr.KindFraming, "call").WithPath(c.opts.name).WithCause(err)
	}

	w := &waiter{ch: make(chan reply, 1), started: time.Now()}
	c.pending.Store(env.Token, w)
	if err := c.Err(); err != nil {
		c.pending.Delete(env.Token)
		return message.Token{}, err
	}

	c.writeMu.Lock()
	err = writeFrame(c.calls, buf, c.opts.writeTimeout)
	c.writeMu.Unlock()
	if err != nil {
		c.pending.Delete(env.Token)
		return message.Token{}, lpcerr.Transport("call", c.opts.name, err)
	}

	c.metrics.CallsTotal.Inc()
	c.log.Debug().Str("function", fn).Str("token", env.Token.String()).Int("args", len(args)).Msg("Call written")
	return env.Token, nil
}

// AwaitReturn blocks until the return for token arrives, ctx is done or the
// channel fails. A return that arrived before the call to AwaitReturn is
// delivered at once. On timeout the token is abandoned and a late return for
// it is dropped.
func (c *ClientChannel) AwaitReturn(ctx context.Context, token message.Token) (*message.Envelope, error) {
	v, ok := c.pending.Load(token)
	if !ok {
		return nil, lpcerr.New(lpcerr.KindTokenMismatch, "await").WithPath(token.String()).
			WithCause(errors.New("no outstanding call with this token"))
	}
	w := v.(*waiter)

	var r reply
	select {
	case r = <-w.ch:
	case <-ctx.Done():
		terr := lpcerr.Timeout("await", token.String(), ctx.Err())
		if c.abandon(token, w, terr) {
			<-w.ch
			c.metrics.TimeoutsTotal.Inc()
			c.log.Debug().Str("token", token.String()).Msg("Await abandoned")
			return nil, terr
		}
		// The return raced the deadline and won.
		r = <-w.ch
	}
	c.pending.Delete(token)

	if r.err != nil {
		return nil, r.err
	}
	if r.env.Token != token {
		return nil, lpcerr.New(lpcerr.KindTokenMismatch, "await").WithPath(token.String())
	}
	c.metrics.recordAwait(time.Since(w.started))
	return r.env, nil
}

// Invoke calls fn and waits for its result.
func (c *ClientChannel) Invoke(ctx context.Context, fn string, args ...[]byte) ([]byte, error) {
	token, err := c.Call(ctx, fn, args...)
	if err != nil {
		return nil, err
	}
	env, err := c.AwaitReturn(ctx, token)
	if err != nil {
		return nil, err
	}
	return env.Result(), nil
}

// Forget abandons an outstanding call. A return for token that has not
// arrived yet is dropped; one that already arrived is discarded.
func (c *ClientChannel) Forget(token message.Token) {
	v, ok := c.pending.Load(token)
	if !ok {
		return
	}
	w := v.(*waiter)
	if !c.abandon(token, w, lpcerr.New(lpcerr.KindTimeout, "forget").WithPath(token.String())) {
		c.pending.Delete(token)
	}
}

// abandon settles w with err and withdraws token. It reports false when a
// reply had already settled the waiter, in which case that reply is in w.ch.
func (c *ClientChannel) abandon(token message.Token, w *waiter, err error) bool {
	// Marked before the waiter leaves pending so the reader never mistakes a
	// late return for a foreign one.
	c.abandoned.add(token)
	if !w.settle(reply{err: err}) {
		c.abandoned.take(token)
		return false
	}
	c.pending.Delete(token)
	return true
}

// Err returns the error that terminated the channel, or nil while it is usable.
func (c *ClientChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel has failed or been closed.
func (c *ClientChannel) Done() <-chan struct{} {
	return c.done
}

// Close closes both pipes, fails outstanding waiters and waits for the reader
// to exit.
func (c *ClientChannel) Close() error {
	c.fail(lpcerr.Transport("close", c.opts.name, ErrClosed))
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.calls.Close(), c.returns.Close())
	})
	<-c.loopDone
	return c.closeErr
}

// fail records err as terminal and wakes every waiter. It reports whether this
// call was the one that terminated the channel.
func (c *ClientChannel) fail(err error) bool {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return false
	}
	c.err = err
	close(c.done)
	c.mu.Unlock()

	// Waiters stay registered until their callers collect the error.
	c.pending.Range(func(_, value any) bool {
		value.(*waiter).settle(reply{err: err})
		return true
	})
	return true
}

// recvLoop is the only reader of the return pipe in this process.
func (c *ClientChannel) recvLoop() {
	defer close(c.loopDone)
	for {
		env, err := protocol.ReadReturn(c.returns, c.opts.maxFrameSize)
		if err != nil {
			var fe *protocol.FramingError
			if errors.As(err, &fe) {
				// The frame was consumed whole; the stream is still aligned.
				c.metrics.FramingErrors.WithLabelValues("client").Inc()
				c.log.Warn().Err(err).Msg("Malformed return skipped")
				continue
			}
			if c.fail(lpcerr.Transport("receive", c.opts.name, err)) {
				c.log.Error().Err(err).Msg("Return pipe failed")
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *ClientChannel) dispatch(env *message.Envelope) {
	v, waiting := c.pending.Load(env.Token)
	if waiting && v.(*waiter).settle(reply{env: env}) {
		c.metrics.recordReturn(OutcomeDelivered)
		return
	}
	if c.abandoned.take(env.Token) || waiting {
		// Abandoned, or a duplicate for a token that already has its return.
		c.metrics.recordReturn(OutcomeAbandoned)
		c.log.Debug().Str("token", env.Token.String()).Msg("Late return dropped")
		return
	}
	if c.opts.requeue == nil || c.opts.maxRequeue <= 0 {
		c.metrics.recordReturn(OutcomeDropped)
		return
	}
	if n := c.hops.bump(env.Token); n > c.opts.maxRequeue {
		c.hops.take(env.Token)
		c.metrics.recordReturn(OutcomeDropped)
		c.log.Warn().Str("token", env.Token.String()).Str("function", env.Function).Int("requeued", n-1).
			Msg("Unclaimed return dropped")
		return
	}
	c.metrics.recordReturn(OutcomeRequeued)
	// The reader keeps draining while the write is pending.
	go c.requeue(env)
}

func (c *ClientChannel) requeue(env *message.Envelope) {
	buf, err := protocol.Encode((*protocol.Returning)(env))
	if err != nil {
		c.log.Warn().Err(err).Str("token", env.Token.String()).Msg("Requeue encode failed")
		return
	}
	c.requeueMu.Lock()
	defer c.requeueMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	if err := writeFrame(c.opts.requeue, buf, c.opts.writeTimeout); err != nil {
		c.log.Warn().Err(err).Str("token", env.Token.String()).Msg("Requeue failed")
	}
}
