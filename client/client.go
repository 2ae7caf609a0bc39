// Package client implements the client endpoint: it resolves an access path
// through the broker, then calls the service directly over its call channel.
//
//	Connect
//	  → ConnectionRequest on connection_req_pipe (retried with backoff)
//	  → Connect read from a private response pipe
//	  → Dial: shared ClientChannel for the call/return pipe pair
//
// Clients of one process that resolve the same pipe pair share one channel, so
// the return pipe has a single reader per process.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/codec"
	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/pipe"
	"mini-lpc/transport"
)

// Config holds client endpoint settings.
type Config struct {
	Root       string
	AccessPath string
	// ResponsePipe names the private pipe the broker answers on. Empty picks a
	// fresh name under the pipes directory for every attempt.
	ResponsePipe   string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	MaxRequeue     int
	MaxFrameSize   int
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Root:           ".",
		AccessPath:     "/hello",
		ConnectTimeout: 5 * time.Second,
		CallTimeout:    10 * time.Second,
		RetryAttempts:  5,
		RetryBaseDelay: 50 * time.Millisecond,
		MaxRequeue:     transport.DefaultMaxRequeue,
		MaxFrameSize:   transport.DefaultMaxFrameSize,
		WriteTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Root == "" {
		c.Root = def.Root
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	return c
}

// Option configures a Client.
type Option func(*options)

type options struct {
	log     zerolog.Logger
	metrics *transport.Metrics
	pool    *Pool
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *transport.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPool shares channels through p instead of the process-wide pool.
func WithPool(p *Pool) Option {
	return func(o *options) { o.pool = p }
}

// Client is a connected client endpoint. It is safe for concurrent use.
type Client struct {
	cfg  Config
	reg  message.Registration
	log  zerolog.Logger
	pool *Pool
	key  string
	ch   *transport.ClientChannel

	closeOnce sync.Once
}

// Connect resolves cfg.AccessPath with the broker and dials the service it is
// registered to. Resolution is retried while the access path is unknown or the
// broker does not answer in time.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	var reg message.Registration
	retrier := NewRetrier(cfg.RetryAttempts, cfg.RetryBaseDelay, o.log)
	err := retrier.Do(ctx, "connect", func(ctx context.Context) error {
		var err error
		reg, err = Resolve(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dial(ctx, cfg, reg, o)
}

// Dial opens a client for a registration resolved earlier.
func Dial(ctx context.Context, cfg Config, reg message.Registration, opts ...Option) (*Client, error) {
	return dial(ctx, cfg.withDefaults(), reg, buildOptions(opts))
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = defaultPool
	}
	return o
}

func dial(ctx context.Context, cfg Config, reg message.Registration, o options) (*Client, error) {
	if reg.CallPipeName == "" || reg.ReturnPipeName == "" {
		return nil, lpcerr.New(lpcerr.KindUnknownAccessPath, "dial").WithPath(reg.AccessPath)
	}
	log := o.log.With().Str("component", "client").Str("access_path", reg.AccessPath).Logger()

	rv := pipe.NewRendezvous(cfg.Root)
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	key, ch, err := o.pool.acquire(ctx, rv.Path(reg.CallPipeName), rv.Path(reg.ReturnPipeName), channelOptions(cfg, o, log))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("version", reg.Version).Str("call_pipe", reg.CallPipeName).Msg("Client connected")
	return &Client{cfg: cfg, reg: reg, log: log, pool: o.pool, key: key, ch: ch}, nil
}

func channelOptions(cfg Config, o options, log zerolog.Logger) []transport.Option {
	opts := []transport.Option{
		transport.WithLogger(log),
		transport.WithMaxFrameSize(cfg.MaxFrameSize),
		transport.WithMaxRequeue(cfg.MaxRequeue),
		transport.WithWriteTimeout(cfg.WriteTimeout),
	}
	if o.metrics != nil {
		opts = append(opts, transport.WithMetrics(o.metrics))
	}
	return opts
}

// Version is the service version the broker reported.
func (c *Client) Version() string {
	return c.reg.Version
}

// Registration is what the broker resolved the access path to.
func (c *Client) Registration() message.Registration {
	return c.reg
}

// Call writes a call for fn and returns its token without waiting.
func (c *Client) Call(ctx context.Context, fn string, args ...[]byte) (message.Token, error) {
	return c.ch.Call(ctx, fn, args...)
}

// AwaitReturn waits for the result of the call identified by token. Without a
// deadline on ctx, Config.CallTimeout bounds the wait.
func (c *Client) AwaitReturn(ctx context.Context, token message.Token) ([]byte, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	env, err := c.ch.AwaitReturn(ctx, token)
	if err != nil {
		return nil, err
	}
	return env.Result(), nil
}

// Invoke calls fn and waits for its result.
func (c *Client) Invoke(ctx context.Context, fn string, args ...[]byte) ([]byte, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.ch.Invoke(ctx, fn, args...)
}

// InvokeCodec encodes args with cd, calls fn and decodes the result into reply.
// A nil reply discards the result.
func (c *Client) InvokeCodec(ctx context.Context, cd codec.Codec, fn string, reply any, args ...any) error {
	raw, err := codec.EncodeAll(cd, args...)
	if err != nil {
		return fmt.Errorf("encode arguments of %s: %w", fn, err)
	}
	out, err := c.Invoke(ctx, fn, raw...)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := cd.Decode(out, reply); err != nil {
		return fmt.Errorf("decode result of %s: %w", fn, err)
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// Close releases the client's share of the channel. The channel itself closes
// with its last client.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pool.release(c.key, c.ch)
	})
	return err
}
