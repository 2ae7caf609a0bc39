// Package service implements the service endpoint: it installs an access path
// with the broker, then answers calls arriving on its call pipe.
//
// Call processing pipeline:
//
//	ReceiveCall (single reader)
//	  → worker (inline, or one of Config.Workers goroutines)
//	    → middleware chain → function table → ReplyTo on the return pipe
//
// The wire has no error channel, so a handler error or an unknown function is
// answered with the error text as the result.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/middleware"
	"mini-lpc/pipe"
	"mini-lpc/protocol"
	"mini-lpc/transport"
)

// Config holds service endpoint settings. Pipe names are relative to Root
// unless absolute, and are sent to the broker as given.
type Config struct {
	Root             string
	AccessPath       string
	Version          string
	InstallPipe      string
	CallPipe         string
	ReturnPipe       string
	Workers          int
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxFrameSize     int
}

func DefaultConfig() Config {
	return Config{
		Root:             ".",
		AccessPath:       "/hello",
		Version:          "v0.0.1",
		InstallPipe:      ".pipes/hello_install_pipe",
		CallPipe:         ".pipes/hello_pipe_in",
		ReturnPipe:       ".pipes/hello_pipe_out",
		Workers:          1,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxFrameSize:     transport.DefaultMaxFrameSize,
	}
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *transport.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is an LPC service endpoint.
type Service struct {
	cfg     Config
	rv      pipe.Rendezvous
	log     zerolog.Logger
	metrics *transport.Metrics

	mu          sync.RWMutex
	functions   map[string]middleware.HandlerFunc
	fallback    middleware.HandlerFunc
	middlewares []middleware.Middleware

	ch       *transport.ServiceChannel
	serving  chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup // in-flight calls
	shutdown atomic.Bool
}

// New creates a service endpoint. Install and Serve bring it online.
func New(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Root == "" {
		cfg.Root = def.Root
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	s := &Service{
		cfg:       cfg,
		rv:        pipe.NewRendezvous(cfg.Root),
		log:       zerolog.Nop(),
		functions: make(map[string]middleware.HandlerFunc),
		serving:   make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "service").Str("access_path", cfg.AccessPath).Logger()
	return s
}

// Handle binds fn to h, replacing any previous binding.
func (s *Service) Handle(fn string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[fn] = h
}

// Register binds every handler-shaped exported method of rcvr as "Type.Method".
func (s *Service) Register(rcvr any) error {
	methods, err := receiverMethods(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range methods {
		s.functions[name] = h
	}
	return nil
}

// Fallback handles calls to functions with no binding.
func (s *Service) Fallback(h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = h
}

// Use appends a middleware. Middlewares run in the order added.
func (s *Service) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Install creates the call and return pipes and registers them with the broker:
// an InstallRequest on the broker's install pipe names a private pipe, on which
// the Install packet then follows. The whole handshake is bounded by
// Config.HandshakeTimeout.
func (s *Service) Install(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	if err := s.rv.Prepare(); err != nil {
		return err
	}
	if s.ch == nil {
		ch, err := s.openChannel()
		if err != nil {
			return err
		}
		s.ch = ch
	}

	installPath := s.rv.Path(s.cfg.InstallPipe)
	if err := pipe.Create(installPath, pipe.DefaultPerm); err != nil {
		return err
	}
	defer pipe.Remove(installPath)

	if err := sendFrame(ctx, s.rv.InstallRequestPipe(), &protocol.InstallRequest{PipeName: s.cfg.InstallPipe}); err != nil {
		return err
	}
	err := sendFrame(ctx, installPath, &protocol.Install{
		Version:        s.cfg.Version,
		CallPipeName:   s.cfg.CallPipe,
		ReturnPipeName: s.cfg.ReturnPipe,
		AccessPath:     s.cfg.AccessPath,
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("version", s.cfg.Version).
		Str("call_pipe", s.cfg.CallPipe).
		Str("return_pipe", s.cfg.ReturnPipe).
		Msg("Service installed")
	return nil
}

// openChannel creates both pipes and opens them read-write: the call pipe then
// never reports EOF between clients, and the return pipe never blocks the
// service when no client is reading yet.
func (s *Service) openChannel() (*transport.ServiceChannel, error) {
	callPath, returnPath := s.rv.Path(s.cfg.CallPipe), s.rv.Path(s.cfg.ReturnPipe)
	for _, p := range []string{callPath, returnPath} {
		if err := pipe.Create(p, pipe.DefaultPerm); err != nil {
			return nil, err
		}
	}
	calls, err := pipe.Open(context.Background(), callPath, pipe.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	returns, err := pipe.Open(context.Background(), returnPath, pipe.ModeReadWrite)
	if err != nil {
		calls.Close()
		return nil, err
	}

	opts := []transport.Option{
		transport.WithLogger(s.log),
		transport.WithName(s.cfg.CallPipe + "|" + s.cfg.ReturnPipe),
		transport.WithMaxFrameSize(s.cfg.MaxFrameSize),
		transport.WithWriteTimeout(s.cfg.WriteTimeout),
	}
	if s.metrics != nil {
		opts = append(opts, transport.WithMetrics(s.metrics))
	}
	return transport.NewServiceChannel(calls, returns, opts...), nil
}

// sendFrame opens name for writing within ctx and writes one frame to it.
func sendFrame(ctx context.Context, name string, p protocol.Packet) error {
	f, err := pipe.Open(ctx, name, pipe.ModeWrite)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pipe.SetWriteContext(ctx, f); err != nil {
		return lpcerr.Transport("install", name, err)
	}
	if err := protocol.WriteFrame(f, p); err != nil {
		return lpcerr.Transport("install", name, err)
	}
	return nil
}

// Serve answers calls until ctx is done or Shutdown is called. Install must
// have succeeded first.
func (s *Service) Serve(ctx context.Context) error {
	if s.ch == nil {
		return errors.New("lpc: service not installed")
	}
	if s.shutdown.Load() {
		return nil
	}
	handler := s.buildHandler()
	sem := make(chan struct{}, s.cfg.Workers)

	close(s.serving)
	defer func() {
		close(s.loopDone)
		s.log.Info().Msg("Service stopped serving")
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			_ = s.ch.CloseReceive()
		case <-stop:
		}
	}()

	s.log.Info().Int("workers", s.cfg.Workers).Msg("Service serving")
	for {
		call, err := s.ch.ReceiveCall()
		if err != nil {
			var fe *protocol.FramingError
			if errors.As(err, &fe) {
				s.log.Warn().Err(err).Msg("Malformed call skipped")
				continue
			}
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		if s.cfg.Workers == 1 {
			s.handle(ctx, handler, call)
			continue
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			s.handle(ctx, handler, call)
		}()
	}
}

func (s *Service) buildHandler() middleware.HandlerFunc {
	s.mu.RLock()
	mws := append([]middleware.Middleware{middleware.Recover()}, s.middlewares...)
	s.mu.RUnlock()
	if s.cfg.CallTimeout > 0 {
		mws = append(mws, middleware.Timeout(s.cfg.CallTimeout))
	}
	return middleware.Chain(mws...)(s.dispatch)
}

// handle runs one call and writes its return. Errors become the result text.
func (s *Service) handle(ctx context.Context, handler middleware.HandlerFunc, call *message.Envelope) {
	defer s.wg.Done()
	result, err := handler(context.WithoutCancel(ctx), call)
	if err != nil {
		s.log.Warn().Err(err).Str("function", call.Function).Str("token", call.Token.String()).Msg("Call failed")
		result = []byte(err.Error())
	}
	if err := s.ch.ReplyTo(call, result); err != nil {
		s.log.Error().Err(err).Str("function", call.Function).Str("token", call.Token.String()).Msg("Reply failed")
	}
}

// dispatch is the innermost handler: it looks the function up in the table.
func (s *Service) dispatch(ctx context.Context, call *message.Envelope) ([]byte, error) {
	s.mu.RLock()
	h, ok := s.functions[call.Function]
	if !ok {
		h = s.fallback
	}
	s.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("lpc: unknown function %q", call.Function)
	}
	return h(ctx, call)
}

// Shutdown stops receiving calls, waits up to timeout for in-flight calls to
// reply, then closes and removes the call and return pipes.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	if s.ch == nil {
		return nil
	}
	_ = s.ch.CloseReceive()

	done := make(chan struct{})
	go func() {
		select {
		case <-s.serving:
			<-s.loopDone
		default:
		}
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing calls to finish")
	}

	err = errors.Join(err, s.ch.Close())
	for _, name := range []string{s.cfg.CallPipe, s.cfg.ReturnPipe} {
		err = errors.Join(err, pipe.Remove(s.rv.Path(name)))
	}
	return err
}

// Serving is closed once Serve has started reading calls.
func (s *Service) Serving() <-chan struct{} {
	return s.serving
}
