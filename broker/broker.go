// Package broker implements the LPC broker: a long-running process that owns the
// registration table and answers install and connect requests arriving on the two
// well-known pipes of the rendezvous directory.
//
//	install_req_pipe    → InstallRequest → open private pipe → read Install → register
//	connection_req_pipe → ConnectionRequest → lookup → write Connect to the client's pipe
//
// Each request is handled in its own goroutine under a timeout, so a peer that
// never opens its end of a pipe only stalls its own request.
package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/pipe"
	"mini-lpc/protocol"
	"mini-lpc/registry"
)

// Config holds broker settings.
type Config struct {
	// Root of the rendezvous directory.
	Root string
	// RequestTimeout bounds each install or connect exchange.
	RequestTimeout time.Duration
	// MaxFrameSize bounds frames read from request pipes; 0 means no limit.
	MaxFrameSize int
}

func DefaultConfig() Config {
	return Config{
		Root:           ".",
		RequestTimeout: 5 * time.Second,
		MaxFrameSize:   1 << 20,
	}
}

// Option configures a Broker.
type Option func(*Broker)

func WithLogger(log zerolog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithRegistry replaces the default in-memory table.
func WithRegistry(r registry.Registry) Option {
	return func(b *Broker) { b.table = r }
}

// WithPublisher mirrors every registration change to p.
func WithPublisher(p registry.Publisher) Option {
	return func(b *Broker) { b.pub = p }
}

func WithMetrics(m *Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// Broker serves the install and connection request pipes.
type Broker struct {
	cfg     Config
	rv      pipe.Rendezvous
	table   registry.Registry
	pub     registry.Publisher
	log     zerolog.Logger
	metrics *Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu        sync.Mutex
	requests  []*os.File
	ready     chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	// Install requests are stamped in arrival order; a registration only
	// replaces one stamped earlier for the same access path.
	orderMu sync.Mutex
	applied map[string]uint64

	loops    sync.WaitGroup // request pipe readers
	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
}

// New creates a broker. Serve starts it.
func New(cfg Config, opts ...Option) *Broker {
	def := DefaultConfig()
	if cfg.Root == "" {
		cfg.Root = def.Root
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		cfg:        cfg,
		rv:         pipe.NewRendezvous(cfg.Root),
		log:        zerolog.Nop(),
		baseCtx:    ctx,
		cancelBase: cancel,
		ready:      make(chan struct{}),
		stop:       make(chan struct{}),
		applied:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.table == nil {
		b.table = registry.NewTable()
	}
	if b.metrics == nil {
		b.metrics = NewMetrics()
	}
	b.log = b.log.With().Str("component", "broker").Str("root", cfg.Root).Logger()
	return b
}

// Serve creates the rendezvous pipes and handles requests until ctx is done or
// Shutdown is called. It returns nil on a requested stop.
func (b *Broker) Serve(ctx context.Context) error {
	if err := b.rv.Prepare(); err != nil {
		return err
	}

	installs, err := b.openRequestPipe(b.rv.InstallRequestPipe())
	if err != nil {
		return err
	}
	connects, err := b.openRequestPipe(b.rv.ConnectionRequestPipe())
	if err != nil {
		installs.Close()
		return err
	}

	b.mu.Lock()
	if b.shutdown.Load() {
		b.mu.Unlock()
		installs.Close()
		connects.Close()
		return nil
	}
	b.requests = []*os.File{installs, connects}
	b.mu.Unlock()

	b.loops.Add(2)
	go b.serveRequests(installs, protocol.KindInstallRequest, b.handleInstall)
	go b.serveRequests(connects, protocol.KindConnectionRequest, b.handleConnect)

	close(b.ready)
	b.log.Info().
		Str("install_pipe", b.rv.InstallRequestPipe()).
		Str("connect_pipe", b.rv.ConnectionRequestPipe()).
		Msg("Broker serving")

	select {
	case <-ctx.Done():
	case <-b.stop:
	}
	b.closeRequestPipes()
	b.loops.Wait()
	b.log.Info().Msg("Broker stopped")
	return nil
}

// openRequestPipe opens a well-known pipe read-write so the broker never sees
// EOF between writers.
func (b *Broker) openRequestPipe(name string) (*os.File, error) {
	if err := pipe.Create(name, pipe.DefaultPerm); err != nil {
		return nil, err
	}
	return pipe.Open(context.Background(), name, pipe.ModeReadWrite)
}

// Ready is closed once both request pipes are open.
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

// Registry returns the broker's registration table.
func (b *Broker) Registry() registry.Registry {
	return b.table
}

// Resolve looks up accessPath the same way a connect request does.
func (b *Broker) Resolve(accessPath string) (message.Registration, error) {
	reg, ok := b.table.Lookup(accessPath)
	if !ok {
		return message.Registration{}, lpcerr.New(lpcerr.KindUnknownAccessPath, "resolve").WithPath(accessPath)
	}
	return reg, nil
}

// Deregister removes the registration for accessPath.
func (b *Broker) Deregister(ctx context.Context, accessPath string) (message.Registration, bool) {
	prev, ok := b.table.Deregister(accessPath)
	if !ok {
		return prev, false
	}
	b.metrics.Registrations.Set(float64(b.table.Len()))
	b.log.Info().Str("access_path", accessPath).Str("call_pipe", prev.CallPipeName).Msg("Service deregistered")
	if b.pub != nil {
		if err := b.pub.Withdraw(ctx, accessPath); err != nil {
			b.log.Warn().Err(err).Str("access_path", accessPath).Msg("Withdraw from publisher failed")
		}
	}
	return prev, true
}

// Shutdown stops reading requests, then waits up to timeout for in-flight
// requests to finish. Requests still running after timeout are cancelled.
func (b *Broker) Shutdown(timeout time.Duration) error {
	b.shutdown.Store(true)
	b.stopOnce.Do(func() { close(b.stop) })
	b.closeRequestPipes()
	b.loops.Wait()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		b.cancelBase()
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
	b.cancelBase()

	if b.pub != nil {
		if cerr := b.pub.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	for _, name := range []string{b.rv.InstallRequestPipe(), b.rv.ConnectionRequestPipe()} {
		if rerr := pipe.Remove(name); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

func (b *Broker) closeRequestPipes() {
	b.closeOnce.Do(func() {
		b.shutdown.Store(true)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, f := range b.requests {
			_ = f.Close()
		}
	})
}

// serveRequests reads request frames of one kind and hands each to handle in
// its own goroutine, along with its arrival sequence number.
func (b *Broker) serveRequests(f *os.File, kind protocol.Kind, handle func(context.Context, uint64, protocol.Packet)) {
	defer b.loops.Done()
	var seq uint64
	for {
		p, err := protocol.ReadFrame(f, kind, b.cfg.MaxFrameSize)
		if err != nil {
			var fe *protocol.FramingError
			if errors.As(err, &fe) {
				b.metrics.RecordRequest(requestType(kind), StateRejected, 0)
				b.log.Warn().Err(err).Str("type", requestType(kind)).Msg("Malformed request skipped")
				continue
			}
			if !b.shutdown.Load() {
				b.log.Error().Err(err).Str("type", requestType(kind)).Msg("Request pipe failed")
			}
			return
		}
		if b.shutdown.Load() {
			return
		}

		seq++
		b.wg.Add(1)
		go func(seq uint64) {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(b.baseCtx, b.cfg.RequestTimeout)
			defer cancel()
			handle(ctx, seq, p)
		}(seq)
	}
}

func requestType(kind protocol.Kind) string {
	if kind == protocol.KindInstallRequest {
		return "install"
	}
	return "connect"
}
