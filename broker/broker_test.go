//go:build !windows

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-lpc/lpcerr"
	"mini-lpc/message"
	"mini-lpc/metrics"
	"mini-lpc/pipe"
	"mini-lpc/protocol"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []message.Registration
	withdrawn []string
	closed    bool
}

func (p *recordingPublisher) Publish(_ context.Context, reg message.Registration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, reg)
	return nil
}

func (p *recordingPublisher) Withdraw(_ context.Context, accessPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawn = append(p.withdrawn, accessPath)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func testBrokerMetrics() *Metrics {
	return NewMetricsWith(metrics.NewComponentRegistryWith(prometheus.NewRegistry(), "lpc", "broker"))
}

func startBroker(t *testing.T, opts ...Option) (*Broker, pipe.Rendezvous) {
	t.Helper()
	root := t.TempDir()
	opts = append([]Option{WithMetrics(testBrokerMetrics())}, opts...)
	b := New(Config{Root: root, RequestTimeout: 500 * time.Millisecond}, opts...)

	errc := make(chan error, 1)
	go func() { errc <- b.Serve(context.Background()) }()
	select {
	case <-b.Ready():
	case err := <-errc:
		t.Fatalf("serve: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("broker not ready")
	}
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })
	return b, pipe.NewRendezvous(root)
}

func writeFrame(t *testing.T, ctx context.Context, name string, p protocol.Packet) {
	t.Helper()
	require.NoError(t, sendFrame(ctx, name, p))
}

func sendFrame(ctx context.Context, name string, p protocol.Packet) error {
	f, err := pipe.Open(ctx, name, pipe.ModeWrite)
	if err != nil {
		return err
	}
	defer f.Close()
	return protocol.WriteFrame(f, p)
}

// install runs the service side of the install handshake by hand.
func install(t *testing.T, rv pipe.Rendezvous, privatePipe string, in *protocol.Install) {
	t.Helper()
	require.NoError(t, tryInstall(rv, privatePipe, in))
}

func tryInstall(rv pipe.Rendezvous, privatePipe string, in *protocol.Install) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	path := rv.Path(privatePipe)
	if err := pipe.Create(path, pipe.DefaultPerm); err != nil {
		return err
	}
	defer pipe.Remove(path)

	if err := sendFrame(ctx, rv.InstallRequestPipe(), &protocol.InstallRequest{PipeName: privatePipe}); err != nil {
		return err
	}
	return sendFrame(ctx, path, in)
}

// connect runs the client side of the connect handshake by hand.
func connect(t *testing.T, rv pipe.Rendezvous, accessPath string) *protocol.Connect {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	name := rv.PipeName("connect_test")
	path := rv.Path(name)
	require.NoError(t, pipe.Create(path, pipe.DefaultPerm))
	defer pipe.Remove(path)

	resp, err := pipe.Open(ctx, path, pipe.ModeReadWrite)
	require.NoError(t, err)
	defer resp.Close()

	writeFrame(t, ctx, rv.ConnectionRequestPipe(), &protocol.ConnectionRequest{ResponsePipeName: name, AccessPath: accessPath})
	require.NoError(t, pipe.SetReadContext(ctx, resp))
	p, err := protocol.ReadFrame(resp, protocol.KindConnect, 0)
	require.NoError(t, err)
	return p.(*protocol.Connect)
}

func waitRegistered(t *testing.T, b *Broker, accessPath, version string) {
	t.Helper()
	require.Eventually(t, func() bool {
		reg, ok := b.Registry().Lookup(accessPath)
		return ok && reg.Version == version
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstallThenConnect(t *testing.T) {
	pub := &recordingPublisher{}
	b, rv := startBroker(t, WithPublisher(pub))

	install(t, rv, ".pipes/hello_install_pipe", &protocol.Install{
		Version: "v0.0.1", CallPipeName: "in", ReturnPipeName: "out", AccessPath: "/hello",
	})
	waitRegistered(t, b, "/hello", "v0.0.1")

	reply := connect(t, rv, "/hello")
	assert.Equal(t, &protocol.Connect{Version: "v0.0.1", CallPipeName: "in", ReturnPipeName: "out"}, reply)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("install", "registered")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Registrations))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("connect", "resolved")) == 1
	}, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 1)
	assert.Equal(t, "/hello", pub.published[0].AccessPath)
}

func TestLastWriterWins(t *testing.T) {
	b, rv := startBroker(t)

	install(t, rv, ".pipes/a_install", &protocol.Install{Version: "v1", CallPipeName: "in1", ReturnPipeName: "out1", AccessPath: "/svc"})
	waitRegistered(t, b, "/svc", "v1")
	install(t, rv, ".pipes/b_install", &protocol.Install{Version: "v2", CallPipeName: "in2", ReturnPipeName: "out2", AccessPath: "/svc"})
	waitRegistered(t, b, "/svc", "v2")

	assert.Equal(t, 1, b.Registry().Len())
	reply := connect(t, rv, "/svc")
	assert.Equal(t, "in2", reply.CallPipeName)
}

func TestConnectUnknownAccessPath(t *testing.T) {
	b, rv := startBroker(t)

	start := time.Now()
	reply := connect(t, rv, "/missing")
	assert.False(t, reply.Found())
	assert.Less(t, time.Since(start), time.Second)

	_, err := b.Resolve("/missing")
	assert.True(t, errors.Is(err, lpcerr.ErrUnknownAccessPath))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("connect", "rejected")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIncompleteInstallIsRejected(t *testing.T) {
	b, rv := startBroker(t)

	install(t, rv, ".pipes/bad_install", &protocol.Install{Version: "v1", CallPipeName: "in"})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("install", "rejected")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Registry().Len())

	// The broker keeps serving after a rejected request.
	install(t, rv, ".pipes/good_install", &protocol.Install{Version: "v1", CallPipeName: "in", ReturnPipeName: "out", AccessPath: "/ok"})
	waitRegistered(t, b, "/ok", "v1")
}

func TestInstallWithoutFollowUpTimesOut(t *testing.T) {
	b, rv := startBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	writeFrame(t, ctx, rv.InstallRequestPipe(), &protocol.InstallRequest{PipeName: ".pipes/silent"})

	// A connect issued meanwhile is not held up by the stalled install.
	assert.False(t, connect(t, rv, "/hello").Found())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.RequestsTotal.WithLabelValues("install", "rejected")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentInstalls(t *testing.T) {
	b, rv := startBroker(t)

	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, tryInstall(rv, ".pipes/install"+p[1:], &protocol.Install{
				Version: "v0.0.1", CallPipeName: p + "_in", ReturnPipeName: p + "_out", AccessPath: p,
			}))
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return b.Registry().Len() == len(paths) }, 2*time.Second, 5*time.Millisecond)
	for _, p := range paths {
		assert.Equal(t, p+"_in", connect(t, rv, p).CallPipeName)
	}
}

func TestDeregisterWithdraws(t *testing.T) {
	pub := &recordingPublisher{}
	b, rv := startBroker(t, WithPublisher(pub))

	install(t, rv, ".pipes/x_install", &protocol.Install{Version: "v1", CallPipeName: "in", ReturnPipeName: "out", AccessPath: "/x"})
	waitRegistered(t, b, "/x", "v1")

	prev, ok := b.Deregister(context.Background(), "/x")
	require.True(t, ok)
	assert.Equal(t, "in", prev.CallPipeName)
	_, ok = b.Deregister(context.Background(), "/x")
	assert.False(t, ok)
	assert.False(t, connect(t, rv, "/x").Found())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{"/x"}, pub.withdrawn)
}

func TestShutdownRemovesRequestPipes(t *testing.T) {
	pub := &recordingPublisher{}
	root := t.TempDir()
	b := New(Config{Root: root}, WithMetrics(testBrokerMetrics()), WithPublisher(pub))

	served := make(chan error, 1)
	go func() { served <- b.Serve(context.Background()) }()
	<-b.Ready()

	require.NoError(t, b.Shutdown(time.Second))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	rv := pipe.NewRendezvous(root)
	assert.False(t, pipe.IsFIFO(rv.InstallRequestPipe()))
	assert.False(t, pipe.IsFIFO(rv.ConnectionRequestPipe()))
	assert.True(t, pub.closed)
}

func TestShutdownBeforeServe(t *testing.T) {
	b := New(Config{Root: t.TempDir()}, WithMetrics(testBrokerMetrics()))
	require.NoError(t, b.Shutdown(time.Second))
	assert.NoError(t, b.Serve(context.Background()))
}

func TestStateFinal(t *testing.T) {
	assert.False(t, StateReceived.Final())
	assert.False(t, StateParsed.Final())
	assert.True(t, StateRegistered.Final())
	assert.True(t, StateResolved.Final())
	assert.True(t, StateRejected.Final())
	assert.Equal(t, "rejected", StateRejected.String())
}

func TestEarlierInstallDoesNotReplaceLater(t *testing.T) {
	b := New(Config{Root: t.TempDir()}, WithMetrics(testBrokerMetrics()))

	// The second request finished its handshake first.
	_, _, err := b.register(2, message.Registration{AccessPath: "/svc", Version: "v2", CallPipeName: "in2"})
	require.NoError(t, err)
	_, _, err = b.register(1, message.Registration{AccessPath: "/svc", Version: "v1", CallPipeName: "in1"})
	assert.ErrorIs(t, err, errStaleInstall)

	reg, err := b.Resolve("/svc")
	require.NoError(t, err)
	assert.Equal(t, "v2", reg.Version)

	// Other access paths are ordered independently.
	_, _, err = b.register(1, message.Registration{AccessPath: "/other", Version: "v1", CallPipeName: "o"})
	assert.NoError(t, err)
	prev, replaced, err := b.register(3, message.Registration{AccessPath: "/svc", Version: "v3", CallPipeName: "in3"})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "in2", prev.CallPipeName)
}
