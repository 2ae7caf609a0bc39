package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-lpc/message"
)

func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("LPC_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("LPC_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func TestEtcdPublishDiscoverWithdraw(t *testing.T) {
	endpoints := etcdEndpoints(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "/mini-lpc-test/" + message.NewToken().String()[:12]
	pub, err := NewEtcdPublisher(ctx, EtcdConfig{Endpoints: endpoints, Prefix: prefix, TTL: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)

	reg := message.Registration{AccessPath: "/hello", Version: "v0.0.1", CallPipeName: "in", ReturnPipeName: "out"}
	require.NoError(t, pub.Publish(ctx, reg))

	got, ok, err := pub.Discover(ctx, "/hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reg.CallPipeName, got.CallPipeName)

	reg.CallPipeName = "in2"
	require.NoError(t, pub.Publish(ctx, reg))
	list, err := pub.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "in2", list[0].CallPipeName)

	require.NoError(t, pub.Withdraw(ctx, "/hello"))
	_, ok, err = pub.Discover(ctx, "/hello")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pub.Publish(ctx, reg))
	require.NoError(t, pub.Close())

	// Revoking the lease on close removes what was published.
	observer, err := NewEtcdPublisher(ctx, EtcdConfig{Endpoints: endpoints, Prefix: prefix}, zerolog.Nop())
	require.NoError(t, err)
	defer observer.Close()
	_, ok, err = observer.Discover(ctx, "/hello")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEtcdWatch(t *testing.T) {
	endpoints := etcdEndpoints(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "/mini-lpc-test/" + message.NewToken().String()[:12]
	pub, err := NewEtcdPublisher(ctx, EtcdConfig{Endpoints: endpoints, Prefix: prefix}, zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	updates := pub.Watch(ctx)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, pub.Publish(ctx, message.Registration{AccessPath: "/w"}))

	select {
	case regs := <-updates:
		require.Len(t, regs, 1)
		assert.Equal(t, "/w", regs[0].AccessPath)
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
}
