package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-lpc/message"
	"mini-lpc/metrics"
)

func newAdmin(t *testing.T) (*Broker, *AdminServer) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(metrics.NewComponentRegistryWith(reg, "lpc", "broker"))
	b := New(Config{Root: t.TempDir()}, WithMetrics(m))
	return b, NewAdminServer(DefaultAdminConfig(), b, reg, zerolog.Nop())
}

func serve(t *testing.T, s *AdminServer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestAdminHealth(t *testing.T) {
	_, s := newAdmin(t)
	rec := serve(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "starting", body["status"])
	assert.Equal(t, float64(0), body["registrations"])
}

func TestAdminRegistrations(t *testing.T) {
	b, s := newAdmin(t)
	b.Registry().Register(message.Registration{AccessPath: "/b", Version: "v1", CallPipeName: "b_in", ReturnPipeName: "b_out"})
	b.Registry().Register(message.Registration{AccessPath: "/a", Version: "v1", CallPipeName: "a_in", ReturnPipeName: "a_out"})

	rec := serve(t, s, http.MethodGet, "/registrations")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []message.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "/a", list[0].AccessPath)

	rec = serve(t, s, http.MethodGet, "/registration?path=/b")
	require.Equal(t, http.StatusOK, rec.Code)
	var one message.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "b_in", one.CallPipeName)

	rec = serve(t, s, http.MethodGet, "/registration?path=/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_access_path")
}

func TestAdminDelete(t *testing.T) {
	b, s := newAdmin(t)
	b.Registry().Register(message.Registration{AccessPath: "/hello", Version: "v0.0.1", CallPipeName: "in", ReturnPipeName: "out"})

	rec := serve(t, s, http.MethodDelete, "/registration?path=/hello")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, b.Registry().Len())

	rec = serve(t, s, http.MethodDelete, "/registration?path=/hello")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminMetrics(t *testing.T) {
	b, s := newAdmin(t)
	b.metrics.RecordRequest("connect", StateRejected, time.Millisecond)

	rec := serve(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `lpc_broker_requests_total{outcome="rejected",type="connect"} 1`))
}

func TestAdminMethodNotAllowed(t *testing.T) {
	_, s := newAdmin(t)
	rec := serve(t, s, http.MethodPost, "/registrations")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminStart(t *testing.T) {
	_, s := newAdmin(t)
	s.cfg.ListenAddr = "127.0.0.1:0"
	s.http.Addr = s.cfg.ListenAddr

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()
	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
}
