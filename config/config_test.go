package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Rendezvous.Root)
	assert.Equal(t, "/hello", cfg.Service.AccessPath)
	assert.Equal(t, "v0.0.1", cfg.Service.Version)
	assert.Equal(t, ".pipes/hello_install_pipe", cfg.Service.InstallPipe)
	assert.Equal(t, ".pipes/hello_pipe_in", cfg.Service.CallPipe)
	assert.Equal(t, ".pipes/hello_pipe_out", cfg.Service.ReturnPipe)
	assert.Equal(t, 5*time.Second, cfg.Broker.RequestTimeout)
	assert.Empty(t, cfg.Broker.EtcdEndpoints)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
rendezvous:
  root: /tmp/lpc
broker:
  request_timeout: 2s
  etcd_endpoints: ["127.0.0.1:2379"]
service:
  access_path: /math
  workers: 4
client:
  retry_attempts: 9
log:
  level: debug
  pretty: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/lpc", cfg.Rendezvous.Root)
	assert.Equal(t, 2*time.Second, cfg.Broker.RequestTimeout)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Broker.EtcdEndpoints)
	assert.Equal(t, "/math", cfg.Service.AccessPath)
	assert.Equal(t, 4, cfg.Service.Workers)
	assert.Equal(t, 9, cfg.Client.RetryAttempts)
	assert.True(t, cfg.Log.Pretty)
	// Untouched keys keep their defaults.
	assert.Equal(t, ".pipes/hello_pipe_in", cfg.Service.CallPipe)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "service:\n  version: v1.0.0\n")
	t.Setenv("LPC_SERVICE_VERSION", "v2.0.0")
	t.Setenv("LPC_CLIENT_CALL_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", cfg.Service.Version)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.CallTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Rendezvous.Root = "" }},
		{"request timeout", func(c *Config) { c.Broker.RequestTimeout = 0 }},
		{"access path", func(c *Config) { c.Service.AccessPath = "hello" }},
		{"same pipes", func(c *Config) { c.Service.ReturnPipe = c.Service.CallPipe }},
		{"workers", func(c *Config) { c.Service.Workers = 0 }},
		{"rate burst", func(c *Config) { c.Service.RateLimit, c.Service.RateBurst = 10, 0 }},
		{"client access path", func(c *Config) { c.Client.AccessPath = "" }},
		{"retry attempts", func(c *Config) { c.Client.RetryAttempts = 0 }},
		{"etcd ttl", func(c *Config) {
			c.Broker.EtcdEndpoints = []string{"127.0.0.1:2379"}
			c.Broker.EtcdTTL = 0
		}},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Service.AccessPath = "/echo"
	cfg.Client.RetryBaseDelay = 75 * time.Millisecond

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, cfg))
	assert.Contains(t, buf.String(), "request_timeout: 5s")

	loaded, err := Load(writeFile(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.Rendezvous.Root = "/run/lpc"

	assert.Equal(t, "/run/lpc", cfg.BrokerConfig().Root)
	assert.Equal(t, "/run/lpc", cfg.ServiceConfig().Root)
	assert.Equal(t, "/run/lpc", cfg.ClientConfig().Root)
	assert.Equal(t, cfg.Service.CallPipe, cfg.ServiceConfig().CallPipe)
	assert.Equal(t, cfg.Broker.AdminAddr, cfg.AdminConfig().ListenAddr)
	assert.Equal(t, cfg.Broker.EtcdPrefix, cfg.EtcdConfig().Prefix)
}
