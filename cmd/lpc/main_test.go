package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-lpc/config"
)

func TestApplyFlags(t *testing.T) {
	cmd := serviceCmd()
	cmd.Flags().String("root", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("log-pretty", false, "")
	require.NoError(t, cmd.ParseFlags([]string{"--root", "/run/lpc", "--access-path", "/math", "--workers", "3", "--log-level", "debug"}))

	cfg := config.Default()
	applyFlags(cmd, cfg)
	assert.Equal(t, "/run/lpc", cfg.Rendezvous.Root)
	assert.Equal(t, "/math", cfg.Service.AccessPath)
	assert.Equal(t, "/math", cfg.Client.AccessPath)
	assert.Equal(t, 3, cfg.Service.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Flags left unset keep configured values.
	assert.Equal(t, "v0.0.1", cfg.Service.Version)
}

func TestApplyFlagsBroker(t *testing.T) {
	cmd := brokerCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--etcd", "a:2379,b:2379", "--request-timeout", "3s"}))

	cfg := config.Default()
	applyFlags(cmd, cfg)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Broker.EtcdEndpoints)
	assert.Equal(t, 3*time.Second, cfg.Broker.RequestTimeout)
}

func run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{}, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := run(t, versionCmd())
	assert.Contains(t, out, "Version:    dev")
}

func TestGenConfigCommand(t *testing.T) {
	out := run(t, genConfigCmd())
	assert.Contains(t, out, "access_path: /hello")
	assert.Contains(t, out, "request_timeout: 5s")
}
