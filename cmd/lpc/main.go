package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mini-lpc/config"
	"mini-lpc/logger"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "lpc",
		Short: "Local procedure calls over named pipes",
		Long: "lpc runs the broker, a demo service and a demo client of the local procedure call\n" +
			"system. Processes meet in a rendezvous directory: the broker serves\n" +
			".dispatcher/install_req_pipe and .dispatcher/connection_req_pipe, services and\n" +
			"clients keep their pipes under .pipes/.",
		SilenceUsage: true,
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context) error {
	initCommands()
	return rootCmd.ExecuteContext(ctx)
}

func initCommands() {
	rootCmd.AddCommand(brokerCmd(), serviceCmd(), clientCmd(), watchCmd(), genConfigCmd(), versionCmd())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file path (YAML)")
	pf.String("root", "", "rendezvous directory")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.Bool("log-pretty", false, "enable pretty logging")
}

// loadConfig reads the config file and environment, then applies flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
	log.Debug().
		Str("config_file", cfgFile).
		Str("root", cfg.Rendezvous.Root).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")
	return cfg, log, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("root") {
		cfg.Rendezvous.Root, _ = flags.GetString("root")
	}
	if changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if changed("log-pretty") {
		cfg.Log.Pretty, _ = flags.GetBool("log-pretty")
	}

	if changed("admin-addr") {
		cfg.Broker.AdminAddr, _ = flags.GetString("admin-addr")
	}
	if changed("etcd") {
		cfg.Broker.EtcdEndpoints, _ = flags.GetStringSlice("etcd")
	}
	if changed("request-timeout") {
		cfg.Broker.RequestTimeout, _ = flags.GetDuration("request-timeout")
	}

	if changed("access-path") {
		path, _ := flags.GetString("access-path")
		cfg.Service.AccessPath, cfg.Client.AccessPath = path, path
	}
	if changed("version") {
		cfg.Service.Version, _ = flags.GetString("version")
	}
	if changed("call-pipe") {
		cfg.Service.CallPipe, _ = flags.GetString("call-pipe")
	}
	if changed("return-pipe") {
		cfg.Service.ReturnPipe, _ = flags.GetString("return-pipe")
	}
	if changed("workers") {
		cfg.Service.Workers, _ = flags.GetInt("workers")
	}
	if changed("rate-limit") {
		cfg.Service.RateLimit, _ = flags.GetFloat64("rate-limit")
	}

	if changed("call-timeout") {
		cfg.Client.CallTimeout, _ = flags.GetDuration("call-timeout")
	}
	if changed("retries") {
		cfg.Client.RetryAttempts, _ = flags.GetInt("retries")
	}
}
