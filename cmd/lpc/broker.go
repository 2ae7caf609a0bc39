package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mini-lpc/broker"
	"mini-lpc/registry"
)

func brokerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the broker on the rendezvous directory",
		RunE:  runBroker,
	}
	cmd.Flags().String("admin-addr", "", "admin HTTP listen address, empty disables it")
	cmd.Flags().StringSlice("etcd", nil, "etcd endpoints to mirror registrations to")
	cmd.Flags().Duration("request-timeout", 0, "bound on each install or connect exchange")
	return cmd
}

func runBroker(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	opts := []broker.Option{broker.WithLogger(log)}
	if len(cfg.Broker.EtcdEndpoints) > 0 {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pub, err := registry.NewEtcdPublisher(dialCtx, cfg.EtcdConfig(), log)
		cancel()
		if err != nil {
			return err
		}
		opts = append(opts, broker.WithPublisher(pub))
	}
	b := broker.New(cfg.BrokerConfig(), opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)
	go func() { errc <- b.Serve(ctx) }()
	running := 1
	if cfg.Broker.AdminAddr != "" {
		admin := broker.NewAdminServer(cfg.AdminConfig(), b, prometheus.DefaultGatherer, log)
		go func() { errc <- admin.Start(ctx) }()
		running++
	}

	log.Info().
		Str("version", Version).
		Str("admin_addr", cfg.Broker.AdminAddr).
		Strs("etcd", cfg.Broker.EtcdEndpoints).
		Msg("Broker starting")

	// The first component to stop takes the others down with it.
	err = <-errc
	cancel()
	for ; running > 1; running-- {
		if rerr := <-errc; err == nil {
			err = rerr
		}
	}
	if serr := b.Shutdown(5 * time.Second); serr != nil {
		log.Warn().Err(serr).Msg("Broker shutdown")
	}
	return err
}
