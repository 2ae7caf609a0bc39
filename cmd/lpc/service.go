package main

import (
	"time"

	"github.com/spf13/cobra"

	"mini-lpc/middleware"
	"mini-lpc/service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install the hello service and answer calls",
		Long: "service installs an access path with the broker and answers every call to fn\n" +
			"with \"Hello from fn(arg1, arg2, ...)\".",
		RunE: runService,
	}
	cmd.Flags().String("access-path", "", "access path to install")
	cmd.Flags().String("version", "", "service version reported to clients")
	cmd.Flags().String("call-pipe", "", "call pipe name")
	cmd.Flags().String("return-pipe", "", "return pipe name")
	cmd.Flags().Int("workers", 0, "calls handled concurrently")
	cmd.Flags().Float64("rate-limit", 0, "calls per second, 0 for no limit")
	return cmd
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	svc := service.New(cfg.ServiceConfig(), service.WithLogger(log))
	svc.Use(middleware.Logging(log))
	if cfg.Service.RateLimit > 0 {
		svc.Use(middleware.RateLimit(cfg.Service.RateLimit, cfg.Service.RateBurst))
	}
	svc.Fallback(service.HelloHandler)

	if err := svc.Install(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Shutdown(5 * time.Second); err != nil {
			log.Warn().Err(err).Msg("Service shutdown")
		}
	}()
	return svc.Serve(ctx)
}
