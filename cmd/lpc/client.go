package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"mini-lpc/client"
	"mini-lpc/codec"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [function] [args...]",
		Short: "Connect to an access path and call a function",
		Long: "client resolves the access path through the broker and calls the function with\n" +
			"the given arguments, once per simulated client. Each client prints its result.",
		Args: cobra.ArbitraryArgs,
		RunE: runClient,
	}
	cmd.Flags().String("access-path", "", "access path to connect to")
	cmd.Flags().Int("clients", 1, "number of concurrent clients")
	cmd.Flags().String("codec", "raw", "argument codec (raw, json); results are printed as received")
	cmd.Flags().Duration("call-timeout", 0, "bound on each call")
	cmd.Flags().Int("retries", 0, "connect attempts while the access path is unknown")
	return cmd
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fn := "func"
	if len(args) > 0 {
		fn, args = args[0], args[1:]
	}
	n, _ := cmd.Flags().GetInt("clients")
	codecName, _ := cmd.Flags().GetString("codec")
	ct, err := codec.ParseCodecType(codecName)
	if err != nil {
		return err
	}
	cd := codec.GetCodec(ct)

	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a
	}

	ctx := cmd.Context()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			out, err := callOnce(ctx, cfg.ClientConfig(), cd, fn, values, client.WithLogger(log.With().Int("client", id).Logger()))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("client %d: %w", id, err))
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[client %d] %s\n", id, out)
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		for _, err := range errs {
			log.Error().Err(err).Msg("Call failed")
		}
		return fmt.Errorf("%d of %d clients failed", len(errs), n)
	}
	return nil
}

func callOnce(ctx context.Context, cfg client.Config, cd codec.Codec, fn string, args []any, opts ...client.Option) (string, error) {
	c, err := client.Connect(ctx, cfg, opts...)
	if err != nil {
		return "", err
	}
	defer c.Close()

	raw, err := codec.EncodeAll(cd, args...)
	if err != nil {
		return "", err
	}
	out, err := c.Invoke(ctx, fn, raw...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
