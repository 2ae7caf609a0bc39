package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mini-lpc/registry"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the registrations a broker mirrors to etcd",
		Long: "watch reads the registrations published under the etcd prefix and prints the\n" +
			"full list as JSON after every change. With --once it prints the current list,\n" +
			"or a single access path with --access-path, and exits.",
		RunE: runWatch,
	}
	cmd.Flags().StringSlice("etcd", nil, "etcd endpoints")
	cmd.Flags().String("access-path", "", "print only this registration (with --once)")
	cmd.Flags().Bool("once", false, "print and exit")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Broker.EtcdEndpoints) == 0 {
		return fmt.Errorf("no etcd endpoints: set --etcd or broker.etcd_endpoints")
	}
	ctx := cmd.Context()

	pub, err := registry.NewEtcdPublisher(ctx, cfg.EtcdConfig(), log)
	if err != nil {
		return err
	}
	defer pub.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	once, _ := cmd.Flags().GetBool("once")
	if once {
		if path, _ := cmd.Flags().GetString("access-path"); path != "" {
			reg, ok, err := pub.Discover(ctx, path)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no registration for %q", path)
			}
			return enc.Encode(reg)
		}
		regs, err := pub.List(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(regs)
	}

	for regs := range pub.Watch(ctx) {
		if err := enc.Encode(regs); err != nil {
			return err
		}
	}
	return nil
}
