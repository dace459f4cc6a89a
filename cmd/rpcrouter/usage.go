package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chainmux/rpcrouter"
)

func newUsageCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect or reset quota usage counters",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print usage per provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUsageShow(cmd, configPath)
		},
	}

	reset := &cobra.Command{
		Use:   "reset <provider>",
		Short: "Clear the usage counter for one provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsageReset(cmd, configPath, args[0])
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func runUsageShow(cmd *cobra.Command, configPath string) error {
	cfg, err := rpcrouter.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	qm, closeQuota, err := newQuotaManager(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuota()

	providers := cfg.BuildProviders(rpcrouter.ParsePaidProviders(os.Getenv("PAID_PROVIDERS")))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTIER\tUSED\tLIMIT")
	for _, p := range providers {
		tier := "free"
		if p.Priority == rpcrouter.PriorityPaid {
			tier = "paid"
		}
		limit := "unlimited"
		if p.LimitMonthly > 0 {
			limit = fmt.Sprintf("%d", p.LimitMonthly)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, tier, qm.Usage(cmd.Context(), p.Name), limit)
	}
	return w.Flush()
}

func runUsageReset(cmd *cobra.Command, configPath, provider string) error {
	cfg, err := rpcrouter.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	known := false
	for _, pc := range cfg.Providers {
		if strings.EqualFold(pc.Name, provider) {
			provider = pc.Name
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown provider %q", provider)
	}

	qm, closeQuota, err := newQuotaManager(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuota()

	qm.Reset(cmd.Context(), provider)
	fmt.Fprintf(cmd.OutOrStdout(), "usage counter for %s cleared\n", provider)
	return nil
}
