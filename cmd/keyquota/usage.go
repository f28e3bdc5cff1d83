package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhalm/keyquota/internal/app"
	"github.com/nhalm/keyquota/quota"
)

var usageFlags struct {
	quantity int64
	since    string
	until    string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and charge key usage",
}

var usageGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show the current window of a key without charging it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			usage, err := a.Client.Usage.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), usage)
		})
	},
}

var usageIncrementCmd = &cobra.Command{
	Use:   "increment <key>",
	Short: "Charge usage to a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			usage, err := a.Client.Usage.Increment(cmd.Context(), args[0], quota.WithQuantity(usageFlags.quantity))
			if err != nil {
				return err
			}
			if err := usage.Pending.Wait(cmd.Context()); err != nil {
				return fmt.Errorf("record stats: %w", err)
			}
			return printResult(cmd.OutOrStdout(), usage)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <key>",
	Short: "Show per-day usage of a key",
	Long: `Show per-day usage of a key, oldest day first.

Examples:
  keyquota stats <key>
  keyquota stats <key> --since 2025-01-01 --until 2025-01-31`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			var opts []quota.QueryOption
			loc := a.Client.Stats.Location()
			if usageFlags.since != "" {
				t, err := time.ParseInLocation(quota.DateLayout, usageFlags.since, loc)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				opts = append(opts, quota.Since(t))
			}
			if usageFlags.until != "" {
				t, err := time.ParseInLocation(quota.DateLayout, usageFlags.until, loc)
				if err != nil {
					return fmt.Errorf("invalid --until: %w", err)
				}
				opts = append(opts, quota.Until(t))
			}
			entries, err := a.Client.Stats.Query(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), entries)
		})
	},
}

func init() {
	rootCmd.AddCommand(usageCmd, statsCmd)
	usageCmd.AddCommand(usageGetCmd, usageIncrementCmd)

	usageIncrementCmd.Flags().Int64VarP(&usageFlags.quantity, "quantity", "n", 1, "units to charge")
	statsCmd.Flags().StringVar(&usageFlags.since, "since", "", "first day to include (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&usageFlags.until, "until", "", "last day to include (YYYY-MM-DD)")
}
