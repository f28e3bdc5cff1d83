package main

import (
	"github.com/spf13/cobra"

	"github.com/nhalm/keyquota/internal/app"
	"github.com/nhalm/keyquota/quota"
)

var planFlags struct {
	limit         int64
	period        string
	metadata      map[string]string
	clearMetadata bool
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage quota plans",
	Long: `Create, inspect, update and delete quota plans.

A plan allows "limit" units of usage per "period". Periods are Go durations
(100ms, 1h30m) or expressions such as "1d", "2 weeks" or "1 year".

Examples:
  keyquota plans create free --limit 1000 --period 1d --meta tier=free
  keyquota plans update free --limit 2000
  keyquota plans list -o yaml`,
}

var plansCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			plan, err := a.Client.Plans.Create(cmd.Context(), quota.PlanParams{
				ID:       args[0],
				Limit:    planFlags.limit,
				Period:   planFlags.period,
				Metadata: toMetadata(planFlags.metadata),
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), plan)
		})
	},
}

var plansGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			plan, err := a.Client.Plans.Retrieve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), plan)
		})
	},
}

var plansUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update the limit, period or metadata of a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := quota.PlanUpdate{
			Metadata:      toMetadata(planFlags.metadata),
			ClearMetadata: planFlags.clearMetadata,
		}
		if cmd.Flags().Changed("limit") {
			params.Limit = &planFlags.limit
		}
		if cmd.Flags().Changed("period") {
			params.Period = &planFlags.period
		}
		return withApp(func(a *app.App) error {
			plan, err := a.Client.Plans.Update(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), plan)
		})
	},
}

var plansDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a plan that no key is bound to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			return a.Client.Plans.Delete(cmd.Context(), args[0])
		})
	},
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			plans, err := a.Client.Plans.List(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), plans)
		})
	},
}

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansCreateCmd, plansGetCmd, plansUpdateCmd, plansDeleteCmd, plansListCmd)

	for _, c := range []*cobra.Command{plansCreateCmd, plansUpdateCmd} {
		c.Flags().Int64Var(&planFlags.limit, "limit", 0, "units allowed per period")
		c.Flags().StringVar(&planFlags.period, "period", "", "window length, e.g. 1h or 1d")
		c.Flags().StringToStringVar(&planFlags.metadata, "meta", nil, "metadata key=value pairs")
	}
	plansUpdateCmd.Flags().BoolVar(&planFlags.clearMetadata, "clear-meta", false, "drop existing metadata before applying --meta")
}

func toMetadata(m map[string]string) quota.Metadata {
	if len(m) == 0 {
		return nil
	}
	md := make(quota.Metadata, len(m))
	for k, v := range m {
		md[k] = v
	}
	return md
}
