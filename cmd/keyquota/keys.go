package main

import (
	"github.com/spf13/cobra"

	"github.com/nhalm/keyquota/internal/app"
	"github.com/nhalm/keyquota/quota"
)

var keyFlags struct {
	value         string
	plan          string
	enabled       bool
	metadata      map[string]string
	clearMetadata bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Create, inspect, update and delete API keys.

Keys without an explicit value get a random 16 character token.

Examples:
  keyquota keys create --plan free
  keyquota keys update <key> --enabled=false
  keyquota keys update <key> --plan ""   # unbind`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		params := quota.KeyParams{
			Value:    keyFlags.value,
			Plan:     keyFlags.plan,
			Metadata: toMetadata(keyFlags.metadata),
		}
		if cmd.Flags().Changed("enabled") {
			params.Enabled = &keyFlags.enabled
		}
		return withApp(func(a *app.App) error {
			key, err := a.Client.Keys.Create(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), key)
		})
	},
}

var keysGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			key, err := a.Client.Keys.Retrieve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), key)
		})
	},
}

var keysUpdateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Enable, disable, rebind or annotate a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := quota.KeyUpdate{
			Metadata:      toMetadata(keyFlags.metadata),
			ClearMetadata: keyFlags.clearMetadata,
		}
		if cmd.Flags().Changed("enabled") {
			params.Enabled = &keyFlags.enabled
		}
		if cmd.Flags().Changed("plan") {
			params.Plan = &keyFlags.plan
		}
		return withApp(func(a *app.App) error {
			key, err := a.Client.Keys.Update(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), key)
		})
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			return a.Client.Keys.Delete(cmd.Context(), args[0])
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app.App) error {
			keys, err := a.Client.Keys.List(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), keys)
		})
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysGetCmd, keysUpdateCmd, keysDeleteCmd, keysListCmd)

	keysCreateCmd.Flags().StringVar(&keyFlags.value, "value", "", "explicit key value (random when empty)")
	for _, c := range []*cobra.Command{keysCreateCmd, keysUpdateCmd} {
		c.Flags().StringVar(&keyFlags.plan, "plan", "", "plan to bind the key to")
		c.Flags().BoolVar(&keyFlags.enabled, "enabled", true, "whether the key is accepted")
		c.Flags().StringToStringVar(&keyFlags.metadata, "meta", nil, "metadata key=value pairs")
	}
	keysUpdateCmd.Flags().BoolVar(&keyFlags.clearMetadata, "clear-meta", false, "drop existing metadata before applying --meta")
}
