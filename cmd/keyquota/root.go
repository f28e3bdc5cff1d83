package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/keyquota/internal/app"
	"github.com/nhalm/keyquota/internal/config"
	"github.com/nhalm/keyquota/internal/logger"
)

var (
	// Global flags
	envFiles     []string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "keyquota",
	Short: "API key and quota plan management",
	Long: `keyquota issues opaque API keys, binds each key to a plan (a limit per
period) and meters key usage against a fixed window, with per-day usage stats.

Run "keyquota serve" for the HTTP service. The plans, keys, usage and stats
commands operate directly on the configured store.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "env files to load before reading the environment")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "output format: json, yaml")
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// withApp runs fn against a client opened from the environment.
func withApp(fn func(a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printResult(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
}
