package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhalm/keyquota/api"
	"github.com/nhalm/keyquota/internal/app"
	"github.com/nhalm/keyquota/metrics"
)

var serveFlags struct {
	port        int
	metricsPort int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Start the HTTP service.

Admin routes (/v1/plans, /v1/keys, /v1/usage, /v1/stats) require
KEYQUOTA_ADMIN_TOKEN as a bearer token and are disabled when it is unset.
/v1/verify authenticates with an API key and charges its quota.

Metrics are served on /metrics, or on a separate listener when
--metrics-port is set.

Examples:
  # Start with the environment configuration
  keyquota serve

  # Override ports
  keyquota serve --port 9000 --metrics-port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "override KEYQUOTA_PORT")
	serveCmd.Flags().IntVar(&serveFlags.metricsPort, "metrics-port", 0, "override KEYQUOTA_METRICS_PORT")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.port != 0 {
		cfg.HTTPPort = serveFlags.port
	}
	if serveFlags.metricsPort != 0 {
		cfg.MetricsPort = serveFlags.metricsPort
	}

	a, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	if cfg.AdminToken == "" {
		log.Warn().Msg("KEYQUOTA_ADMIN_TOKEN is not set, admin routes are disabled")
	}

	routerCfg := api.Config{
		Client:       a.Client,
		AdminToken:   cfg.AdminToken,
		APIKeyHeader: cfg.APIKeyHeader,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      a.Metrics,
	}
	var gatherer prometheus.Gatherer = a.Registry
	if cfg.MetricsPort == 0 {
		routerCfg.Gatherer = gatherer
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return runHTTP(ctx, log, "api", &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           api.NewRouter(routerCfg),
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		}, cfg.ShutdownTimeout)
	})
	if cfg.MetricsPort != 0 {
		eg.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(gatherer))
			return runHTTP(ctx, log, "metrics", &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
				Handler:           mux,
				ReadHeaderTimeout: cfg.ReadTimeout,
			}, cfg.ShutdownTimeout)
		})
	}

	return eg.Wait()
}

// runHTTP serves until ctx is cancelled, then shuts down gracefully.
func runHTTP(ctx context.Context, log zerolog.Logger, name string, server *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("server", name).Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("server", name).Msg("Shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
