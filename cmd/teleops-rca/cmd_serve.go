package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
	"github.com/miradorstack/teleops-rca/internal/metrics"
	"github.com/miradorstack/teleops-rca/internal/utils"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC RCA engine with a Prometheus metrics endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON)
			logger.Info("starting teleops-rca",
				slog.String("address", cfg.Server.Address),
				slog.String("store", cfg.Store.Driver),
				slog.String("version", version))

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("close resources", slog.Any("error", err))
				}
			}()

			auth := api.NewReviewerAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if auth == nil {
				logger.Warn("reviewer auth disabled; review calls trust the submitted reviewer id")
			}
			server, err := api.NewServer(cfg.Server, api.NewHandler(a.service, logger), auth)
			if err != nil {
				return fmt.Errorf("create gRPC server: %w", err)
			}

			var metricsServer *http.Server
			if cfg.Server.MetricsAddress != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{
					Addr:         cfg.Server.MetricsAddress,
					Handler:      mux,
					ReadTimeout:  5 * time.Second,
					WriteTimeout: 15 * time.Second,
				}
				go func() {
					logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server exited", slog.Any("error", err))
						stop()
					}
				}()
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("gRPC server listening", slog.String("address", server.Address()))
				serveErr <- server.Start()
			}()

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case runErr = <-serveErr:
				logger.Error("gRPC server exited", slog.Any("error", runErr))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
			defer cancel()
			server.Shutdown(shutdownCtx)

			if metricsServer != nil {
				metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
				if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics server shutdown", slog.Any("error", err))
				}
				cancelMetrics()
			}

			logger.Info("teleops-rca stopped")
			return runErr
		},
	}
	cmd.Flags().StringVar(&address, "listen", "", "Override server.address from the config")
	return cmd
}
