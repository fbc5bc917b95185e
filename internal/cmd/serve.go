package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/careline/admission/metrics"
	"github.com/careline/admission/pkg/admission"
	"github.com/careline/admission/server"
)

var serveAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP admission service with graceful shutdown support.

SIGINT or SIGTERM stops accepting connections, drains in-flight requests
for up to server.shutdown_timeout and closes the Redis client.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	userID, err := admission.ParseUserIDConfig(cfg.UserSource)
	if err != nil {
		return fmt.Errorf("invalid user_source: %w", err)
	}

	m := metrics.NewMetrics()
	stopPrune := m.StartPruner(cfg.Limiter.SweepInterval)
	defer stopPrune()
	svc, err := buildService(cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to close admission service", zap.Error(err))
		}
	}()

	srv, err := server.New(svc, m, server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
		UserID:       userID,
	})
	if err != nil {
		return err
	}

	logger.Info("Initializing server",
		zap.String("version", versionInfo.Version),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("redis_configured", cfg.Redis.URL != ""),
		zap.Strings("policies", policyNames(svc)))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped gracefully")
	return nil
}

func policyNames(svc *admission.Service) []string {
	names := svc.Registry().Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
