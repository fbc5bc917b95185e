package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/careline/admission/config"
	"github.com/careline/admission/core"
	"github.com/careline/admission/observability"
	"github.com/careline/admission/pkg/admission"
)

// buildRegistry returns the built-in policies merged with the policies file
func buildRegistry(cfg *config.Config) (*core.Registry, error) {
	if cfg.PoliciesFile == "" {
		return core.DefaultRegistry(), nil
	}
	extra, err := core.LoadPolicyFile(cfg.PoliciesFile)
	if err != nil {
		return nil, err
	}
	return core.NewRegistry(extra)
}

// buildService wires an admission.Service from cfg. recorder may be nil.
func buildService(cfg *config.Config, logger *zap.Logger, recorder admission.Recorder) (*admission.Service, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	opts := []admission.Option{
		admission.WithRegistry(registry),
		admission.WithLogger(logger),
		admission.WithRedisURL(cfg.Redis.URL),
		admission.WithOpTimeout(cfg.Redis.OpTimeout),
		admission.WithHealthInterval(cfg.Redis.HealthInterval),
		admission.WithSweepInterval(cfg.Limiter.SweepInterval),
	}
	if cfg.Redis.Atomic {
		opts = append(opts, admission.WithAtomicRedis())
	}
	if cfg.Limiter.FailClosed {
		opts = append(opts, admission.WithFailClosed())
	}
	if recorder != nil {
		opts = append(opts, admission.WithRecorder(recorder))
	}

	svc, err := admission.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission service: %w", err)
	}
	return svc, nil
}

// newLogger builds the command logger from cfg
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger("admission", cfg.Logging.Level, cfg.Logging.Format)
}

// cliLogger logs only warnings so command output stays readable
func cliLogger() (*zap.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger("admission", level, "console")
}
