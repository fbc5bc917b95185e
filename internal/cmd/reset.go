package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careline/admission/store"
)

var (
	resetAll bool
	resetYes bool
)

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset [identifier]",
		Short: "Clear stored admission state",
		Long: `Clear the counters for one identifier, or with --all every key under the
Redis key prefix. Clearing everything requires --yes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReset,
	}
	cmd.Flags().BoolVar(&resetAll, "all", false, "clear every identifier in Redis")
	cmd.Flags().BoolVar(&resetYes, "yes", false, "confirm destructive operations")
	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	switch {
	case resetAll && len(args) > 0:
		return errors.New("--all and an identifier are mutually exclusive")
	case !resetAll && len(args) == 0:
		return errors.New("an identifier or --all is required")
	case resetAll && !resetYes:
		return errors.New("refusing to clear all identifiers without --yes")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if resetAll {
		removed, err := clearRedis(cmd.Context(), cfg.Redis.URL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d keys\n", removed)
		return err
	}

	logger, err := cliLogger()
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close() // nolint:errcheck // best-effort cleanup

	svc.Reset(cmd.Context(), args[0])
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
	return err
}

// clearRedis removes every admission key from the configured Redis
func clearRedis(ctx context.Context, url string) (int, error) {
	if url == "" {
		return 0, errors.New("--all requires redis.url; in-memory state does not outlive the process")
	}
	client, err := store.NewClient(store.RedisConfig{URL: url})
	if err != nil {
		return 0, err
	}
	limiter := store.NewRedisLimiter(client)
	defer limiter.Close() // nolint:errcheck // best-effort cleanup

	return limiter.Clear(ctx)
}
