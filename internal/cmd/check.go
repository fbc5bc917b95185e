package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline/admission/core"
	"github.com/careline/admission/pkg/admission"
)

var (
	checkCount  int
	checkOutput string
)

// checkResult is one line of check output
type checkResult struct {
	Attempt int `json:"attempt"`
	core.Decision
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <identifier> <policy>",
		Short: "Consume from an identifier's quota and print the decision",
		Long: `Run one or more admission checks against the configured backend.

Each attempt counts against the quota exactly as an HTTP request would. Without
a Redis URL the counters live only for the duration of this command.`,
		Args: cobra.ExactArgs(2),
		RunE: runCheck,
	}
	cmd.Flags().IntVarP(&checkCount, "count", "n", 1, "number of checks to run")
	cmd.Flags().StringVar(&checkOutput, "output-format", "table", "Output format: table|json")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if checkOutput != "table" && checkOutput != "json" {
		return fmt.Errorf("unsupported output format: %s", checkOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
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

	identifier, policy := args[0], core.PolicyName(args[1])
	results := make([]checkResult, 0, checkCount)
	for i := 1; i <= checkCount; i++ {
		decision, err := svc.CheckLimit(cmd.Context(), identifier, policy)
		if err != nil {
			return err
		}
		res := checkResult{Attempt: i, Decision: decision}
		if !decision.Allowed {
			res.RetryAfterSeconds = admission.RetryAfterSeconds(decision.ResetTime, time.Now())
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if checkOutput == "json" {
		payload, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(payload))
		return err
	}

	rows := make([][]any, 0, len(results))
	for _, r := range results {
		verdict := "allowed"
		retry := "-"
		if !r.Allowed {
			verdict = "denied"
			retry = fmt.Sprintf("%ds", r.RetryAfterSeconds)
		}
		rows = append(rows, []any{r.Attempt, verdict, r.Remaining, r.Backend, retry})
	}
	renderTable(out, []any{"#", "Decision", "Remaining", "Backend", "Retry After"}, rows)
	return nil
}
