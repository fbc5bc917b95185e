package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline/admission/api"
)

var policiesOutput string

func newPoliciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List registered policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if policiesOutput != "table" && policiesOutput != "json" {
				return fmt.Errorf("unsupported output format: %s", policiesOutput)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			infos := api.Policies(registry)
			out := cmd.OutOrStdout()
			if policiesOutput == "json" {
				payload, err := json.MarshalIndent(infos, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(payload))
				return err
			}

			rows := make([][]any, 0, len(infos))
			for _, p := range infos {
				window := time.Duration(p.WindowMs) * time.Millisecond
				rows = append(rows, []any{p.Name, window.String(), p.MaxRequests})
			}
			renderTable(out, []any{"Policy", "Window", "Max Requests"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&policiesOutput, "output-format", "table", "Output format: table|json")
	return cmd
}
