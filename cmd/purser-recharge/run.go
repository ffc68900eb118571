package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"frameworks/purser-recharge/pkg/config"
	"frameworks/purser-recharge/pkg/logging"
	"frameworks/purser-recharge/pkg/version"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one auto-recharge pass and print the result as JSON",
		Long: `Run one auto-recharge pass and print {"processed":N,"errors":[...]} to stdout.
Per-organization failures are part of the result; the exit code is non-zero
only when the pass could not start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(version.ServiceName)
			logger.SetOutput(cmd.ErrOrStderr())
			config.LoadEnv(logger)

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.job.RunPass(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
