package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"frameworks/purser-recharge/pkg/config"
	"frameworks/purser-recharge/pkg/database"
	"frameworks/purser-recharge/pkg/logging"
	"frameworks/purser-recharge/pkg/version"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded purser schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(version.ServiceName)
			config.LoadEnv(logger)

			dbConfig := database.DefaultConfig()
			dbConfig.URL = config.RequireEnv("DATABASE_URL")
			db, err := database.Connect(dbConfig, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := database.Migrate(cmd.Context(), db, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d schema file(s)\n", n)
			return nil
		},
	}
}
