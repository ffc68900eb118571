package main

import (
	"context"

	"github.com/spf13/cobra"

	"frameworks/purser-recharge/internal/handlers"
	"frameworks/purser-recharge/internal/jobs"
	"frameworks/purser-recharge/pkg/config"
	"frameworks/purser-recharge/pkg/logging"
	"frameworks/purser-recharge/pkg/monitoring"
	"frameworks/purser-recharge/pkg/server"
	"frameworks/purser-recharge/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (cron trigger, settings API, health, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(version.ServiceName)
			config.LoadEnv(logger)
			logger.WithField("version", version.Version).Info("Starting Purser Recharge")

			jwtSecret := config.RequireEnv("JWT_SECRET")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			a.health.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
				"DATABASE_URL":      config.GetEnv("DATABASE_URL", ""),
				"JWT_SECRET":        jwtSecret,
				"STRIPE_SECRET_KEY": config.GetEnv("STRIPE_SECRET_KEY", ""),
			}))

			runner := jobs.NewCoalesced(a.job)

			jobManager := jobs.NewJobManager(runner, config.GetEnvDuration("RECHARGE_INTERVAL", 0), logger)
			jobManager.Start(ctx)
			defer jobManager.Stop()

			router := server.SetupServiceRouter(logger, version.ServiceName, a.health, a.metrics)
			handlers.New(runner, a.settings, a.ledger, logger).Register(router, []byte(jwtSecret))

			serverConfig := server.DefaultConfig(version.ServiceName, "18013")
			return server.Start(ctx, serverConfig, router, logger)
		},
	}
}
