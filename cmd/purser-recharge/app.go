package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/purser-recharge/internal/campaigns"
	"frameworks/purser-recharge/internal/gateway"
	"frameworks/purser-recharge/internal/lease"
	"frameworks/purser-recharge/internal/ledger"
	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/internal/recharge"
	"frameworks/purser-recharge/internal/settings"
	"frameworks/purser-recharge/pkg/billing"
	"frameworks/purser-recharge/pkg/config"
	"frameworks/purser-recharge/pkg/database"
	"frameworks/purser-recharge/pkg/kafka"
	"frameworks/purser-recharge/pkg/logging"
	"frameworks/purser-recharge/pkg/monitoring"
	"frameworks/purser-recharge/pkg/redis"
	"frameworks/purser-recharge/pkg/version"
)

// app holds the wired dependencies shared by serve and run.
type app struct {
	logger     logging.Logger
	db         *sql.DB
	redis      *goredis.Client
	producer   *kafka.Producer
	dispatcher *notify.Dispatcher
	settings   *settings.Store
	ledger     *ledger.Store
	job        *recharge.Job
	health     *monitoring.HealthChecker
	metrics    *monitoring.MetricsCollector
}

func newApp(ctx context.Context, logger logging.Logger) (*app, error) {
	dbURL := config.RequireEnv("DATABASE_URL")
	stripeKey := config.RequireEnv("STRIPE_SECRET_KEY")
	gatewayTimeout := config.GetEnvDuration("GATEWAY_TIMEOUT", 30*time.Second)
	leaseTTL := config.GetEnvDuration("RECHARGE_LEASE_TTL", 2*time.Minute)
	if err := checkLeaseTTL(leaseTTL, gatewayTimeout, recharge.DefaultPostTimeout); err != nil {
		return nil, err
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db, err := database.Connect(dbConfig, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:  logger,
		db:      db,
		health:  monitoring.NewHealthChecker(version.ServiceName, version.Version),
		metrics: monitoring.NewMetricsCollector(version.ServiceName, version.Version, version.GitCommit),
	}
	a.health.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	var locker lease.Locker = lease.Noop{}
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		client, err := redis.NewClientFromURL(ctx, redisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		locker = lease.NewRedisLocker(client, leaseTTL)
		a.health.AddCheck("redis", monitoring.PingHealthCheck("redis", redis.Pinger{Client: client}, false))
	} else {
		logger.Warn("REDIS_URL not set, per-organization leases disabled; relying on gateway idempotency keys")
	}

	sinks := notify.Multi{notify.NewPostgresSink(db)}
	if brokers := config.GetEnvList("KAFKA_BROKERS"); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, version.ServiceName, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.producer = producer
		sinks = append(sinks, notify.NewKafkaPublisher(producer, config.GetEnv("BILLING_EVENTS_TOPIC", "billing.events"), version.ServiceName))
		a.health.AddCheck("kafka", monitoring.PingHealthCheck("kafka", producer, true))
	}
	a.dispatcher = notify.NewDispatcher(sinks, logger, notify.DispatcherConfig{})

	a.settings = settings.NewStore(db)
	a.ledger = ledger.NewStore(db)

	a.job = recharge.New(recharge.Deps{
		Configs: a.settings,
		Ledger:  a.ledger,
		Gateway: gateway.NewStripe(gateway.StripeConfig{
			SecretKey: stripeKey,
			Timeout:   gatewayTimeout,
			Logger:    logger,
		}),
		Campaigns:         campaigns.NewResumer(campaigns.NewStore(db), a.dispatcher, logger),
		Locker:            locker,
		Notifier:          a.dispatcher,
		Metrics:           recharge.NewMetrics(a.metrics),
		Logger:            logger,
		PostTimeout:       recharge.DefaultPostTimeout,
		Currency:          billing.DefaultCurrency(),
		IdempotencyWindow: config.GetEnvDuration("RECHARGE_IDEMPOTENCY_WINDOW", time.Hour),
	})

	return a, nil
}

// checkLeaseTTL rejects a lease that could expire while a charge and its
// ledger posting are still in flight.
func checkLeaseTTL(ttl, gatewayTimeout, postTimeout time.Duration) error {
	if ttl <= gatewayTimeout+postTimeout {
		return fmt.Errorf("RECHARGE_LEASE_TTL (%s) must exceed GATEWAY_TIMEOUT (%s) plus ledger post timeout (%s)",
			ttl, gatewayTimeout, postTimeout)
	}
	return nil
}

// close drains pending notifications before releasing connections.
func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}
