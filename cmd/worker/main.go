package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/config"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/lock"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "xmoney"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	resolver := settings.Resolver{Store: settings.PGStore{Pool: pool}}

	var notifiers []events.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		notifiers = append(notifiers, events.KafkaNotifier{Writer: writer, Timeout: 5 * time.Second})
	}

	reconciler := &payment.Reconciler{
		Orders: order.PGStore{Pool: pool},
		Carts:  &cart.RedisStore{Client: redisClient, TTL: cfg.CartTTL},
		Verifier: xmoney.NewClient(xmoney.ClientConfig{
			Settings:            resolver,
			LiveURL:             cfg.XMoneyLiveURL,
			TestURL:             cfg.XMoneyTestURL,
			Timeout:             cfg.VerifyTimeout,
			MaxAttempts:         cfg.VerifyMaxAttempts,
			Backoff:             cfg.VerifyBackoff,
			BreakerMinRequests:  cfg.BreakerMinRequests,
			BreakerFailureRatio: cfg.BreakerFailureRatio,
			BreakerOpenFor:      cfg.BreakerOpenFor,
			Logger:              logger,
		}),
		Events: &events.Bus{Store: events.PGStore{Pool: pool}, Notifiers: notifiers},
		Logger: logger,
	}

	sweeper := &payment.Sweeper{
		Reconciler: reconciler,
		Lock:       lock.Locker{R: redisClient},
		Interval:   cfg.ReconcileInterval,
		Batch:      cfg.ReconcileBatch,
		LockTTL:    cfg.ReconcileLockTTL,
	}

	logger.Info().Dur("interval", cfg.ReconcileInterval).Int("batch", cfg.ReconcileBatch).Msg("worker starting")
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "xmoney-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
