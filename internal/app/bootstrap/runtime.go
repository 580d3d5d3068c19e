package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/physio-voice-booking/cmd/mainconfig"
	"github.com/wolfman30/physio-voice-booking/internal/api/router"
	appconfig "github.com/wolfman30/physio-voice-booking/internal/config"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// Runtime holds the optional backing services. Any field may be nil.
type Runtime struct {
	Redis *redis.Client
	Pool  *pgxpool.Pool
	SQS   *sqs.Client
	S3    *s3.Client
}

// BuildRuntime connects to whatever the configuration enables. Redis and
// Postgres failures degrade to in-memory operation; AWS config failures are
// returned.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{
		Redis: BuildRedisClient(ctx, cfg, logger, true),
		Pool:  BuildPostgresPool(ctx, cfg.DatabaseURL, logger),
	}
	if cfg.AWSEnabled() {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		if cfg.BookingEventsQueueURL != "" {
			rt.SQS = sqs.NewFromConfig(awsCfg)
		}
		if cfg.TranscriptArchiveBucket != "" {
			rt.S3 = mainconfig.NewS3Client(awsCfg, cfg)
		}
	}
	return rt, nil
}

// Close releases connections.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// ReadinessChecks returns a ping per connected dependency.
func (rt *Runtime) ReadinessChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if rt == nil {
		return checks
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	if rt.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return rt.Pool.Ping(ctx) }
	}
	return checks
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, session snapshots disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool returns a pgx pool or nil when the URL is empty or the
// database is unreachable.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("postgres config invalid, bookings ledger disabled", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not available, bookings ledger disabled", "error", err)
		pool.Close()
		return nil
	}
	return pool
}
