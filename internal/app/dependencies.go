// Package app wires the clients and services shared by the API server and the
// background worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/backend-dompet/internal/auth"
	"github.com/noah-isme/backend-dompet/internal/category"
	"github.com/noah-isme/backend-dompet/internal/config"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/draft"
	"github.com/noah-isme/backend-dompet/internal/family"
	"github.com/noah-isme/backend-dompet/internal/lock"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/ocr"
	"github.com/noah-isme/backend-dompet/internal/repo"
	"github.com/noah-isme/backend-dompet/internal/resilience"
	"github.com/noah-isme/backend-dompet/internal/stats"
	"github.com/noah-isme/backend-dompet/internal/storage"
	"github.com/noah-isme/backend-dompet/internal/tasks"
	"github.com/noah-isme/backend-dompet/internal/transaction"
)

const meterName = "github.com/noah-isme/backend-dompet"

// Dependencies enumerates the process wide clients and the domain services
// built on top of them.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Store  *repo.Store
	Queue  *asynq.Client

	Uploads      *storage.Local
	Auth         *auth.Service
	Categories   *category.Service
	Families     *family.Service
	Transactions *transaction.Service
	Stats        *stats.Service
	OCR          *ocr.Service
	Drafts       *draft.Service
}

// Open connects Postgres and Redis and builds every service. appName tags
// database sessions so the API and the worker can be told apart.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}
	if err := d.connect(ctx, appName); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.build(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) connect(ctx context.Context, appName string) error {
	cfg := d.Config
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		d.Logger.Info().Msg("migrations applied")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	d.DB = pool
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	d.Store = repo.NewStore(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(d.Redis); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(d.Redis); err != nil {
		d.Logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	queueOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return err
	}
	d.Queue = asynq.NewClient(queueOpt)
	return nil
}

func (d *Dependencies) build() error {
	cfg, logger := d.Config, d.Logger
	queries := d.Store.Queries

	uploads, err := storage.NewLocal(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxBodyBytes)
	if err != nil {
		return err
	}
	d.Uploads = uploads

	d.Stats, err = stats.NewService(stats.Config{
		Queries: queries,
		Cache:   stats.NewCache(d.Redis, cfg.StatsCacheTTL),
		Logger:  logger.With().Str("component", "stats").Logger(),
	})
	if err != nil {
		return err
	}
	invalidator := &tasks.Publisher{Queue: d.Queue, Fallback: d.Stats, Logger: logger}

	d.Auth, err = auth.NewService(auth.Config{
		Queries:         queries,
		Uploads:         uploads,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Logger:          logger.With().Str("component", "auth").Logger(),
	})
	if err != nil {
		return err
	}
	if d.Categories, err = category.NewService(queries); err != nil {
		return err
	}
	d.Families, err = family.NewService(family.Config{
		Store:   family.NewPGStore(d.Store),
		Uploads: uploads,
		Stats:   invalidator,
		Logger:  logger.With().Str("component", "family").Logger(),
	})
	if err != nil {
		return err
	}
	d.Transactions, err = transaction.NewService(transaction.Config{
		Store:   transaction.NewPGStore(d.Store),
		Uploads: uploads,
		Stats:   invalidator,
		Logger:  logger.With().Str("component", "transaction").Logger(),
	})
	if err != nil {
		return err
	}

	d.OCR, err = ocr.NewService(ocr.Config{
		Provider: &ocr.HTTPProvider{
			Endpoint: cfg.OCREndpoint,
			APIKey:   cfg.OCRAPIKey,
			HTTP:     NewOCRClient(cfg.OCRTimeout, logger),
		},
		Categories: queries,
		MaxImages:  cfg.OCRMaxImages,
		Meter:      otel.Meter(meterName),
		Logger:     logger.With().Str("component", "ocr").Logger(),
	})
	if err != nil {
		return err
	}

	d.Drafts, err = draft.NewService(draft.Config{
		Store:        draft.NewStore(d.Redis, cfg.DraftTTL),
		Locker:       lock.Locker{R: d.Redis, Wait: 5 * time.Second},
		Transactions: d.Transactions,
		Scanner:      d.OCR,
		Logger:       logger.With().Str("component", "draft").Logger(),
	})
	return err
}

// NewOCRClient wraps outbound OCR calls with tracing, retries and a circuit
// breaker.
func NewOCRClient(timeout time.Duration, logger zerolog.Logger) *resilience.HTTPClient {
	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("ocr").WithLogger(logger)
	return &resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		Classify:    resilience.ProviderOutcome,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
		Timeout:     timeout,
		Logger:      logger,
	}
}

// RedisConnOpt converts REDIS_URL for asynq.
func RedisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	return opt, nil
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Close releases every client that was opened.
func (d *Dependencies) Close() {
	if d.Queue != nil {
		if err := d.Queue.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
