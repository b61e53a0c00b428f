// Package app wires configuration into the migration pipeline and its infrastructure. The
// server, the worker and the operator CLI all build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-webinar/session-migrator/config"
	"github.com/aura-webinar/session-migrator/internal/activities"
	"github.com/aura-webinar/session-migrator/internal/auth"
	"github.com/aura-webinar/session-migrator/internal/bunny"
	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/migration"
	"github.com/aura-webinar/session-migrator/internal/realtime"
	"github.com/aura-webinar/session-migrator/internal/source"
	"github.com/aura-webinar/session-migrator/internal/staging"
	"github.com/aura-webinar/session-migrator/internal/transfer"
	"github.com/aura-webinar/session-migrator/internal/worker"
	"github.com/aura-webinar/session-migrator/pkg/database"
	"github.com/aura-webinar/session-migrator/pkg/queue"
	"github.com/aura-webinar/session-migrator/pkg/redis"
	"github.com/aura-webinar/session-migrator/pkg/storage"
)

// Options selects optional infrastructure.
type Options struct {
	// Migrate applies pending schema migrations on start.
	Migrate bool
	// RequireRedis fails startup when Redis is unreachable instead of running without it.
	RequireRedis bool
}

// App holds the wired components. Close releases them.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil when Redis is disabled or unreachable
	Queue    *queue.Queue  // nil without Redis
	Store    *activities.Repository
	Metrics  *metrics.Metrics
	Hub      *realtime.Hub
	JWT      *auth.JWTService
	Pipeline *migration.Pipeline

	async *worker.AsyncDispatcher
}

// New connects to the database (and Redis when configured) and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequireRedis && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis: REDIS_ADDR is required")
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: time.Hour,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.Pool = pool
	if opts.Migrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		switch {
		case err == nil:
			a.Redis = rdb
			a.Queue = queue.NewQueue(rdb.Client, logger)
		case opts.RequireRedis:
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		default:
			logger.Warn("redis unavailable, notifications run in process", zap.Error(err))
		}
	}

	var bus realtime.Bus
	if a.Redis != nil {
		bus = realtime.NewRedisBus(a.Redis.Client, logger)
	}
	a.Hub = realtime.NewHub(logger, bus)
	a.JWT = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.ExpireHours)
	a.Store = activities.NewRepository(pool)

	if a.Pipeline, err = a.buildPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.async = worker.NewAsyncDispatcher(a.Pipeline, cfg.Scheduler.PipelineTimeout, logger)
	return a, nil
}

func (a *App) buildPipeline(ctx context.Context) (*migration.Pipeline, error) {
	cfg, logger := a.Config, a.Logger

	cache, err := staging.New(cfg.Staging.Dir, logger)
	if err != nil {
		return nil, err
	}
	src := source.NewClient(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.RequestTimeout, logger)
	fetcher := transfer.NewDownloader(cfg.Staging.DownloadTimeout, logger)

	var publisher migration.Publisher = bunny.Disabled{}
	if cfg.Bunny.Enabled {
		publisher = bunny.NewClient(bunny.Config{
			LibraryID:       cfg.Bunny.LibraryID,
			APIKey:          cfg.Bunny.APIKey,
			APIBaseURL:      cfg.Bunny.APIBaseURL,
			TUSEndpoint:     cfg.Bunny.TUSEndpoint,
			ChunkSize:       cfg.Bunny.ChunkSize,
			SignatureExpire: cfg.Bunny.SignatureExpire,
		}, transfer.NewUploader(cfg.Bunny.RetryDelays, logger), logger)
	} else {
		logger.Warn("bunny stream uploads disabled (IS_BUNNY_ENABLED=false)")
	}

	discovery := migration.NewDiscovery(a.Store, a.Metrics, logger)
	downloader := migration.NewDownloader(a.Store, src, fetcher, cache, logger).
		WithNotifier(a.Hub).
		WithMetrics(a.Metrics)
	uploader := migration.NewUploader(a.Store, publisher, cache, logger).
		WithNotifier(a.Hub).
		WithMetrics(a.Metrics)

	if cfg.AWS.ArchiveEnabled {
		archive, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.ArchiveBucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		downloader.WithArchiver(archive)
	}

	return migration.NewPipeline(a.Store, discovery, downloader, uploader, cfg.Scheduler.PipelineTimeout), nil
}

// Dispatcher returns the queue dispatcher when Redis is available and the in-process one
// otherwise.
func (a *App) Dispatcher() worker.Dispatcher {
	if a.Queue != nil {
		return worker.NewQueueDispatcher(a.Queue, a.Logger)
	}
	return a.async
}

// Close waits for in-process runs and releases connections.
func (a *App) Close() {
	if a.async != nil {
		a.async.Wait()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
