package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/inference"
	"github.com/BaSui01/imageflow/internal/cache"
	"github.com/BaSui01/imageflow/internal/database"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/migration"
	"github.com/BaSui01/imageflow/internal/pool"
	"github.com/BaSui01/imageflow/internal/tlsutil"
	"github.com/BaSui01/imageflow/storage"
	"github.com/BaSui01/imageflow/transform"
	"github.com/BaSui01/imageflow/weights"
)

// =============================================================================
// 🧩 应用组装
// =============================================================================

// App 持有一次运行所需的全部组件，serve 与各 CLI 变换命令共用
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	db      *database.PoolManager
	redis   *cache.Manager
	layout  *storage.Layout
	catalog catalog.Catalog
	backend inference.Backend
	workers *pool.GoroutinePool
	service *transform.Service
}

// newApp 按配置组装存储、目录、推理后端与三种变换。collector 不能为 nil。
func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger, metrics: collector}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.layout, err = storage.NewLayout(cfg.Storage.Root, cfg.Storage.OutputDir, cfg.Storage.UploadsDir, cfg.Storage.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	if err = app.initCatalog(ctx); err != nil {
		return nil, err
	}
	if err = app.initTransforms(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) initCatalog(ctx context.Context) error {
	if a.cfg.Database.AutoMigrate {
		if err := runMigrations(ctx, a.cfg, a.logger); err != nil {
			return err
		}
	}

	db, err := database.Open(a.cfg.Database.Driver, a.cfg.Database.DSN())
	if err != nil {
		return err
	}
	a.db, err = database.NewPoolManager(db, "catalog", a.cfg.Database.Pool, a.metrics, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("Database connected", zap.String("driver", a.cfg.Database.Driver))

	store := catalog.NewStore(a.db.DB(), a.layout, a.logger).UseTransactor(a.db)
	a.catalog = store

	if a.cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = a.cfg.Redis.Addr
		cacheCfg.Password = a.cfg.Redis.Password
		cacheCfg.DB = a.cfg.Redis.DB
		if a.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = a.cfg.Redis.PoolSize
		}
		if a.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = a.cfg.Redis.MinIdleConns
		}

		a.redis, err = cache.NewManager(cacheCfg, a.logger)
		if err != nil {
			// Redis 只加速列表查询，不可用时直接读数据库
			a.logger.Warn("Redis not available, catalog listings are uncached", zap.Error(err))
			a.redis = nil
		} else {
			a.catalog = catalog.NewCachedStore(store, a.redis, a.cfg.Catalog.ListTTL, a.metrics)
		}
	}
	return nil
}

func (a *App) initTransforms() error {
	switch a.cfg.Inference.Backend {
	case "mock":
		a.backend = inference.NewMockBackend()
	case "http":
		a.backend = inference.NewHTTPBackend(inference.HTTPConfig{
			BaseURL:     a.cfg.Inference.BaseURL,
			APIKey:      a.cfg.Inference.APIKey,
			Device:      a.cfg.Inference.Device,
			Timeout:     a.cfg.Inference.Timeout,
			PixelFormat: inference.PixelFormat(a.cfg.Inference.PixelFormat),
		}, a.logger)
	default:
		return fmt.Errorf("unsupported inference backend: %s", a.cfg.Inference.Backend)
	}

	a.workers = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  a.cfg.Inference.MaxConcurrentRuns,
		QueueSize:   a.cfg.Inference.QueueSize,
		IdleTimeout: time.Minute,
	}, a.logger)
	a.metrics.WatchWorkerPool("inference", a.workers.Stats)
	a.metrics.WatchBufferPool("png", pool.BufferPool.Stats)
	runner := transform.NewRunner(a.backend, a.workers, a.metrics, a.logger)

	fetcher := weights.NewFetcher(weights.Config{
		Dir:           a.layout.CacheDir,
		Timeout:       a.cfg.Weights.Timeout,
		MaxRetries:    uint64(a.cfg.Weights.MaxRetries),
		RetryInterval: a.cfg.Weights.RetryInterval,
		HFToken:       a.cfg.Generation.HFToken,
	}, tlsutil.SecureHTTPClient(a.cfg.Weights.Timeout), a.metrics, a.logger)

	var (
		diffusion *transform.Diffusion
		upscaler  *transform.Upscaler
		restorer  *transform.FaceRestorer
	)

	if a.cfg.Generation.Enabled {
		diffusion = transform.NewDiffusion(
			transform.NewGenerationCache(a.metrics, a.logger),
			runner,
			transform.DiffusionConfig{
				Model:    a.cfg.Generation.Model,
				Revision: a.cfg.Generation.Revision,
				DType:    a.cfg.Generation.DType,
				HFToken:  a.cfg.Generation.HFToken,
			},
			a.logger,
		)
	}

	if a.cfg.Upscale.Enabled {
		photo, err := weights.FromURL(a.cfg.Upscale.PhotoWeightURL)
		if err != nil {
			return fmt.Errorf("upscale.photo_weight_url: %w", err)
		}
		anime, err := weights.FromURL(a.cfg.Upscale.AnimeWeightURL)
		if err != nil {
			return fmt.Errorf("upscale.anime_weight_url: %w", err)
		}
		upscaler = transform.NewUpscaler(
			transform.NewUpscaleCache(a.metrics, a.logger),
			runner,
			fetcher,
			transform.UpscaleConfig{
				TileSize:    a.cfg.Upscale.TileSize,
				TileBorder:  a.cfg.Upscale.TileBorder,
				Half:        a.cfg.Upscale.Half,
				PhotoWeight: photo,
				AnimeWeight: anime,
			},
			a.logger,
		)
	}

	if a.cfg.Restore.Enabled {
		weight, err := weights.FromURL(a.cfg.Restore.WeightURL)
		if err != nil {
			return fmt.Errorf("restore.weight_url: %w", err)
		}
		restorer = transform.NewFaceRestorer(
			transform.NewRestoreCache(a.metrics, a.logger),
			runner,
			fetcher,
			upscaler,
			transform.RestoreConfig{Weight: weight},
			a.logger,
		)
	}

	a.service = transform.NewService(diffusion, upscaler, restorer, a.catalog, a.layout, a.logger)
	a.logger.Info("Transforms initialized",
		zap.String("backend", a.backend.Name()),
		zap.Bool("generation", diffusion != nil),
		zap.Bool("upscale", upscaler != nil),
		zap.Bool("restore", restorer != nil),
	)
	return nil
}

// Close 释放 worker 池与连接
func (a *App) Close() error {
	var errs []error
	if a.workers != nil {
		a.workers.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// runMigrations 应用所有未执行的迁移
func runMigrations(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	migrator, err := migration.NewMigratorFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()
	if err := migrator.Up(ctx); err != nil {
		return err
	}
	logger.Info("Database migrations applied")
	return nil
}
