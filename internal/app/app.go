// Package app assembles the core services from a Config. The API server
// and the admin CLI share it so both run against identically wired
// storage, caches and event log.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/api"
	"github.com/lalith-99/courier/internal/cache"
	"github.com/lalith-99/courier/internal/config"
	"github.com/lalith-99/courier/internal/db"
	"github.com/lalith-99/courier/internal/delivery"
	"github.com/lalith-99/courier/internal/eventlog"
	"github.com/lalith-99/courier/internal/observ"
	"github.com/lalith-99/courier/internal/push"
	"github.com/lalith-99/courier/internal/registry"
	"github.com/lalith-99/courier/internal/render"
	"github.com/lalith-99/courier/internal/repository"
	"github.com/lalith-99/courier/internal/repository/memory"
	"github.com/lalith-99/courier/internal/repository/postgres"
	"github.com/lalith-99/courier/internal/resolver"
	"github.com/lalith-99/courier/internal/subscription"
	"github.com/lalith-99/courier/internal/views"
)

const localCacheBytes = 64 << 20

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observ.Metrics
	Prom    *prometheus.Registry

	Store    *repository.Store
	Events   *eventlog.Log
	Registry *registry.Registry
	Resolver *resolver.Resolver
	Views    *views.Projector
	Ledger   *subscription.Ledger
	Engine   *delivery.Engine

	Health map[string]api.HealthCheck

	closers []func()
}

// Build connects to storage and the cache and wires every service. With
// STORAGE=postgres the embedded schema is applied first. Close releases
// whatever Build opened, also after a partial failure.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Prom:   prometheus.NewRegistry(),
		Health: make(map[string]api.HealthCheck),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observ.NewMetrics(a.Prom)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	viewCache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	a.Events, err = eventlog.Open(cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	a.Views = views.NewProjector(a.Store, viewCache, render.New(cfg.TrustedClients), cfg.DisplayCacheTTL, logger)
	a.Registry, err = registry.New(a.Store, a.Events, logger, a.Metrics, registry.Options{
		CacheMaxEntries: cfg.UserCacheMaxEntries,
		CacheTTL:        cfg.UserCacheTTL,
		Views:           a.Views,
	})
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	a.closers = append(a.closers, a.Registry.Close)

	a.Resolver = resolver.New(a.Store, logger, a.Metrics)
	a.Ledger = subscription.NewLedger(a.Store, a.Resolver, a.Views, a.Events, logger)

	opts := delivery.Options{SignupsBotEmail: cfg.SignupsBotEmail}
	if cfg.PushURL != "" {
		opts.Notifier = push.NewClient(cfg.PushURL, cfg.PushSecret, cfg.PushTimeout)
		logger.Info("push gateway configured", zap.String("url", cfg.PushURL))
	}
	a.Engine = delivery.New(a.Store, a.Registry, a.Resolver, a.Views, a.Events, logger, a.Metrics, opts)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Storage == "memory" {
		a.Logger.Warn("using in-memory storage; data is lost on exit")
		a.Store = memory.NewStore()
		return nil
	}

	database, err := db.New(ctx, a.Config.DatabaseURL, db.Options{
		MaxConns: a.Config.DBMaxConns,
		MinConns: a.Config.DBMinConns,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, database.Close)

	if err := db.Migrate(ctx, database.Pool(), a.Logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Store = postgres.NewStore(database.Pool())
	a.Health["postgres"] = database.Health
	return nil
}

func (a *App) openCache(ctx context.Context) (cache.Store, error) {
	if a.Config.RedisURL == "" {
		local, err := cache.NewLocal(localCacheBytes)
		if err != nil {
			return nil, fmt.Errorf("create local cache: %w", err)
		}
		a.closers = append(a.closers, local.Close)
		return local, nil
	}

	rdb, err := cache.NewRedis(ctx, a.Config.RedisURL, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	})
	a.Health["redis"] = rdb.Health
	return rdb, nil
}

// Router builds the HTTP API over the wired services.
func (a *App) Router() *gin.Engine {
	return api.NewRouter(api.Services{
		Registry:  a.Registry,
		Resolver:  a.Resolver,
		Ledger:    a.Ledger,
		Engine:    a.Engine,
		JWTSecret: a.Config.JWTSecret,
		TokenTTL:  a.Config.JWTTTL,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Gatherer:  a.Prom,
		Health:    a.Health,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
