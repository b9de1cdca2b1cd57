package app

import (
	"context"
	"time"

	"prompt-cache/internal/cacheaside"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/config"
	"prompt-cache/internal/invalidation"
	"prompt-cache/internal/metrics"
	"prompt-cache/internal/ratelimit"
	"prompt-cache/internal/redis"
	"prompt-cache/internal/session"
	"prompt-cache/internal/store"
	"prompt-cache/internal/ttl"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Store       store.Store
	Metrics     *metrics.Recorder
	Policy      *ttl.Policy
	Cache       *cacheaside.Orchestrator
	Invalidator *invalidation.Service
	RateLimiter *ratelimit.Limiter
	Sessions    *session.Cache
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.Component(nil, "app"),
	}

	// Metrics first: every other component records into it.
	if cfg.MetricsEnabled {
		app.Metrics = metrics.NewRecorder(nil)
	}

	app.Policy = ttl.NewPolicy(map[ttl.Tier]time.Duration{
		ttl.Short:   config.Duration(cfg.TTLShort, ttl.DefaultShort),
		ttl.Medium:  config.Duration(cfg.TTLMedium, ttl.DefaultMedium),
		ttl.Long:    config.Duration(cfg.TTLLong, ttl.DefaultLong),
		ttl.Session: config.Duration(cfg.TTLSession, ttl.DefaultSession),
	})

	if err := app.initializeStore(); err != nil {
		return nil, err
	}

	app.Cache = cacheaside.New(app.Store, cacheaside.Config{
		WriteTimeout: config.Duration(cfg.WriteTimeout, 2*time.Second),
		Coalesce:     cfg.CoalesceMisses,
		Policy:       app.Policy,
		Metrics:      app.Metrics,
	})

	app.Invalidator = invalidation.NewService(app.Store, invalidation.Config{
		Concurrency: config.Int(cfg.InvalidationConcurrency, 16),
		Metrics:     app.Metrics,
	})

	app.Sessions = session.New(app.Store, app.Policy, nil)

	app.initializeRateLimiter()

	return app, nil
}

// Shutdown drains background cache writes before the store goes away.
func (app *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		app.Cache.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.Logger.Info("Pending cache writes drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing cache store", logging.Err(err))
		}
	}
}
