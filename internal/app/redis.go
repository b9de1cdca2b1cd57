package app

import (
	"context"
	"time"

	"prompt-cache/internal/circuitbreaker"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/config"
	"prompt-cache/internal/redis"
	"prompt-cache/internal/store"
)

func (app *App) initializeStore() error {
	cfg := app.Config

	storeConfig := store.Config{
		Backend:   store.Backend(cfg.CacheBackend),
		KeyPrefix: cfg.KeyPrefix,
		Timeout:   config.Duration(cfg.StoreTimeout, 250*time.Millisecond),
		ScanBatch: config.Int(cfg.ScanBatch, 100),
		Breaker: circuitbreaker.Config{
			MaxFailures:           config.Int(cfg.BreakerMaxFailures, 5),
			Timeout:               config.Duration(cfg.BreakerTimeout, 30*time.Second),
			MaxConcurrentRequests: 1,
		},
		Metrics: app.Metrics,
	}

	if storeConfig.Backend == store.BackendRedis {
		if err := app.initializeRedis(); err != nil {
			return err
		}
		storeConfig.Client = app.RedisClient.Universal()
	}

	s, err := store.New(storeConfig)
	if err != nil {
		return err
	}
	app.Store = s

	app.Logger.Info("Cache store ready",
		logging.String("backend", cfg.CacheBackend),
		logging.String("key_prefix", cfg.KeyPrefix),
		logging.Duration("timeout", storeConfig.Timeout),
	)
	return nil
}

// initializeRedis builds the Redis client without requiring the server to be
// up. A Redis that is down at startup only means every lookup falls through to
// the source of truth until it comes back.
func (app *App) initializeRedis() error {
	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       config.Int(app.Config.RedisDB, 0),
		PoolSize: config.Int(app.Config.RedisPoolSize, 10),
	}

	client, err := redis.Dial(redisConfig)
	if err != nil {
		return err
	}
	app.RedisClient = client

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		app.Logger.Warn("Redis unreachable, serving uncached until it recovers",
			logging.String("address", client.Address()),
			logging.Err(err),
		)
		return nil
	}

	app.Logger.Info("Redis: Connected", logging.String("address", client.Address()))
	return nil
}
