// Package redis owns the connection to the Redis server that backs the cache
// store. It only constructs and health-checks the client; cache semantics live
// in the store package.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"prompt-cache/internal/common/errors"
)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	// DialTimeout bounds connection establishment; the store applies its own
	// per-operation timeout on top.
	DialTimeout time.Duration `json:"dial_timeout"`
}

// NewClient connects to Redis and fails unless the server answers a PING.
func NewClient(config *Config) (*Client, error) {
	client, err := Dial(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.rdb.Ping(ctx).Err(); err != nil {
		_ = client.rdb.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err).
			WithContext("address", config.Address)
	}
	return client, nil
}

// Dial builds a client without contacting the server. Connections are made on
// first use, so a Redis that is down at startup is picked up once it recovers.
func Dial(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.ConfigError("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
		// The store bounds each call with its own context deadline.
		MaxRetries: 1,
	})

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// Universal exposes the underlying client for the store adapter.
func (c *Client) Universal() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Address() string {
	return c.config.Address
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
