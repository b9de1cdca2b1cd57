package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-cache/internal/common/errors"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)

	return client, mr
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	t.Run("successful connection", func(t *testing.T) {
		client, err := NewClient(&Config{Address: mr.Addr(), PoolSize: 5})
		require.NoError(t, err)
		assert.Equal(t, mr.Addr(), client.Address())
		assert.NotNil(t, client.Universal())
		assert.NoError(t, client.Close())
	})

	t.Run("sets defaults", func(t *testing.T) {
		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NotZero(t, config.DialTimeout)
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	t.Run("healthy connection", func(t *testing.T) {
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("unhealthy connection", func(t *testing.T) {
		mr.Close()
		assert.Error(t, client.Health(context.Background()))
	})
}

func TestDial(t *testing.T) {
	t.Run("unreachable server", func(t *testing.T) {
		client, err := Dial(&Config{Address: "127.0.0.1:1"})
		require.NoError(t, err)
		defer client.Close()

		assert.Error(t, client.Health(context.Background()))
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := Dial(nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}
