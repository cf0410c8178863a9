package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/logingester/internal/common/config"
	"github.com/G-Research/logingester/internal/logingester/configuration"
)

func connectConfig(storeType string) configuration.StoreConfig {
	return configuration.StoreConfig{
		Type:            storeType,
		ConnectAttempts: 2,
		ConnectDelay:    time.Millisecond,
		InsertTimeout:   time.Second,
	}
}

func TestConnect_Memory(t *testing.T) {
	logStore, err := Connect(context.Background(), connectConfig(configuration.StoreMemory), configuration.ProvisioningConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, logStore)
	assert.NoError(t, logStore.Check())
	assert.NoError(t, logStore.Close(context.Background()))
}

func TestConnect_Redis(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()

	storeConfig := connectConfig(configuration.StoreRedis)
	storeConfig.Redis = configuration.RedisStoreConfig{
		RedisConfig: config.RedisConfig{Addrs: []string{db.Addr()}, PoolSize: 2},
		Encoding:    configuration.EncodingJson,
	}

	logStore, err := Connect(context.Background(), storeConfig, configuration.ProvisioningConfig{})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, logStore)
	assert.NoError(t, logStore.Close(context.Background()))
}

func TestConnect_RedisUnavailable(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	addr := db.Addr()
	db.Close()

	storeConfig := connectConfig(configuration.StoreRedis)
	storeConfig.Redis = configuration.RedisStoreConfig{
		RedisConfig: config.RedisConfig{Addrs: []string{addr}, PoolSize: 1, DialTimeout: 100 * time.Millisecond},
	}

	_, err = Connect(context.Background(), storeConfig, configuration.ProvisioningConfig{})
	assert.Error(t, err)
}

func TestConnect_UnknownType(t *testing.T) {
	_, err := Connect(context.Background(), connectConfig("cassandra"), configuration.ProvisioningConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store type "cassandra"`)
}
