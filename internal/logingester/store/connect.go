package store

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/internal/common/database"
	"github.com/G-Research/logingester/internal/logingester/configuration"
)

// Connect opens the store selected by config, retrying the connection up to config.ConnectAttempts
// times. Stores that expire records themselves use provisioning.Retention.
func Connect(ctx context.Context, config configuration.StoreConfig, provisioning configuration.ProvisioningConfig) (LogStore, error) {
	var logStore LogStore
	err := retry.Do(
		func() error {
			var err error
			logStore, err = connect(ctx, config, provisioning)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(config.ConnectAttempts),
		retry.Delay(config.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Connecting to %s store failed (attempt %d of %d)", config.Type, n+1, config.ConnectAttempts)
		}),
	)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not connect to %s store", config.Type)
	}
	log.Infof("Connected to %s store", config.Type)
	return logStore, nil
}

func connect(ctx context.Context, config configuration.StoreConfig, provisioning configuration.ProvisioningConfig) (LogStore, error) {
	switch config.Type {
	case configuration.StoreMongo:
		return ConnectMongo(ctx, config.Mongo, config.InsertTimeout, provisioning.Retention)
	case configuration.StoreRedis:
		db := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		if err := db.Ping().Err(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewRedisStore(db, config.Redis.Encoding, config.Redis.Retention), nil
	case configuration.StorePostgres:
		db, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return nil, err
		}
		return newPostgresStoreOrClose(db, config)
	case configuration.StoreMemory:
		return NewMemoryStore(), nil
	}
	return nil, retry.Unrecoverable(errors.Errorf("unknown store type %q", config.Type))
}

func newPostgresStoreOrClose(db *pgxpool.Pool, config configuration.StoreConfig) (LogStore, error) {
	s, err := NewPostgresStore(db, config.InsertTimeout)
	if err != nil {
		db.Close()
		return nil, retry.Unrecoverable(err)
	}
	return s, nil
}
