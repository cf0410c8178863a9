package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/pkg/logwriter"
)

var testPartition = logwriter.DailyPartition("auth-service", baseTime)

func TestRedisStore_BulkInsert(t *testing.T) {
	withRedisStore(configuration.EncodingJson, time.Hour, func(db *miniredis.Miniredis, s *RedisStore) {
		records := testRecords(3)
		n, err := s.BulkInsert(context.Background(), testPartition, records)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		key := "Logs:auth-service_logs:auth-service_log_2024-03-01"
		values, err := db.List(key)
		require.NoError(t, err)
		require.Len(t, values, 3)
		for i, value := range values {
			var doc Document
			require.NoError(t, json.Unmarshal([]byte(value), &doc))
			assert.Equal(t, records[i].Message, doc.Message)
			assert.Equal(t, "auth-service", doc.Meta.Service)
			assert.Equal(t, "info", doc.Meta.Level)
		}
		assert.Equal(t, time.Hour, db.TTL(key))
	})
}

func TestRedisStore_Msgpack(t *testing.T) {
	withRedisStore(configuration.EncodingMsgpack, 0, func(db *miniredis.Miniredis, s *RedisStore) {
		_, err := s.BulkInsert(context.Background(), testPartition, testRecords(1))
		require.NoError(t, err)

		key := partitionKey(testPartition)
		values, err := db.List(key)
		require.NoError(t, err)
		require.Len(t, values, 1)

		var doc Document
		require.NoError(t, msgpack.Unmarshal([]byte(values[0]), &doc))
		assert.Equal(t, "message-0", doc.Message)
		assert.True(t, baseTime.Equal(doc.Timestamp))
		assert.Zero(t, db.TTL(key))
	})
}

func TestRedisStore_AppendsInOrder(t *testing.T) {
	withRedisStore(configuration.EncodingJson, 0, func(db *miniredis.Miniredis, s *RedisStore) {
		records := testRecords(4)
		_, err := s.BulkInsert(context.Background(), testPartition, records[:2])
		require.NoError(t, err)
		_, err = s.BulkInsert(context.Background(), testPartition, records[2:])
		require.NoError(t, err)

		values, err := db.List(partitionKey(testPartition))
		require.NoError(t, err)
		var messages []string
		for _, value := range values {
			var doc Document
			require.NoError(t, json.Unmarshal([]byte(value), &doc))
			messages = append(messages, doc.Message)
		}
		assert.Equal(t, []string{"message-0", "message-1", "message-2", "message-3"}, messages)
	})
}

func TestRedisStore_WrongTypeIsFatal(t *testing.T) {
	withRedisStore(configuration.EncodingJson, 0, func(db *miniredis.Miniredis, s *RedisStore) {
		require.NoError(t, db.Set(partitionKey(testPartition), "not a list"))

		n, err := s.BulkInsert(context.Background(), testPartition, testRecords(2))

		assert.Zero(t, n)
		assert.Error(t, err)
		assert.False(t, logwriter.IsRetryable(err))
	})
}

func TestRedisStore_UnavailableIsRetryable(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	s := NewRedisStore(client, configuration.EncodingJson, 0)
	db.Close()

	n, err := s.BulkInsert(context.Background(), testPartition, testRecords(2))

	assert.Zero(t, n)
	assert.Error(t, err)
	assert.True(t, logwriter.IsRetryable(err))
	assert.Error(t, s.Check())
}

func TestRedisStore_CancelledContext(t *testing.T) {
	withRedisStore(configuration.EncodingJson, 0, func(db *miniredis.Miniredis, s *RedisStore) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		n, err := s.BulkInsert(ctx, testPartition, testRecords(2))

		assert.Zero(t, n)
		assert.True(t, logwriter.IsRetryable(err))
		assert.False(t, db.Exists(partitionKey(testPartition)))
	})
}

func TestClassifyRedisError(t *testing.T) {
	tests := map[string]struct {
		err       error
		retryable bool
	}{
		"loading":     {err: errors.New("LOADING Redis is loading the dataset in memory"), retryable: true},
		"readonly":    {err: errors.New("READONLY You can't write against a read only replica."), retryable: true},
		"clusterdown": {err: errors.New("CLUSTERDOWN The cluster is down"), retryable: true},
		"tryagain":    {err: errors.New("TRYAGAIN Multiple keys request during rehashing of slot"), retryable: true},
		"max clients": {err: errors.New("ERR max number of clients reached"), retryable: true},
		"wrongtype":   {err: errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"), retryable: false},
		"execabort":   {err: errors.New("EXECABORT Transaction discarded because of previous errors."), retryable: false},
		"generic err": {err: errors.New("ERR unknown command"), retryable: false},
		"unknown":     {err: errors.New("something odd"), retryable: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, logwriter.IsRetryable(classifyRedisError(tc.err)))
		})
	}
}

func withRedisStore(encoding string, retention time.Duration, action func(db *miniredis.Miniredis, s *RedisStore)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	action(db, NewRedisStore(client, encoding, retention))
}
