package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const logListPrefix = "Logs:"

// Errors for which resending the same commands cannot succeed.
var fatalRedisPrefixes = []string{"ERR ", "WRONGTYPE ", "EXECABORT "}

// RedisStore appends the documents of each partition to a redis list. All documents of a call are
// pushed in a single MULTI/EXEC transaction, so a call either writes every document or none.
type RedisStore struct {
	db        redis.UniversalClient
	encode    func(Document) ([]byte, error)
	retention time.Duration
}

func NewRedisStore(db redis.UniversalClient, encoding string, retention time.Duration) *RedisStore {
	encode := encodeJson
	if encoding == configuration.EncodingMsgpack {
		encode = encodeMsgpack
	}
	return &RedisStore{db: db, encode: encode, retention: retention}
}

func encodeJson(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

func encodeMsgpack(doc Document) ([]byte, error) {
	return msgpack.Marshal(doc)
}

func (s *RedisStore) BulkInsert(ctx context.Context, partition logwriter.PartitionID, records []logwriter.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, logwriter.Retryable(err)
	}

	values := make([]interface{}, len(records))
	for i, record := range records {
		data, err := s.encode(NewDocument(record))
		if err != nil {
			return 0, logwriter.Fatal(errors.Wrapf(err, "error encoding record %d", i))
		}
		values[i] = data
	}

	key := partitionKey(partition)
	pipe := s.db.TxPipeline()
	pipe.RPush(key, values...)
	if s.retention > 0 {
		pipe.Expire(key, s.retention)
	}
	if _, err := pipe.Exec(); err != nil {
		return 0, classifyRedisError(err)
	}
	return len(records), nil
}

func classifyRedisError(err error) error {
	if IsRetryableRedisError(err) || IsNetworkError(err) {
		return logwriter.Retryable(err)
	}
	for _, prefix := range fatalRedisPrefixes {
		if strings.HasPrefix(err.Error(), prefix) {
			return logwriter.Fatal(err)
		}
	}
	return err
}

// EnsurePartition is a no-op: redis lists are created by the first push.
func (s *RedisStore) EnsurePartition(context.Context, logwriter.PartitionID) error {
	return nil
}

func (s *RedisStore) Check() error {
	return s.db.Ping().Err()
}

func (s *RedisStore) Close(context.Context) error {
	return s.db.Close()
}

func partitionKey(partition logwriter.PartitionID) string {
	return logListPrefix + partition.Namespace + ":" + partition.Name
}
