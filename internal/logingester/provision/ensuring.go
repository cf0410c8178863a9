package provision

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/G-Research/logingester/internal/logingester/store"
	"github.com/G-Research/logingester/pkg/logwriter"
)

// EnsuringStore provisions a partition before the first write to it. Partitions are remembered for
// a day, which covers daily partitions being dropped by retention.
type EnsuringStore struct {
	store.LogStore
	ensured *cache.Cache
}

func NewEnsuringStore(logStore store.LogStore) *EnsuringStore {
	return &EnsuringStore{
		LogStore: logStore,
		ensured:  cache.New(day, time.Hour),
	}
}

func (s *EnsuringStore) BulkInsert(ctx context.Context, partition logwriter.PartitionID, records []logwriter.LogRecord) (int, error) {
	key := partition.String()
	if _, ok := s.ensured.Get(key); !ok {
		if err := s.LogStore.EnsurePartition(ctx, partition); err != nil {
			return 0, logwriter.Retryable(err)
		}
		s.ensured.SetDefault(key, struct{}{})
	}
	return s.LogStore.BulkInsert(ctx, partition, records)
}

// EnsurePartition provisions partition and remembers it, so a later write does not repeat the work.
func (s *EnsuringStore) EnsurePartition(ctx context.Context, partition logwriter.PartitionID) error {
	if err := s.LogStore.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	s.ensured.SetDefault(partition.String(), struct{}{})
	return nil
}
