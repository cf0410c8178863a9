package store

import (
	"context"
	"sync"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// MemoryStore keeps documents in process. It is used for dry runs and tests.
type MemoryStore struct {
	mu          sync.Mutex
	partitions  map[logwriter.PartitionID][]Document
	provisioned map[logwriter.PartitionID]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions:  map[logwriter.PartitionID][]Document{},
		provisioned: map[logwriter.PartitionID]bool{},
	}
}

func (s *MemoryStore) BulkInsert(ctx context.Context, partition logwriter.PartitionID, records []logwriter.LogRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, logwriter.Retryable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.partitions[partition] = append(s.partitions[partition], NewDocument(record))
	}
	return len(records), nil
}

func (s *MemoryStore) EnsurePartition(_ context.Context, partition logwriter.PartitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioned[partition] = true
	return nil
}

// Documents returns a copy of the documents written to partition.
func (s *MemoryStore) Documents(partition logwriter.PartitionID) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.partitions[partition]...)
}

func (s *MemoryStore) Partitions() []logwriter.PartitionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	partitions := make([]logwriter.PartitionID, 0, len(s.partitions))
	for p := range s.partitions {
		partitions = append(partitions, p)
	}
	return partitions
}

func (s *MemoryStore) Provisioned(partition logwriter.PartitionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provisioned[partition]
}

func (s *MemoryStore) Check() error {
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
