package logwriter

import (
	"context"
	"sync"
	"time"
)

var baseTime = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func testRecord(service string, message string) LogRecord {
	return LogRecord{
		Timestamp: baseTime,
		Service:   service,
		Level:     LevelInfo,
		Host:      "host-1",
		Pid:       42,
		Message:   message,
	}
}

// fakeStore pops one scripted error per call. A nil error, or an empty script, means the call
// succeeds. written gives the number of records persisted by the corresponding failing call.
type fakeStore struct {
	mu       sync.Mutex
	errs     []error
	written  []int
	calls    int
	inserted map[PartitionID][]LogRecord
	block    chan struct{}
}

func newFakeStore(errs ...error) *fakeStore {
	return &fakeStore{errs: errs, inserted: map[PartitionID][]LogRecord{}}
}

func (s *fakeStore) BulkInsert(ctx context.Context, partition PartitionID, records []LogRecord) (int, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return 0, Retryable(ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	if err == nil {
		s.inserted[partition] = append(s.inserted[partition], records...)
		return len(records), nil
	}
	n := 0
	if len(s.written) > 0 {
		n = s.written[0]
		s.written = s.written[1:]
	}
	s.inserted[partition] = append(s.inserted[partition], records[:n]...)
	return n, err
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) Inserted(partition PartitionID) []LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogRecord(nil), s.inserted[partition]...)
}

func (s *fakeStore) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []string
	for _, records := range s.inserted {
		for _, r := range records {
			messages = append(messages, r.Message)
		}
	}
	return messages
}

type collectingSink struct {
	mu      sync.Mutex
	batches []*Batch
	reasons []error
}

func (s *collectingSink) Accept(batch *Batch, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	s.reasons = append(s.reasons, reason)
}

func (s *collectingSink) Batches() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Batch(nil), s.batches...)
}

func (s *collectingSink) Reasons() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.reasons...)
}

func (s *collectingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []string
	for _, b := range s.batches {
		for _, r := range b.Pending() {
			messages = append(messages, r.Message)
		}
	}
	return messages
}

// blockingSink holds every Accept call until release is closed.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Accept(*Batch, error) {
	<-s.release
}
