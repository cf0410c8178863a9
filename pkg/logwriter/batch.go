package logwriter

import (
	"time"

	"github.com/google/uuid"
)

type BatchState int

const (
	BatchPending BatchState = iota
	BatchInFlight
	BatchRetryScheduled
	BatchSucceeded
	BatchDeadLettered
)

func (s BatchState) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchInFlight:
		return "in_flight"
	case BatchRetryScheduled:
		return "retry_scheduled"
	case BatchSucceeded:
		return "succeeded"
	case BatchDeadLettered:
		return "dead_lettered"
	}
	return "unknown"
}

// Batch is an ordered group of records sharing a partition. A batch is owned by the flusher until it
// either succeeds or is handed to the dead-letter sink; nothing else mutates it.
type Batch struct {
	ID        uuid.UUID
	Partition PartitionID
	Records   []LogRecord
	CreatedAt time.Time
	State     BatchState
	// Number of store calls made for this batch.
	Attempts int
	// Number of leading records the store has durably written.
	Delivered int
	LastError error
}

func newBatch(partition PartitionID, records []LogRecord, now time.Time) *Batch {
	return &Batch{
		ID:        uuid.New(),
		Partition: partition,
		Records:   records,
		CreatedAt: now,
		State:     BatchPending,
	}
}

// Pending returns the records that have not yet been written to the store.
func (b *Batch) Pending() []LogRecord {
	return b.Records[b.Delivered:]
}
