package logwriter

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Store is the durable backend the writer flushes to.
//
// BulkInsert writes records, in order, to partition. On failure it returns the number of leading
// records that were durably written before the error (zero for all-or-nothing stores) together with
// an error classified by Retryable or Fatal. Only the remaining records are retried.
type Store interface {
	BulkInsert(ctx context.Context, partition PartitionID, records []LogRecord) (int, error)
}

// DeadLetterSink receives batches that could not be written. Implementations are best-effort; the
// writer never waits for them. Sinks should read the undelivered records from Batch.Pending.
type DeadLetterSink interface {
	Accept(batch *Batch, reason error)
}

// DeadLetterFunc adapts a function to a DeadLetterSink.
type DeadLetterFunc func(batch *Batch, reason error)

func (f DeadLetterFunc) Accept(batch *Batch, reason error) {
	f(batch, reason)
}

// logDeadLetters is the default sink: it records the loss and discards the batch.
type logDeadLetters struct {
	logger *log.Entry
}

func (s logDeadLetters) Accept(batch *Batch, reason error) {
	s.logger.
		WithField("partition", batch.Partition.String()).
		WithField("batch", batch.ID.String()).
		WithError(reason).
		Errorf("Discarding %d undelivered records after %d attempts", len(batch.Pending()), batch.Attempts)
}
