package logwriter

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// batchFlusher is the only consumer of the record buffer. It drains the buffer whenever the buffer
// reaches maxBatchSize records or interval has elapsed since the last flush (whichever occurs first),
// groups the drained records by partition and hands each batch to the retry coordinator.
type batchFlusher struct {
	buffer       *recordBuffer
	router       PartitionRouter
	retry        *retryCoordinator
	maxBatchSize int
	drainLimit   int
	interval     time.Duration
	concurrency  int
	clock        clock.Clock
	logger       *log.Entry
	metrics      *Metrics

	// Records drained from the buffer whose batches have not reached a final state.
	inFlight atomic.Int64
}

// run flushes on size or time triggers and on explicit requests until stop is closed, then performs
// a final drain. ctx bounds store calls and retry backoff; cancelling it dead-letters whatever has not
// been written.
func (f *batchFlusher) run(ctx context.Context, stop <-chan struct{}, requests <-chan chan struct{}) {
	timer := f.clock.NewTimer(f.interval)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		timer.Reset(f.interval)
	}

	for {
		select {
		case <-stop:
			f.drainAll(ctx)
			return
		case <-timer.C():
			f.flush(ctx)
			timer.Reset(f.interval)
		case <-f.buffer.ready:
			f.flush(ctx)
			resetTimer()
		case reply := <-requests:
			f.flush(ctx)
			resetTimer()
			close(reply)
		}
	}
}

func (f *batchFlusher) drainAll(ctx context.Context) {
	for f.buffer.len() > 0 {
		f.flush(ctx)
	}
}

// flush drains whatever is currently buffered and blocks until every resulting batch has either been
// written or dead-lettered.
func (f *batchFlusher) flush(ctx context.Context) {
	records := f.buffer.drain(f.drainLimit)
	if len(records) == 0 {
		return
	}
	start := f.clock.Now()
	f.inFlight.Add(int64(len(records)))

	partitions, groups := f.group(records)

	g := errgroup.Group{}
	g.SetLimit(f.concurrency)
	for _, partition := range partitions {
		batches := groups[partition]
		g.Go(func() error {
			for _, batch := range batches {
				f.retry.submit(ctx, batch)
				f.inFlight.Add(-int64(len(batch.Records)))
			}
			return nil
		})
	}
	_ = g.Wait()

	taken := f.clock.Since(start)
	f.metrics.flushDuration.Observe(taken.Seconds())
	f.logger.Debugf("Flushed %d records across %d partitions in %dms", len(records), len(partitions), taken.Milliseconds())
}

// group splits records into batches of at most maxBatchSize records sharing a partition. Partitions
// are returned in the order they were first seen and records keep their relative order.
func (f *batchFlusher) group(records []LogRecord) ([]PartitionID, map[PartitionID][]*Batch) {
	now := f.clock.Now()
	var partitions []PartitionID
	byPartition := make(map[PartitionID][]LogRecord)
	for _, record := range records {
		partition := f.router.Route(record)
		if _, ok := byPartition[partition]; !ok {
			partitions = append(partitions, partition)
		}
		byPartition[partition] = append(byPartition[partition], record)
	}

	groups := make(map[PartitionID][]*Batch, len(partitions))
	for _, partition := range partitions {
		partitionRecords := byPartition[partition]
		for start := 0; start < len(partitionRecords); start += f.maxBatchSize {
			end := min(start+f.maxBatchSize, len(partitionRecords))
			groups[partition] = append(groups[partition], newBatch(partition, partitionRecords[start:end], now))
		}
	}
	return partitions, groups
}
