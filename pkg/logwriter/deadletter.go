package logwriter

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type deadLetter struct {
	batch  *Batch
	reason error
}

// asyncDeadLetters decouples the flush path from a possibly slow DeadLetterSink. Batches are queued
// on a bounded channel and delivered by a single goroutine; when the queue is full the batch is
// dropped and counted rather than blocking the flusher.
type asyncDeadLetters struct {
	sink    DeadLetterSink
	queue   chan deadLetter
	done    chan struct{}
	logger  *log.Entry
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
}

func newAsyncDeadLetters(sink DeadLetterSink, size int, logger *log.Entry, metrics *Metrics) *asyncDeadLetters {
	s := &asyncDeadLetters{
		sink:    sink,
		queue:   make(chan deadLetter, size),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	go s.run()
	return s
}

func (s *asyncDeadLetters) run() {
	defer close(s.done)
	for dl := range s.queue {
		s.sink.Accept(dl.batch, dl.reason)
	}
}

func (s *asyncDeadLetters) Accept(batch *Batch, reason error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.closed {
		select {
		case s.queue <- deadLetter{batch: batch, reason: reason}:
			return
		default:
		}
	}
	s.metrics.deadLettersDropped.Add(float64(len(batch.Pending())))
	s.logger.
		WithField("partition", batch.Partition.String()).
		WithField("batch", batch.ID.String()).
		WithError(reason).
		Errorf("Dead-letter queue unavailable, dropping %d records", len(batch.Pending()))
}

// close stops accepting batches and waits up to timeout for queued ones to be delivered.
// Returns true if the timeout was hit.
func (s *asyncDeadLetters) close(timeout time.Duration) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return false
	case <-timer.C:
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
