package logwriter

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

const (
	backoffFactor = 2.0
	backoffJitter = 0.2
)

type retryPolicy struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
	maxWait     time.Duration
}

// retryCoordinator drives a batch through the store until it succeeds or is dead-lettered.
//
//	Pending -> InFlight -> Succeeded
//	                    -> RetryScheduled -> InFlight ...
//	                    -> DeadLettered
//
// Fatal errors dead-letter the batch straight away. Retryable errors are retried with jittered
// exponential backoff until maxAttempts calls have been made or the accumulated backoff would exceed
// maxWait. Backoff only blocks the calling flush goroutine.
type retryCoordinator struct {
	store      Store
	deadLetter DeadLetterSink
	policy     retryPolicy
	clock      clock.Clock
	logger     *log.Entry
	metrics    *Metrics
}

func (r *retryCoordinator) newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: r.policy.base,
		Factor:   backoffFactor,
		Jitter:   backoffJitter,
		Steps:    r.policy.maxAttempts,
		Cap:      r.policy.cap,
	}
}

func (r *retryCoordinator) submit(ctx context.Context, batch *Batch) BatchState {
	logger := r.logger.
		WithField("partition", batch.Partition.String()).
		WithField("batch", batch.ID.String())
	backoff := r.newBackoff()
	var waited time.Duration

	for {
		if err := ctx.Err(); err != nil {
			return r.abandon(batch, errors.Wrap(ErrDrainTimeout, err.Error()))
		}

		batch.State = BatchInFlight
		batch.Attempts++
		pending := batch.Pending()
		written, err := r.store.BulkInsert(ctx, batch.Partition, pending)
		if err == nil {
			written = len(pending)
		}
		written = max(0, min(written, len(pending)))
		batch.Delivered += written
		r.metrics.recordsFlushed.Add(float64(written))

		if err == nil || batch.Delivered == len(batch.Records) {
			r.metrics.storeAttempts.WithLabelValues(resultOk).Inc()
			batch.State = BatchSucceeded
			batch.LastError = nil
			r.metrics.batches.WithLabelValues(outcomeSucceeded).Inc()
			logger.Debugf("Inserted %d records after %d attempts", len(batch.Records), batch.Attempts)
			return batch.State
		}
		batch.LastError = err

		if !IsRetryable(err) {
			r.metrics.storeAttempts.WithLabelValues(resultFatal).Inc()
			logger.WithError(err).Warnf("Non-retryable error inserting %d records", len(batch.Pending()))
			return r.abandon(batch, err)
		}
		r.metrics.storeAttempts.WithLabelValues(resultRetryable).Inc()

		if batch.Attempts >= r.policy.maxAttempts {
			return r.abandon(batch, errors.Wrapf(ErrRetriesExhausted, "gave up after %d attempts: %v", batch.Attempts, err))
		}
		delay := min(backoff.Step(), r.policy.cap)
		if r.policy.maxWait > 0 && waited+delay > r.policy.maxWait {
			return r.abandon(batch, errors.Wrapf(ErrRetriesExhausted, "retry wait budget of %s spent after %d attempts: %v", r.policy.maxWait, batch.Attempts, err))
		}

		batch.State = BatchRetryScheduled
		logger.WithError(err).Warnf("Retryable error inserting %d records, will retry in %s (attempt %d of %d)",
			len(batch.Pending()), delay, batch.Attempts, r.policy.maxAttempts)
		select {
		case <-ctx.Done():
			return r.abandon(batch, errors.Wrap(ErrDrainTimeout, ctx.Err().Error()))
		case <-r.clock.After(delay):
		}
		waited += delay
	}
}

func (r *retryCoordinator) abandon(batch *Batch, reason error) BatchState {
	batch.State = BatchDeadLettered
	r.metrics.batches.WithLabelValues(outcomeDeadLettered).Inc()
	r.metrics.recordsDeadLettered.Add(float64(len(batch.Pending())))
	r.deadLetter.Accept(batch, reason)
	return BatchDeadLettered
}
