package logwriter

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// closeGrace bounds how long Close waits, after the close deadline, for cancelled batches to be
// dead-lettered.
const closeGrace = time.Second

type Option func(w *Writer)

// WithRouter replaces the default DailyRouter.
func WithRouter(router PartitionRouter) Option {
	return func(w *Writer) {
		w.router = router
	}
}

// WithDeadLetterSink sets the sink for batches that cannot be written. By default they are logged
// and discarded.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(w *Writer) {
		w.deadLetterSink = sink
	}
}

func WithClock(clock clock.Clock) Option {
	return func(w *Writer) {
		w.clock = clock
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithRegisterer registers the writer's metrics with registerer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(w *Writer) {
		w.registerer = registerer
	}
}

// WithName labels the writer's logs and metrics, allowing several writers in one process.
func WithName(name string) Option {
	return func(w *Writer) {
		w.name = name
	}
}

// Writer accepts log records from any number of goroutines and flushes them in the background to a
// partitioned Store. Write never blocks on the store: when the buffer is full it fails fast with
// ErrFull. Store failures are retried internally and batches that cannot be written are handed to
// the dead-letter sink.
type Writer struct {
	name           string
	config         Config
	store          Store
	router         PartitionRouter
	deadLetterSink DeadLetterSink
	clock          clock.Clock
	logger         *log.Entry
	registerer     prometheus.Registerer
	metrics        *Metrics

	buffer      *recordBuffer
	flusher     *batchFlusher
	deadLetters *asyncDeadLetters

	// Guards closed. Write holds the read lock while enqueueing so that no record can be buffered
	// after Close has started the final drain.
	mu     sync.RWMutex
	closed bool

	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	requests  chan chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open validates config, starts the background flusher and returns a Writer ready for use.
// Unset config fields take their values from DefaultConfig.
func Open(config Config, store Store, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("a store must be supplied")
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid writer configuration")
	}

	w := &Writer{
		name:     "default",
		config:   config,
		store:    store,
		router:   DailyRouter{},
		clock:    clock.RealClock{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		requests: make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("writer", w.name)
	}
	if w.deadLetterSink == nil {
		w.deadLetterSink = logDeadLetters{logger: w.logger}
	}

	w.buffer = newRecordBuffer(config.BufferCapacity, config.MaxBatchSize)
	w.metrics = newMetrics(w.registerer, w.name, func() float64 { return float64(w.buffer.len()) })
	w.deadLetters = newAsyncDeadLetters(w.deadLetterSink, config.DeadLetterQueueSize, w.logger, w.metrics)
	w.flusher = &batchFlusher{
		buffer: w.buffer,
		router: w.router,
		retry: &retryCoordinator{
			store:      store,
			deadLetter: w.deadLetters,
			policy: retryPolicy{
				maxAttempts: config.MaxRetries,
				base:        config.BackoffBase,
				cap:         config.BackoffCap,
				maxWait:     config.MaxRetryWait,
			},
			clock:   w.clock,
			logger:  w.logger,
			metrics: w.metrics,
		},
		maxBatchSize: config.MaxBatchSize,
		drainLimit:   config.BufferCapacity,
		interval:     config.FlushInterval,
		concurrency:  config.FlushConcurrency,
		clock:        w.clock,
		logger:       w.logger,
		metrics:      w.metrics,
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go func() {
		defer close(w.done)
		w.flusher.run(ctx, w.stop, w.requests)
	}()

	w.logger.Infof("Log writer started with buffer capacity %d, batch size %d, flush interval %s",
		config.BufferCapacity, config.MaxBatchSize, config.FlushInterval)
	return w, nil
}

// Write buffers record for flushing. It returns ErrFull if the buffer is at capacity and ErrClosed
// after Close. Missing timestamp, level, host and pid are filled in; the record's details map is
// copied so the caller may reuse it.
func (w *Writer) Write(record LogRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = w.clock.Now().UTC()
	}
	if record.Level == "" {
		record.Level = LevelInfo
	}
	if record.Host == "" {
		record.Host = w.config.Hostname
	}
	if record.Pid == 0 {
		record.Pid = w.config.Pid
	}
	record.Details = maps.Clone(record.Details)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.metrics.recordsRejected.WithLabelValues(rejectClosed).Inc()
		return ErrClosed
	}
	if err := w.buffer.enqueue(record); err != nil {
		w.metrics.recordsRejected.WithLabelValues(rejectFull).Inc()
		return err
	}
	w.metrics.recordsAccepted.Inc()
	return nil
}

// Flush synchronously flushes everything buffered at the time of the call. It returns early if ctx
// is done, in which case the flush continues in the background.
func (w *Writer) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case w.requests <- reply:
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, flushes everything still buffered and waits, within CloseDeadline,
// for the flush to complete and for dead-lettered batches to reach the dead-letter sink. If the drain
// takes longer, outstanding store calls and retries are cancelled, their records are handed to the
// dead-letter sink within a further closeGrace and a *DrainTimeoutError is returned. Subsequent calls
// return the same result.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)

		start := w.clock.Now()
		deadline := w.clock.NewTimer(w.config.CloseDeadline)
		defer deadline.Stop()
		select {
		case <-w.done:
			w.cancel()
			remaining := w.config.CloseDeadline - w.clock.Since(start)
			if w.deadLetters.close(remaining) {
				w.logger.Warn("Timed out delivering dead-lettered batches")
			}
			w.logger.Info("Log writer closed")
		case <-deadline.C():
			w.closeErr = &DrainTimeoutError{
				Deadline:    w.config.CloseDeadline,
				Undelivered: w.buffer.len() + int(w.flusher.inFlight.Load()),
			}
			w.cancel()
			w.logger.WithError(w.closeErr).Warn("Log writer closed before the final drain completed")
			w.abandon()
		}
	})
	return w.closeErr
}

// abandon waits for the cancelled flusher to dead-letter what it still holds, then for the
// dead-letter sink to receive it. Both waits share closeGrace.
func (w *Writer) abandon() {
	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	start := time.Now()
	select {
	case <-w.done:
	case <-grace.C:
		w.logger.Warnf("Flusher still running %s after cancellation", closeGrace)
	}
	if w.deadLetters.close(closeGrace - time.Since(start)) {
		w.logger.Warn("Timed out delivering dead-lettered batches")
	}
}

// Check implements health.Checker. A writer is healthy until it is closed; stores exposing a Check
// method are consulted too.
func (w *Writer) Check() error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if checker, ok := w.store.(interface{ Check() error }); ok {
		return errors.WithMessage(checker.Check(), "store unhealthy")
	}
	return nil
}
