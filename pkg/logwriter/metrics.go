package logwriter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsPrefix = "logwriter_"

	outcomeSucceeded    = "succeeded"
	outcomeDeadLettered = "dead_lettered"

	resultOk        = "ok"
	resultRetryable = "retryable"
	resultFatal     = "fatal"

	rejectFull   = "full"
	rejectClosed = "closed"
)

// Metrics are registered on the Registerer supplied with WithRegisterer. Without one they are
// still maintained but not exported.
type Metrics struct {
	recordsAccepted     prometheus.Counter
	recordsRejected     *prometheus.CounterVec
	recordsFlushed      prometheus.Counter
	recordsDeadLettered prometheus.Counter
	batches             *prometheus.CounterVec
	storeAttempts       *prometheus.CounterVec
	flushDuration       prometheus.Histogram
	deadLettersDropped  prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer, writerName string, bufferLen func() float64) *Metrics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"writer": writerName}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        metricsPrefix + "buffered_records",
		Help:        "Number of records waiting in the buffer",
		ConstLabels: labels,
	}, bufferLen)

	return &Metrics{
		recordsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name:        metricsPrefix + "records_accepted_total",
			Help:        "Number of records accepted by Write",
			ConstLabels: labels,
		}),
		recordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        metricsPrefix + "records_rejected_total",
			Help:        "Number of records rejected by Write grouped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		recordsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name:        metricsPrefix + "records_flushed_total",
			Help:        "Number of records durably written to the store",
			ConstLabels: labels,
		}),
		recordsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name:        metricsPrefix + "records_dead_lettered_total",
			Help:        "Number of records handed to the dead-letter sink",
			ConstLabels: labels,
		}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        metricsPrefix + "batches_total",
			Help:        "Number of batches grouped by final outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		storeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        metricsPrefix + "store_attempts_total",
			Help:        "Number of bulk insert calls grouped by result",
			ConstLabels: labels,
		}, []string{"result"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        metricsPrefix + "flush_duration_seconds",
			Help:        "Time taken to flush one drain of the buffer, including retries",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		deadLettersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name:        metricsPrefix + "dead_letters_dropped_total",
			Help:        "Number of records dropped because the dead-letter queue was full",
			ConstLabels: labels,
		}),
	}
}
