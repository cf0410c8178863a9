package logwriter

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// Maximum number of records held in memory waiting to be flushed
	BufferCapacity int `validate:"gt=0"`
	// Number of buffered records that triggers a flush, and the maximum size of a batch
	MaxBatchSize int `validate:"gt=0,ltefield=BufferCapacity"`
	// Maximum time between flushes
	FlushInterval time.Duration `validate:"gt=0"`
	// Maximum number of store calls made for a single batch
	MaxRetries int `validate:"gt=0"`
	// Initial retry backoff, doubled (with jitter) after every retryable failure
	BackoffBase time.Duration `validate:"gt=0"`
	// Upper bound on a single retry backoff
	BackoffCap time.Duration `validate:"gtefield=BackoffBase"`
	// Upper bound on the total backoff spent on a single batch. Negative disables the bound
	MaxRetryWait time.Duration
	// Time Close waits for the final drain before giving up
	CloseDeadline time.Duration `validate:"gt=0"`
	// Number of partitions flushed in parallel
	FlushConcurrency int `validate:"gt=0"`
	// Number of dead-lettered batches queued for the dead-letter sink before further ones are dropped
	DeadLetterQueueSize int `validate:"gt=0"`
	// Host stamped on records that do not carry one. Defaults to os.Hostname
	Hostname string
	// Pid stamped on records that do not carry one. Defaults to os.Getpid
	Pid int
}

func DefaultConfig() Config {
	return Config{
		BufferCapacity:      10000,
		MaxBatchSize:        500,
		FlushInterval:       time.Second,
		MaxRetries:          5,
		BackoffBase:         100 * time.Millisecond,
		BackoffCap:          10 * time.Second,
		MaxRetryWait:        time.Minute,
		CloseDeadline:       10 * time.Second,
		FlushConcurrency:    1,
		DeadLetterQueueSize: 100,
	}
}

// WithDefaults returns a copy of c with every unset field taken from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BufferCapacity == 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = min(d.MaxBatchSize, c.BufferCapacity)
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = max(d.BackoffCap, c.BackoffBase)
	}
	if c.MaxRetryWait == 0 {
		c.MaxRetryWait = d.MaxRetryWait
	}
	if c.CloseDeadline == 0 {
		c.CloseDeadline = d.CloseDeadline
	}
	if c.FlushConcurrency == 0 {
		c.FlushConcurrency = d.FlushConcurrency
	}
	if c.DeadLetterQueueSize == 0 {
		c.DeadLetterQueueSize = d.DeadLetterQueueSize
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.Pid == 0 {
		c.Pid = os.Getpid()
	}
	return c
}

func (c Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
