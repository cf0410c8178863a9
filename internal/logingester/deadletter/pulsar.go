package deadletter

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const (
	partitionProperty = "partition"
	reasonProperty    = "reason"
	batchIdProperty   = "batchId"
	attemptsProperty  = "attempts"
)

// Producer is the subset of pulsar.Producer used by PulsarSink.
type Producer interface {
	SendAsync(context.Context, *pulsar.ProducerMessage, func(pulsar.MessageID, *pulsar.ProducerMessage, error))
	Flush() error
	Close()
}

// PulsarSink publishes each dead-lettered batch as one message whose payload is a JSON array of
// the undelivered documents. The partition is used as the message key.
type PulsarSink struct {
	producer Producer
	client   pulsar.Client
	logger   *log.Entry
	failed   atomic.Int64
}

func NewPulsarSink(config configuration.PulsarDeadLetterConfig, logger *log.Entry) (*PulsarSink, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               config.URL,
		ConnectionTimeout: config.ConnectionTimeout,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "error creating pulsar client")
	}
	producer, err := client.CreateProducer(producerOptions(config))
	if err != nil {
		client.Close()
		return nil, errors.WithMessagef(err, "error creating pulsar producer for topic %s", config.Topic)
	}
	sink := NewPulsarSinkWithProducer(producer, logger)
	sink.client = client
	return sink, nil
}

// producerOptions makes SendAsync fail instead of blocking when the producer's queue is full.
func producerOptions(config configuration.PulsarDeadLetterConfig) pulsar.ProducerOptions {
	return pulsar.ProducerOptions{
		Topic:                   config.Topic,
		CompressionType:         config.CompressionType,
		CompressionLevel:        config.CompressionLevel,
		DisableBlockIfQueueFull: true,
	}
}

func NewPulsarSinkWithProducer(producer Producer, logger *log.Entry) *PulsarSink {
	return &PulsarSink{producer: producer, logger: logger}
}

func (s *PulsarSink) Accept(batch *logwriter.Batch, reason error) {
	entries := NewEntries(batch, reason)
	docs := make([]interface{}, len(entries))
	for i, entry := range entries {
		docs[i] = entry.Record
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		s.fail(batch, len(entries), err)
		return
	}

	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	s.producer.SendAsync(
		context.Background(),
		&pulsar.ProducerMessage{
			Payload: payload,
			Key:     batch.Partition.String(),
			Properties: map[string]string{
				partitionProperty: batch.Partition.String(),
				reasonProperty:    reasonText,
				batchIdProperty:   batch.ID.String(),
				attemptsProperty:  strconv.Itoa(batch.Attempts),
			},
			EventTime: batch.CreatedAt,
		},
		func(_ pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
			if err != nil {
				s.fail(batch, len(entries), err)
			}
		},
	)
}

func (s *PulsarSink) fail(batch *logwriter.Batch, records int, err error) {
	s.failed.Add(int64(records))
	s.logger.WithError(err).WithField("batch", batch.ID).
		Errorf("Failed to publish %d dead-lettered records to pulsar", records)
}

// Failed returns the number of records that could not be published.
func (s *PulsarSink) Failed() int64 {
	return s.failed.Load()
}

// Close waits up to timeout for outstanding messages to be acknowledged and then closes the
// producer.
func (s *PulsarSink) Close(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.producer.Flush()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(timeout):
		err = errors.Errorf("timed out after %s flushing dead-letter producer", timeout)
	}
	s.producer.Close()
	if s.client != nil {
		s.client.Close()
	}
	return errors.WithStack(err)
}
