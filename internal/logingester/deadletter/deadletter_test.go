package deadletter

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/internal/logingester/store"
	"github.com/G-Research/logingester/pkg/logwriter"
)

var baseTime = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func testBatch(messages ...string) *logwriter.Batch {
	records := make([]logwriter.LogRecord, len(messages))
	for i, msg := range messages {
		records[i] = logwriter.LogRecord{
			Timestamp: baseTime,
			Service:   "auth-service",
			Level:     logwriter.LevelError,
			Host:      "host-1",
			Pid:       42,
			Message:   msg,
		}
	}
	return &logwriter.Batch{
		ID:        uuid.New(),
		Partition: logwriter.DailyPartition("auth-service", baseTime),
		Records:   records,
		CreatedAt: baseTime,
		State:     logwriter.BatchDeadLettered,
		Attempts:  5,
	}
}

func TestNewEntries_OnlyUndeliveredRecords(t *testing.T) {
	batch := testBatch("a", "b", "c")
	batch.Delivered = 1

	entries := NewEntries(batch, logwriter.ErrRetriesExhausted)

	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Record.Message)
	assert.Equal(t, "c", entries[1].Record.Message)
	assert.Equal(t, batch.ID.String(), entries[0].BatchID)
	assert.Equal(t, "auth-service_logs/auth-service_log_2024-03-01", entries[0].Partition)
	assert.Equal(t, logwriter.ErrRetriesExhausted.Error(), entries[0].Reason)
	assert.Equal(t, 5, entries[0].Attempts)
}

func TestFileSink_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letters.zst")
	sink, err := NewFileSink(path, log.NewEntry(log.New()))
	require.NoError(t, err)

	sink.Accept(testBatch("a", "b"), logwriter.Fatal(errors.New("document failed validation")))
	sink.Accept(testBatch("c"), logwriter.ErrDrainTimeout)
	require.NoError(t, sink.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Record.Message)
	assert.Equal(t, "b", entries[1].Record.Message)
	assert.Equal(t, "c", entries[2].Record.Message)
	assert.Equal(t, "fatal store error: document failed validation", entries[0].Reason)
	assert.Equal(t, logwriter.ErrDrainTimeout.Error(), entries[2].Reason)
	assert.True(t, baseTime.Equal(entries[0].Record.Timestamp))
}

func TestFileSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letters.zst")
	for _, msg := range []string{"first", "second"} {
		sink, err := NewFileSink(path, log.NewEntry(log.New()))
		require.NoError(t, err)
		sink.Accept(testBatch(msg), logwriter.ErrRetriesExhausted)
		require.NoError(t, sink.Close())
	}

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Record.Message)
	assert.Equal(t, "second", entries[1].Record.Message)
}

func TestPulsarSink_Accept(t *testing.T) {
	producer := &mockProducer{}
	sink := NewPulsarSinkWithProducer(producer, log.NewEntry(log.New()))
	batch := testBatch("a", "b")

	sink.Accept(batch, logwriter.ErrRetriesExhausted)
	require.NoError(t, sink.Close(time.Second))

	messages := producer.Messages()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, batch.Partition.String(), msg.Key)
	assert.Equal(t, map[string]string{
		partitionProperty: batch.Partition.String(),
		reasonProperty:    logwriter.ErrRetriesExhausted.Error(),
		batchIdProperty:   batch.ID.String(),
		attemptsProperty:  "5",
	}, msg.Properties)

	var docs []store.Document
	require.NoError(t, json.Unmarshal(msg.Payload, &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Message)
	assert.Equal(t, "error", docs[1].Meta.Level)
	assert.True(t, producer.closed)
}

func TestPulsarSink_SendFailuresAreCounted(t *testing.T) {
	producer := &mockProducer{sendAsyncErr: errors.New("producer queue is full")}
	sink := NewPulsarSinkWithProducer(producer, log.NewEntry(log.New()))

	sink.Accept(testBatch("a", "b"), logwriter.ErrRetriesExhausted)

	assert.Eventually(t, func() bool { return sink.Failed() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestPulsarSink_CloseTimesOut(t *testing.T) {
	producer := &mockProducer{flushDuration: time.Second}
	sink := NewPulsarSinkWithProducer(producer, log.NewEntry(log.New()))

	err := sink.Close(10 * time.Millisecond)

	assert.Error(t, err)
	assert.True(t, producer.closed)
}

func TestProducerOptions(t *testing.T) {
	options := producerOptions(configuration.PulsarDeadLetterConfig{
		URL:              "pulsar://localhost:6650",
		Topic:            "persistent://logs/ingester/dead-letters",
		CompressionType:  pulsar.ZSTD,
		CompressionLevel: pulsar.Faster,
	})

	assert.Equal(t, "persistent://logs/ingester/dead-letters", options.Topic)
	assert.Equal(t, pulsar.ZSTD, options.CompressionType)
	assert.Equal(t, pulsar.Faster, options.CompressionLevel)
	assert.True(t, options.DisableBlockIfQueueFull)
}

type mockProducer struct {
	mu            sync.Mutex
	messages      []*pulsar.ProducerMessage
	sendAsyncErr  error
	flushDuration time.Duration
	closed        bool
}

func (p *mockProducer) SendAsync(_ context.Context, msg *pulsar.ProducerMessage, f func(pulsar.MessageID, *pulsar.ProducerMessage, error)) {
	p.mu.Lock()
	if p.sendAsyncErr == nil {
		p.messages = append(p.messages, msg)
	}
	p.mu.Unlock()
	go f(nil, msg, p.sendAsyncErr)
}

func (p *mockProducer) Flush() error {
	time.Sleep(p.flushDuration)
	return nil
}

func (p *mockProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *mockProducer) Messages() []*pulsar.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pulsar.ProducerMessage(nil), p.messages...)
}
