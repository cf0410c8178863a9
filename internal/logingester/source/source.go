package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
	"k8s.io/utils/clock"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const (
	defaultMaxLineBytes = 1024 * 1024
	readBufferSize      = 64 * 1024
)

type RecordWriter interface {
	Write(record logwriter.LogRecord) error
}

// Stats counts what happened to the lines read by a Source.
type Stats struct {
	Lines     int
	Written   int
	Malformed int
	// Records given up on because the writer stayed full for longer than MaxWaitOnFull
	Dropped int
}

// Source reads newline delimited JSON records and writes them to a RecordWriter. When the writer is
// full it retries the record every RetryInterval for at most MaxWaitOnFull before dropping it.
type Source struct {
	writer         RecordWriter
	maxWaitOnFull  time.Duration
	retryInterval  time.Duration
	defaultService string
	maxLineBytes   int
	clock          clock.Clock
}

func NewSource(writer RecordWriter, config configuration.SourceConfig, clock clock.Clock) *Source {
	maxLineBytes := config.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	retryInterval := config.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 10 * time.Millisecond
	}
	return &Source{
		writer:         writer,
		maxWaitOnFull:  config.MaxWaitOnFull,
		retryInterval:  retryInterval,
		defaultService: config.DefaultService,
		maxLineBytes:   maxLineBytes,
		clock:          clock,
	}
}

// Consume reads r until EOF, ctx is cancelled or the writer is closed. Malformed lines, including
// lines longer than MaxLineBytes, are logged and skipped.
func (s *Source) Consume(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	var parser fastjson.Parser

	reader := bufio.NewReaderSize(r, min(readBufferSize, s.maxLineBytes))
	buf := make([]byte, 0, min(readBufferSize, s.maxLineBytes))
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw, tooLong, err := readLine(reader, s.maxLineBytes, buf)
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, errors.WithStack(err)
		}
		buf = raw
		if tooLong {
			stats.Lines++
			stats.Malformed++
			log.Warnf("Skipping line %d: longer than %d bytes", stats.Lines, s.maxLineBytes)
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		record, err := ParseRecord(&parser, line, s.defaultService)
		if err != nil {
			stats.Malformed++
			log.WithError(err).Warnf("Skipping malformed record on line %d", stats.Lines)
			continue
		}

		err = s.write(ctx, record)
		switch {
		case err == nil:
			stats.Written++
		case errors.Is(err, logwriter.ErrFull):
			stats.Dropped++
			log.Warnf("Dropping record on line %d: writer still full after %s", stats.Lines, s.maxWaitOnFull)
		default:
			return stats, err
		}
	}
}

// readLine reads the next line into buf, without its trailing newline. A line longer than maxBytes
// is read to its end and discarded, and tooLong is set. io.EOF is only returned once no bytes remain.
func readLine(reader *bufio.Reader, maxBytes int, buf []byte) (line []byte, tooLong bool, err error) {
	line = buf[:0]
	read := false
	for {
		chunk, readErr := reader.ReadSlice('\n')
		read = read || len(chunk) > 0
		if readErr == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if !tooLong {
			if len(line)+len(chunk) > maxBytes {
				tooLong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case readErr == bufio.ErrBufferFull:
			continue
		case readErr == io.EOF && read:
			return line, tooLong, nil
		case readErr != nil:
			return line[:0], false, readErr
		}
		return line, tooLong, nil
	}
}

func (s *Source) write(ctx context.Context, record logwriter.LogRecord) error {
	start := s.clock.Now()
	for {
		err := s.writer.Write(record)
		if !errors.Is(err, logwriter.ErrFull) {
			return err
		}
		if s.clock.Since(start)+s.retryInterval > s.maxWaitOnFull {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.retryInterval):
		}
	}
}
