// Package logrushook forwards logrus entries to a log writer, so that an application's own logging
// ends up in the partitioned log store.
package logrushook

import (
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// RecordWriter is satisfied by *logwriter.Writer.
type RecordWriter interface {
	Write(record logwriter.LogRecord) error
}

// Hook is a logrus.Hook. Entries that cannot be buffered because the writer is full are dropped
// and counted; logging never blocks on the store.
type Hook struct {
	writer  RecordWriter
	service string
	levels  []log.Level
	dropped atomic.Int64
}

// New returns a hook writing entries at the given levels (all levels if none are given) as records
// of service.
func New(writer RecordWriter, service string, levels ...log.Level) *Hook {
	if len(levels) == 0 {
		levels = log.AllLevels
	}
	return &Hook{writer: writer, service: service, levels: levels}
}

func (h *Hook) Levels() []log.Level {
	return h.levels
}

func (h *Hook) Fire(entry *log.Entry) error {
	details := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			details[k] = err.Error()
		} else {
			details[k] = v
		}
	}

	err := h.writer.Write(logwriter.LogRecord{
		Timestamp: entry.Time.UTC(),
		Service:   h.service,
		Level:     convertLevel(entry.Level),
		Message:   entry.Message,
		Details:   details,
	})
	if errors.Is(err, logwriter.ErrFull) {
		h.dropped.Add(1)
		return nil
	}
	return err
}

// Dropped returns the number of entries discarded because the writer was full.
func (h *Hook) Dropped() int64 {
	return h.dropped.Load()
}

func convertLevel(level log.Level) logwriter.Level {
	switch level {
	case log.TraceLevel, log.DebugLevel:
		return logwriter.LevelDebug
	case log.WarnLevel:
		return logwriter.LevelWarn
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return logwriter.LevelError
	}
	return logwriter.LevelInfo
}
