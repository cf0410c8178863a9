package deadletter

import (
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// LogSink logs a warning for each dead-lettered batch. The records themselves are discarded.
type LogSink struct {
	logger *log.Entry
}

func NewLogSink(logger *log.Entry) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Accept(batch *logwriter.Batch, reason error) {
	s.logger.WithFields(log.Fields{
		"batch":     batch.ID,
		"partition": batch.Partition.String(),
		"attempts":  batch.Attempts,
		"records":   len(batch.Pending()),
	}).WithError(reason).Warn("Discarding batch that could not be written")
}
