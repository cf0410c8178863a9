package store

import (
	"time"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// Document is the stored form of a log record. Per-record metadata is grouped under meta, which
// time-series stores use as the bucketing key.
type Document struct {
	Timestamp time.Time              `bson:"timestamp" json:"timestamp" msgpack:"timestamp"`
	Meta      Meta                   `bson:"meta" json:"meta" msgpack:"meta"`
	Message   string                 `bson:"message" json:"message" msgpack:"message"`
	Details   map[string]interface{} `bson:"details,omitempty" json:"details,omitempty" msgpack:"details,omitempty"`
}

type Meta struct {
	Service  string `bson:"service" json:"service" msgpack:"service"`
	Level    string `bson:"level" json:"level" msgpack:"level"`
	Hostname string `bson:"hostname" json:"hostname" msgpack:"hostname"`
	Pid      int    `bson:"pid" json:"pid" msgpack:"pid"`
}

func NewDocument(record logwriter.LogRecord) Document {
	return Document{
		Timestamp: record.Timestamp.UTC(),
		Meta: Meta{
			Service:  record.Service,
			Level:    string(record.Level),
			Hostname: record.Host,
			Pid:      record.Pid,
		},
		Message: record.Message,
		Details: record.Details,
	}
}

func (d Document) Record() logwriter.LogRecord {
	return logwriter.LogRecord{
		Timestamp: d.Timestamp,
		Service:   d.Meta.Service,
		Level:     logwriter.Level(d.Meta.Level),
		Host:      d.Meta.Hostname,
		Pid:       d.Meta.Pid,
		Message:   d.Message,
		Details:   d.Details,
	}
}
