package logwriter

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel converts a level name into a Level. "warning" is accepted as an alias for warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", errors.Errorf("unknown log level %q", s)
}

func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// LogRecord is a single application log line. Records are treated as immutable once handed to a Writer.
type LogRecord struct {
	Timestamp time.Time
	Service   string
	Level     Level
	Host      string
	Pid       int
	Message   string
	Details   map[string]interface{}
}
