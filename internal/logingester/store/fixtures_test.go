package store

import (
	"fmt"
	"time"

	"github.com/G-Research/logingester/pkg/logwriter"
)

var baseTime = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func testRecords(n int) []logwriter.LogRecord {
	records := make([]logwriter.LogRecord, n)
	for i := range records {
		records[i] = logwriter.LogRecord{
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
			Service:   "auth-service",
			Level:     logwriter.LevelInfo,
			Host:      "host-1",
			Pid:       42,
			Message:   fmt.Sprintf("message-%d", i),
			Details:   map[string]interface{}{"user_id": "12345"},
		}
	}
	return records
}
