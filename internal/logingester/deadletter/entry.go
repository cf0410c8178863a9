package deadletter

import (
	"github.com/G-Research/logingester/internal/logingester/store"
	"github.com/G-Research/logingester/pkg/logwriter"
)

// Entry is one dead-lettered record together with the reason its batch was abandoned.
type Entry struct {
	BatchID   string         `json:"batchId"`
	Partition string         `json:"partition"`
	Reason    string         `json:"reason"`
	Attempts  int            `json:"attempts"`
	Record    store.Document `json:"record"`
}

// NewEntries returns an entry for every record of batch that did not reach the store.
func NewEntries(batch *logwriter.Batch, reason error) []Entry {
	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	pending := batch.Pending()
	entries := make([]Entry, len(pending))
	for i, record := range pending {
		entries[i] = Entry{
			BatchID:   batch.ID.String(),
			Partition: batch.Partition.String(),
			Reason:    reasonText,
			Attempts:  batch.Attempts,
			Record:    store.NewDocument(record),
		}
	}
	return entries
}
