package store

import (
	"context"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// Provisioner creates a partition ahead of the first write to it.
type Provisioner interface {
	EnsurePartition(ctx context.Context, partition logwriter.PartitionID) error
}

// LogStore is a logwriter.Store that can be provisioned, health checked and closed.
type LogStore interface {
	logwriter.Store
	Provisioner
	Check() error
	Close(ctx context.Context) error
}
