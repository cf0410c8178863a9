package logwriter

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const dayLayout = "2006-01-02"

// PartitionID identifies where a group of records is stored. Namespace is the coarse container
// (a database, schema or key prefix) and Name the partition inside it (a collection, table or key).
type PartitionID struct {
	Namespace string
	Name      string
}

func (p PartitionID) String() string {
	return p.Namespace + "/" + p.Name
}

// PartitionRouter maps a record to its partition. Implementations must be pure functions of the record.
type PartitionRouter interface {
	Route(record LogRecord) PartitionID
}

// DailyRouter routes records to one partition per service per UTC day, e.g. namespace "payments_logs"
// and name "payments_log_2024-03-01".
type DailyRouter struct{}

func (DailyRouter) Route(record LogRecord) PartitionID {
	return DailyPartition(record.Service, record.Timestamp)
}

// DailyPartition returns the partition DailyRouter uses for service on the UTC day containing t.
func DailyPartition(service string, t time.Time) PartitionID {
	return PartitionID{
		Namespace: service + "_logs",
		Name:      service + "_log_" + t.UTC().Format(dayLayout),
	}
}

// HashRouter spreads services over a fixed number of shards per UTC day. Services are assigned to
// shards by hashing their name, so a service always lands on the same shard.
type HashRouter struct {
	prefix string
	shards uint64
}

func NewHashRouter(prefix string, shards int) *HashRouter {
	if shards < 1 {
		shards = 1
	}
	return &HashRouter{prefix: prefix, shards: uint64(shards)}
}

func (r *HashRouter) Route(record LogRecord) PartitionID {
	return r.partition(xxhash.Sum64String(record.Service)%r.shards, record.Timestamp)
}

// Partitions returns every shard's partition for the UTC day containing t.
func (r *HashRouter) Partitions(t time.Time) []PartitionID {
	partitions := make([]PartitionID, r.shards)
	for shard := range partitions {
		partitions[shard] = r.partition(uint64(shard), t)
	}
	return partitions
}

func (r *HashRouter) partition(shard uint64, t time.Time) PartitionID {
	return PartitionID{
		Namespace: r.prefix + "_logs",
		Name:      fmt.Sprintf("%s_shard_%03d_%s", r.prefix, shard, t.UTC().Format(dayLayout)),
	}
}
