package configuration

import (
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/G-Research/logingester/internal/common/config"
	"github.com/G-Research/logingester/internal/common/database"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const (
	StoreMongo    = "mongo"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	RouterDaily = "daily"
	RouterHash  = "hash"

	DeadLetterLog    = "log"
	DeadLetterFile   = "file"
	DeadLetterPulsar = "pulsar"

	EncodingJson    = "json"
	EncodingMsgpack = "msgpack"
)

type LogIngesterConfiguration struct {
	// Port on which prometheus metrics and the health endpoint are served
	MetricsPort uint16
	// Buffering, batching and retry behaviour of the log writer
	Writer logwriter.Config
	// How records are mapped to partitions
	Router RouterConfig
	// Where records are written
	Store StoreConfig
	// Where records that cannot be written end up
	DeadLetter DeadLetterConfig
	// Creation of partitions ahead of time
	Provisioning ProvisioningConfig
	// Reading records from standard input
	Source SourceConfig
	// Service under which the ingester's own warnings and errors are written. Empty disables this
	SelfLogService string
	// Maximum time allowed for shutting down background tasks and sinks
	ShutdownTimeout time.Duration
}

type RouterConfig struct {
	Type string `validate:"oneof=daily hash"`
	// Partition namespace prefix used by the hash router
	Prefix string `validate:"required_if=Type hash"`
	// Number of shards used by the hash router
	Shards int `validate:"required_if=Type hash,gte=0"`
}

type StoreConfig struct {
	Type string `validate:"oneof=mongo redis postgres memory"`
	// Only the configuration of the selected store is validated
	Mongo    MongoConfig             `validate:"-"`
	Redis    RedisStoreConfig        `validate:"-"`
	Postgres database.PostgresConfig `validate:"-"`
	// Number of times connecting to the store is attempted at startup
	ConnectAttempts uint `validate:"gt=0"`
	// Delay between startup connection attempts
	ConnectDelay time.Duration
	// Timeout for each bulk insert call
	InsertTimeout time.Duration `validate:"gt=0"`
}

type MongoConfig struct {
	Uri string `validate:"required"`
	// Name of the application reported to the server
	AppName string
	// Writes are acknowledged by a majority of the replica set when true
	MajorityWriteConcern bool
}

type RedisStoreConfig struct {
	config.RedisConfig `mapstructure:",squash"`
	// How records are encoded in redis lists: json or msgpack
	Encoding string `validate:"omitempty,oneof=json msgpack"`
	// Time after which a partition's list is deleted. Zero keeps lists forever
	Retention time.Duration
}

type DeadLetterConfig struct {
	Type   string                 `validate:"oneof=log file pulsar"`
	File   FileDeadLetterConfig   `validate:"-"`
	Pulsar PulsarDeadLetterConfig `validate:"-"`
}

type FileDeadLetterConfig struct {
	// Path of the file zstd compressed batches are appended to
	Path string `validate:"required"`
}

type PulsarDeadLetterConfig struct {
	URL string `validate:"required"`
	// Topic dead-lettered batches are published to
	Topic            string `validate:"required"`
	CompressionType  pulsar.CompressionType
	CompressionLevel pulsar.CompressionLevel
	// Maximum time to wait for the pulsar producer to be created
	ConnectionTimeout time.Duration
	// Maximum time to wait for outstanding messages to be acknowledged on shutdown
	FlushTimeout time.Duration
}

type ProvisioningConfig struct {
	Enabled bool
	// Services whose partitions are created ahead of time
	Services []string
	// Number of days after today for which partitions are created
	DaysAhead int `validate:"gte=0"`
	// How often provisioning runs
	Interval time.Duration
	// Age after which the store expires records, where supported
	Retention time.Duration
}

type SourceConfig struct {
	// Upper bound on the time spent retrying a record rejected because the writer is full
	MaxWaitOnFull time.Duration
	// Delay between attempts to write a record rejected because the writer is full
	RetryInterval time.Duration
	// Service used for records that do not name one
	DefaultService string
	// Maximum size in bytes of a single input line
	MaxLineBytes int `validate:"gte=0"`
}
