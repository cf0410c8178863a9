package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/G-Research/logingester/internal/logingester/configuration"
	"github.com/G-Research/logingester/pkg/logwriter"
)

const (
	mongoNamespaceExists           = 48
	mongoDocumentValidationFailure = 121
	mongoRetryableWriteErrorLabel  = "RetryableWriteError"
	mongoTransientTransactionLabel = "TransientTransactionError"
	mongoCheckTimeout              = 5 * time.Second
	mongoServiceTimestampIndexName = "service_timestamp"
)

// Server error codes indicating that the server could not accept the write at this time.
var retryableMongoCodes = map[int]bool{
	6:     true, // HostUnreachable
	7:     true, // HostNotFound
	50:    true, // MaxTimeMSExpired
	89:    true, // NetworkTimeout
	91:    true, // ShutdownInProgress
	189:   true, // PrimarySteppedDown
	262:   true, // ExceededTimeLimit
	462:   true, // IngressRequestRateLimitExceeded
	9001:  true, // SocketException
	10107: true, // NotWritablePrimary
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	13435: true, // NotPrimaryNoSecondaryOk
	13436: true, // NotPrimaryOrSecondary
	16500: true, // RequestRateTooLarge
}

// MongoStore writes each partition to a time-series collection named after the partition, in a
// database named after the partition's namespace.
type MongoStore struct {
	client        *mongo.Client
	insertTimeout time.Duration
	retention     time.Duration
}

func ConnectMongo(ctx context.Context, config configuration.MongoConfig, insertTimeout time.Duration, retention time.Duration) (*MongoStore, error) {
	opts := options.Client().ApplyURI(config.Uri)
	if config.AppName != "" {
		opts.SetAppName(config.AppName)
	}
	if config.MajorityWriteConcern {
		opts.SetWriteConcern(writeconcern.Majority())
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.WithMessage(err, "error connecting to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.WithMessage(err, "error pinging mongo")
	}
	return NewMongoStore(client, insertTimeout, retention), nil
}

func NewMongoStore(client *mongo.Client, insertTimeout time.Duration, retention time.Duration) *MongoStore {
	return &MongoStore{client: client, insertTimeout: insertTimeout, retention: retention}
}

func (s *MongoStore) collection(partition logwriter.PartitionID) *mongo.Collection {
	return s.client.Database(partition.Namespace).Collection(partition.Name)
}

// BulkInsert performs an ordered insert, so on failure exactly the documents before the first
// failing one have been written.
func (s *MongoStore) BulkInsert(ctx context.Context, partition logwriter.PartitionID, records []logwriter.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, len(records))
	for i, record := range records {
		docs[i] = NewDocument(record)
	}

	ctx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()
	result, err := s.collection(partition).InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return len(result.InsertedIDs), nil
	}
	return insertedBeforeFailure(err, len(records)), classifyMongoError(err)
}

func insertedBeforeFailure(err error, total int) int {
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) || len(bulkErr.WriteErrors) == 0 {
		return 0
	}
	first := total
	for _, writeErr := range bulkErr.WriteErrors {
		first = min(first, writeErr.Index)
	}
	return max(first, 0)
}

func classifyMongoError(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || IsNetworkError(err) {
		return logwriter.Retryable(err)
	}

	var labelled mongo.LabeledError
	if errors.As(err, &labelled) &&
		(labelled.HasErrorLabel(mongoRetryableWriteErrorLabel) || labelled.HasErrorLabel(mongoTransientTransactionLabel)) {
		return logwriter.Retryable(err)
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		if len(bulkErr.WriteErrors) == 0 {
			return logwriter.Retryable(err)
		}
		for _, writeErr := range bulkErr.WriteErrors {
			if !retryableMongoCodes[writeErr.Code] {
				return logwriter.Fatal(err)
			}
		}
		return logwriter.Retryable(err)
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for code := range retryableMongoCodes {
			if serverErr.HasErrorCode(code) {
				return logwriter.Retryable(err)
			}
		}
		if serverErr.HasErrorCode(mongoDocumentValidationFailure) {
			return logwriter.Fatal(err)
		}
	}
	return err
}

// EnsurePartition creates the partition's time-series collection and its service/timestamp index.
// Collections that already exist are left as they are.
func (s *MongoStore) EnsurePartition(ctx context.Context, partition logwriter.PartitionID) error {
	timeSeries := options.TimeSeries().
		SetTimeField("timestamp").
		SetMetaField("meta").
		SetGranularity("seconds")
	opts := options.CreateCollection().SetTimeSeriesOptions(timeSeries)
	if s.retention > 0 {
		opts.SetExpireAfterSeconds(int64(s.retention.Seconds()))
	}

	err := s.client.Database(partition.Namespace).CreateCollection(ctx, partition.Name, opts)
	var cmdErr mongo.CommandError
	switch {
	case err == nil:
		log.Infof("Created time-series collection %s", partition)
	case errors.As(err, &cmdErr) && cmdErr.Code == mongoNamespaceExists:
		log.Debugf("Collection %s already exists", partition)
	default:
		return errors.WithMessagef(err, "error creating collection %s", partition)
	}

	_, err = s.collection(partition).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "meta.service", Value: 1}, {Key: "timestamp", Value: -1}},
		Options: options.Index().SetName(mongoServiceTimestampIndexName),
	})
	return errors.WithMessagef(err, "error creating index on %s", partition)
}

func (s *MongoStore) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCheckTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
