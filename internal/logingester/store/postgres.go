package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/pkg/logwriter"
)

const (
	postgresCheckTimeout = 5 * time.Second
	knownTablesCacheSize = 1024
)

var postgresColumns = []string{"timestamp", "service", "level", "hostname", "pid", "message", "details"}

// PostgresStore writes each partition to its own table: the partition's namespace is the schema and
// its name the table. Rows of one call are copied in a single transaction, so a call either writes
// every row or none.
type PostgresStore struct {
	db            *pgxpool.Pool
	insertTimeout time.Duration
	// Tables known to exist
	knownTables *syncLRU
}

func NewPostgresStore(db *pgxpool.Pool, insertTimeout time.Duration) (*PostgresStore, error) {
	cache, err := simplelru.NewLRU(knownTablesCacheSize, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &PostgresStore{db: db, insertTimeout: insertTimeout, knownTables: &syncLRU{lru: cache}}, nil
}

// BulkInsert copies records into the partition's table. If the table does not exist it is created
// and the copy is tried once more.
func (s *PostgresStore) BulkInsert(ctx context.Context, partition logwriter.PartitionID, records []logwriter.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows, err := postgresRows(records)
	if err != nil {
		return 0, logwriter.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()

	err = s.copy(ctx, partition, rows)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.UndefinedTable || pgErr.Code == pgerrcode.InvalidSchemaName) {
		s.knownTables.Remove(partition)
		if err := s.EnsurePartition(ctx, partition); err != nil {
			return 0, classifyPostgresError(err)
		}
		err = s.copy(ctx, partition, rows)
	}
	if err != nil {
		return 0, classifyPostgresError(err)
	}
	return len(records), nil
}

func (s *PostgresStore) copy(ctx context.Context, partition logwriter.PartitionID, rows [][]interface{}) error {
	return s.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{partition.Namespace, partition.Name}, postgresColumns, pgx.CopyFromRows(rows))
		return err
	})
}

func postgresRows(records []logwriter.LogRecord) ([][]interface{}, error) {
	rows := make([][]interface{}, len(records))
	for i, record := range records {
		var details []byte
		if len(record.Details) > 0 {
			var err error
			details, err = json.Marshal(record.Details)
			if err != nil {
				return nil, errors.Wrapf(err, "error encoding details of record %d", i)
			}
		}
		rows[i] = []interface{}{
			record.Timestamp.UTC(),
			record.Service,
			string(record.Level),
			record.Host,
			int32(record.Pid),
			record.Message,
			details,
		}
	}
	return rows, nil
}

// EnsurePartition creates the partition's schema, table and service/timestamp index if they do not
// exist yet.
func (s *PostgresStore) EnsurePartition(ctx context.Context, partition logwriter.PartitionID) error {
	if s.knownTables.Contains(partition) {
		return nil
	}

	schema := pgx.Identifier{partition.Namespace}.Sanitize()
	table := pgx.Identifier{partition.Namespace, partition.Name}.Sanitize()
	index := pgx.Identifier{partition.Name + "_service_timestamp"}.Sanitize()
	statements := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			timestamp timestamptz NOT NULL,
			service   text NOT NULL,
			level     text NOT NULL,
			hostname  text NOT NULL,
			pid       integer NOT NULL,
			message   text NOT NULL,
			details   jsonb
		)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (service, timestamp DESC)", index, table),
	}
	for _, statement := range statements {
		_, err := s.db.Exec(ctx, statement)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.DuplicateTable ||
			pgErr.Code == pgerrcode.DuplicateSchema || pgErr.Code == pgerrcode.UniqueViolation) {
			// Created concurrently by another writer.
			continue
		}
		if err != nil {
			return errors.WithMessagef(err, "error provisioning %s", partition)
		}
	}
	s.knownTables.Add(partition)
	log.Debugf("Provisioned table %s", table)
	return nil
}

func classifyPostgresError(err error) error {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || IsNetworkError(err) {
		return logwriter.Retryable(err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgerrcode.IsTransactionRollback(pgErr.Code),
		pgerrcode.IsInsufficientResources(pgErr.Code),
		pgerrcode.IsOperatorIntervention(pgErr.Code):
		return logwriter.Retryable(err)
	case pgerrcode.IsDataException(pgErr.Code),
		pgerrcode.IsIntegrityConstraintViolation(pgErr.Code),
		pgerrcode.IsSyntaxErrororAccessRuleViolation(pgErr.Code):
		return logwriter.Fatal(err)
	}
	return err
}

func (s *PostgresStore) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresCheckTimeout)
	defer cancel()
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close(context.Context) error {
	s.db.Close()
	return nil
}
