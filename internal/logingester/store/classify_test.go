package store

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/G-Research/logingester/pkg/logwriter"
)

func bulkWriteException(indexAndCodes ...int) mongo.BulkWriteException {
	var writeErrors []mongo.BulkWriteError
	for i := 0; i+1 < len(indexAndCodes); i += 2 {
		writeErrors = append(writeErrors, mongo.BulkWriteError{
			WriteError: mongo.WriteError{Index: indexAndCodes[i], Code: indexAndCodes[i+1], Message: "write failed"},
		})
	}
	return mongo.BulkWriteException{WriteErrors: writeErrors}
}

func TestClassifyMongoError(t *testing.T) {
	tests := map[string]struct {
		err       error
		retryable bool
	}{
		"document validation": {
			err: bulkWriteException(3, mongoDocumentValidationFailure),
		},
		"not writable primary": {
			err:       bulkWriteException(0, 10107),
			retryable: true,
		},
		"mixed codes": {
			err: bulkWriteException(1, 10107, 2, 121),
		},
		"write concern only": {
			err:       mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64}},
			retryable: true,
		},
		"retryable label": {
			err:       mongo.CommandError{Code: 1, Labels: []string{"RetryableWriteError"}},
			retryable: true,
		},
		"throttled": {
			err:       mongo.CommandError{Code: 16500},
			retryable: true,
		},
		"command validation": {
			err: mongo.CommandError{Code: mongoDocumentValidationFailure},
		},
		"deadline": {
			err:       context.DeadlineExceeded,
			retryable: true,
		},
		"connection refused": {
			err:       &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			retryable: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, logwriter.IsRetryable(classifyMongoError(tc.err)))
		})
	}
}

func TestInsertedBeforeFailure(t *testing.T) {
	assert.Equal(t, 3, insertedBeforeFailure(bulkWriteException(3, 121), 5))
	assert.Equal(t, 1, insertedBeforeFailure(bulkWriteException(4, 121, 1, 121), 5))
	assert.Equal(t, 0, insertedBeforeFailure(mongo.CommandError{Code: 91}, 5))
	assert.Equal(t, 0, insertedBeforeFailure(errors.New("boom"), 5))
}

func TestClassifyPostgresError(t *testing.T) {
	tests := map[string]struct {
		err       error
		retryable bool
	}{
		"connection failure": {
			err:       &pgconn.PgError{Code: pgerrcode.ConnectionFailure},
			retryable: true,
		},
		"serialization failure": {
			err:       &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			retryable: true,
		},
		"too many connections": {
			err:       &pgconn.PgError{Code: pgerrcode.TooManyConnections},
			retryable: true,
		},
		"admin shutdown": {
			err:       &pgconn.PgError{Code: pgerrcode.AdminShutdown},
			retryable: true,
		},
		"invalid text": {
			err: &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation},
		},
		"not null violation": {
			err: &pgconn.PgError{Code: pgerrcode.NotNullViolation},
		},
		"undefined column": {
			err: &pgconn.PgError{Code: pgerrcode.UndefinedColumn},
		},
		"wrapped": {
			err: errors.Wrap(&pgconn.PgError{Code: pgerrcode.CheckViolation}, "copy failed"),
		},
		"network": {
			err:       &net.OpError{Op: "read", Err: syscall.ECONNRESET},
			retryable: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, logwriter.IsRetryable(classifyPostgresError(tc.err)))
		})
	}
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(errors.New("boom")))
	assert.True(t, IsNetworkError(errors.Wrap(syscall.ECONNREFUSED, "dial")))
	assert.True(t, IsNetworkError(&net.DNSError{Err: "no such host"}))
}
