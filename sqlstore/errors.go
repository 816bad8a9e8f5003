package sqlstore

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("sqlstore: db is required")
	// ErrDialectRequired is returned when no dialect is provided.
	ErrDialectRequired = errors.New("sqlstore: dialect is required")
	// ErrExecutorRequired is returned when a store method needing the
	// caller's transaction receives a nil executor.
	ErrExecutorRequired = errors.New("sqlstore: executor is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("sqlstore: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed
	// characters.
	ErrInvalidTableName = errors.New("sqlstore: invalid table name")
	// ErrConsumerNameRequired is returned when Enter is called without a
	// consumer name.
	ErrConsumerNameRequired = errors.New("sqlstore: consumer name is required")
	// ErrDuplicateMessage is returned when an outbox message id is
	// registered twice.
	ErrDuplicateMessage = errors.New("sqlstore: duplicate outbox message id")
	// ErrRetentionInvalid is returned when sweeper retention is not positive.
	ErrRetentionInvalid = errors.New("sqlstore: retention must be positive")
	// ErrBatchSizeInvalid is returned when the sweeper delete batch size is
	// negative.
	ErrBatchSizeInvalid = errors.New("sqlstore: delete batch size must be non-negative")
)
