package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relmq/relmq"
)

// InboxStore implements the durable idempotency barrier over the consumer
// table. All mutating calls run inside the caller's open transaction so the
// barrier commits or rolls back atomically with the business effect.
type InboxStore struct {
	db      *sql.DB
	dialect Dialect
	cfg     Config
	queries inboxQueries
}

// NewInboxStore constructs an inbox store with validated configuration.
func NewInboxStore(db *sql.DB, dialect Dialect, opts ...Option) (*InboxStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if dialect == nil {
		return nil, ErrDialectRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.InboxTable)
	if err != nil {
		return nil, err
	}
	cfg.InboxTable = table

	return &InboxStore{
		db:      db,
		dialect: dialect,
		cfg:     cfg,
		queries: newInboxQueries(dialect, table),
	}, nil
}

// EnsureSchema creates the consumer table when it does not exist.
func (s *InboxStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.CreateInboxTable(s.cfg.InboxTable) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create inbox table failed: %w", err)
		}
	}

	return nil
}

// Enter atomically claims the (consumerName, messageID) barrier with an
// insert-or-ignore enforced by the table's unique constraint. A clean insert
// returns Entered with the new record; a duplicate returns AlreadyProcessed
// and the caller should skip business logic and commit.
func (s *InboxStore) Enter(ctx context.Context, exec Executor, consumerName, messageID, exchange, routingKey string) (relmq.EnterResult, *relmq.InboxRecord, error) {
	if exec == nil {
		return relmq.AlreadyProcessed, nil, ErrExecutorRequired
	}
	if consumerName == "" {
		return relmq.AlreadyProcessed, nil, ErrConsumerNameRequired
	}
	if messageID == "" {
		return relmq.AlreadyProcessed, nil, relmq.ErrMessageIDRequired
	}

	now := s.cfg.Clock.Now()
	res, err := exec.ExecContext(
		ctx,
		s.queries.enter,
		consumerName,
		messageID,
		exchange,
		routingKey,
		relmq.InboxEntered,
		now,
		now,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return relmq.AlreadyProcessed, nil, nil
		}

		return relmq.AlreadyProcessed, nil, fmt.Errorf("sqlstore: inbox enter failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return relmq.AlreadyProcessed, nil, fmt.Errorf("sqlstore: inbox enter rows failed: %w", err)
	}
	if affected == 0 {
		return relmq.AlreadyProcessed, nil, nil
	}

	return relmq.Entered, &relmq.InboxRecord{
		ConsumerName: consumerName,
		MessageID:    messageID,
		Exchange:     exchange,
		RoutingKey:   routingKey,
		Status:       relmq.InboxEntered,
		CreateTime:   now,
		UpdateTime:   now,
	}, nil
}

// MarkSucceeded transitions the barrier from Entered to Succeeded inside the
// caller's transaction. A zero-row update means the idempotency guarantee was
// broken and fails with relmq.ErrBarrierViolated.
func (s *InboxStore) MarkSucceeded(ctx context.Context, exec Executor, rec *relmq.InboxRecord) error {
	return s.markStatus(ctx, exec, rec, relmq.InboxSucceeded, "")
}

// MarkFailed transitions the barrier from Entered to Failed, recording the
// terminal error.
func (s *InboxStore) MarkFailed(ctx context.Context, exec Executor, rec *relmq.InboxRecord, cause error) error {
	return s.markStatus(ctx, exec, rec, relmq.InboxFailed, truncateError(cause))
}

func (s *InboxStore) markStatus(ctx context.Context, exec Executor, rec *relmq.InboxRecord, status relmq.InboxStatus, lastError string) error {
	if exec == nil {
		return ErrExecutorRequired
	}
	if rec == nil {
		return fmt.Errorf("sqlstore: inbox record is required")
	}

	now := s.cfg.Clock.Now()
	res, err := exec.ExecContext(
		ctx,
		s.queries.markStatus,
		status,
		lastError,
		now,
		rec.ConsumerName,
		rec.MessageID,
		relmq.InboxEntered,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inbox status update failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: inbox status rows failed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", relmq.ErrBarrierViolated, rec.ConsumerName, rec.MessageID)
	}

	rec.Status = status
	rec.LastError = lastError
	rec.UpdateTime = now

	return nil
}
