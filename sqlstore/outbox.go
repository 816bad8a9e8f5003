package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/relmq/relmq"
)

const maxErrorLen = 1024

// Executor runs statements inside the caller's already-open transaction.
// *sql.Tx and *sql.DB both satisfy it.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxStore persists publish intents and hands row-locked claims to the
// relay. It implements relmq.OutboxSource.
type OutboxStore struct {
	db      *sql.DB
	dialect Dialect
	cfg     Config
	queries outboxQueries
}

var _ relmq.OutboxSource = (*OutboxStore)(nil)

// NewOutboxStore constructs an outbox store with validated configuration.
func NewOutboxStore(db *sql.DB, dialect Dialect, opts ...Option) (*OutboxStore, error) {
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

	table, err := sanitizeTableName(cfg.OutboxTable)
	if err != nil {
		return nil, err
	}
	cfg.OutboxTable = table

	return &OutboxStore{
		db:      db,
		dialect: dialect,
		cfg:     cfg,
		queries: newOutboxQueries(dialect, table),
	}, nil
}

// EnsureSchema creates the publisher table when it does not exist.
func (s *OutboxStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.CreateOutboxTable(s.cfg.OutboxTable) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create outbox table failed: %w", err)
		}
	}

	return nil
}

// Register inserts a publish intent using the caller's open transaction. If
// the surrounding transaction commits, the row is durably recorded with the
// business change in the same atomic unit; any insert error propagates and
// aborts the caller's transaction.
func (s *OutboxStore) Register(ctx context.Context, exec Executor, exchange, routingKey string, body []byte, header *relmq.MessageHeader) (*relmq.OutboxMessage, error) {
	if exec == nil {
		return nil, ErrExecutorRequired
	}
	if header == nil {
		header = relmq.NewMessageHeader(relmq.ContentTypeJSON, "")
	}
	headerCopy := *header
	headerCopy.Exchange = exchange
	headerCopy.RoutingKey = routingKey

	properties, err := relmq.EncodeHeader(&headerCopy)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	msg := &relmq.OutboxMessage{
		MessageID:  headerCopy.ID,
		Exchange:   exchange,
		RoutingKey: routingKey,
		Body:       body,
		Properties: properties,
		Status:     relmq.OutboxPending,
		CreateTime: now,
		UpdateTime: now,
	}

	_, err = exec.ExecContext(
		ctx,
		s.queries.insert,
		msg.MessageID,
		msg.Exchange,
		msg.RoutingKey,
		msg.Body,
		msg.Properties,
		msg.Status,
		msg.RetryCount,
		msg.CreateTime,
		msg.UpdateTime,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.MessageID)
		}

		return nil, fmt.Errorf("sqlstore: outbox insert failed: %w", err)
	}

	return msg, nil
}

// Claim locks and returns the single oldest due row. The row lock held by the
// open claim transaction is the cross-process mutual exclusion: concurrent
// dispatchers skip locked rows. Returns relmq.ErrNoOutboxWork when nothing is
// due.
func (s *OutboxStore) Claim(ctx context.Context) (relmq.OutboxClaim, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin claim tx failed: %w", err)
	}

	msg, err := s.selectDue(ctx, tx)
	if err != nil {
		rollbackErr := rollback(tx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Join(relmq.ErrNoOutboxWork, rollbackErr)
		}

		return nil, errors.Join(fmt.Errorf("sqlstore: claim select failed: %w", err), rollbackErr)
	}

	return &outboxClaim{store: s, tx: tx, msg: msg}, nil
}

// PendingCount returns the number of rows still awaiting publication.
func (s *OutboxStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.queries.countPending, relmq.OutboxPending, relmq.OutboxFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: pending count failed: %w", err)
	}

	return count, nil
}

func (s *OutboxStore) selectDue(ctx context.Context, tx *sql.Tx) (*relmq.OutboxMessage, error) {
	now := s.cfg.Clock.Now()
	row := tx.QueryRowContext(ctx, s.queries.claimDue, relmq.OutboxPending, relmq.OutboxFailed, s.cfg.MaxRetry, now)

	var (
		msg       relmq.OutboxMessage
		nextRetry sql.NullTime
		lastError sql.NullString
	)
	err := row.Scan(
		&msg.MessageID,
		&msg.Exchange,
		&msg.RoutingKey,
		&msg.Body,
		&msg.Properties,
		&msg.Status,
		&msg.RetryCount,
		&nextRetry,
		&lastError,
		&msg.CreateTime,
		&msg.UpdateTime,
	)
	if err != nil {
		return nil, err
	}
	if nextRetry.Valid {
		msg.NextRetryTime = nextRetry.Time
	}
	if lastError.Valid {
		msg.LastError = lastError.String
	}

	return &msg, nil
}

type outboxClaim struct {
	store *OutboxStore
	tx    *sql.Tx
	msg   *relmq.OutboxMessage
}

// Message implements relmq.OutboxClaim.
func (c *outboxClaim) Message() *relmq.OutboxMessage {
	return c.msg
}

// Succeed implements relmq.OutboxClaim.
func (c *outboxClaim) Succeed(ctx context.Context) error {
	now := c.store.cfg.Clock.Now()
	if _, err := c.tx.ExecContext(ctx, c.store.queries.markSuccess, relmq.OutboxSucceeded, now, c.msg.MessageID); err != nil {
		rollbackErr := rollback(c.tx)

		return errors.Join(fmt.Errorf("sqlstore: mark succeeded failed: %w", err), rollbackErr)
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: claim commit failed: %w", err)
	}
	c.msg.Status = relmq.OutboxSucceeded
	c.msg.UpdateTime = now

	return nil
}

// Fail implements relmq.OutboxClaim.
func (c *outboxClaim) Fail(ctx context.Context, cause error, nextRetry time.Time) error {
	now := c.store.cfg.Clock.Now()
	lastError := truncateError(cause)
	if _, err := c.tx.ExecContext(ctx, c.store.queries.markFailure, relmq.OutboxFailed, lastError, nextRetry, now, c.msg.MessageID); err != nil {
		rollbackErr := rollback(c.tx)

		return errors.Join(fmt.Errorf("sqlstore: mark failed failed: %w", err), rollbackErr)
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: claim commit failed: %w", err)
	}
	c.msg.Status = relmq.OutboxFailed
	c.msg.RetryCount++
	c.msg.NextRetryTime = nextRetry
	c.msg.LastError = lastError
	c.msg.UpdateTime = now

	return nil
}

// Release implements relmq.OutboxClaim.
func (c *outboxClaim) Release() error {
	return rollback(c.tx)
}

func rollback(tx *sql.Tx) error {
	err := tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for len(msg) > maxErrorLen {
		_, size := utf8.DecodeLastRuneInString(msg)
		msg = msg[:len(msg)-size]
	}

	return msg
}
