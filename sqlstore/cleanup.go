package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relmq/relmq"
)

const (
	defaultRetention   = 7 * 24 * time.Hour
	defaultBatchSize   = 1000
	defaultSweepEvery  = time.Hour
	defaultLockPrefix  = "relmq:sweep:"
	maxOverflowQueries = 64
)

// SweeperConfig controls periodic pruning of completed outbox and inbox rows.
// Rows in the Failed status are never deleted; they stay for inspection.
type SweeperConfig struct {
	// Retention removes Succeeded rows older than now-retention
	// (default 7 days).
	Retention time.Duration
	// MaxCompletedCount, when positive, additionally caps how many
	// Succeeded outbox rows are kept regardless of age.
	MaxCompletedCount int
	// DeleteBatchSize bounds rows deleted per statement (default 1000).
	DeleteBatchSize int
	// CheckEvery is the interval between sweep passes (default 1h).
	CheckEvery time.Duration
	// LockName is the advisory lock name. Defaults to
	// "relmq:sweep:<outbox table>".
	LockName string
	Clock    relmq.Clock
	Logger   relmq.Logger
}

// SweepResult reports how many rows one pass removed.
type SweepResult struct {
	Outbox int64
	Inbox  int64
}

// Sweeper prunes completed rows under a dialect advisory lock so redundant
// instances across processes do not collide.
type Sweeper struct {
	db      *sql.DB
	dialect Dialect
	cfg     SweeperConfig
	tables  struct {
		outbox string
		inbox  string
	}
}

// NewSweeper constructs a sweeper with defaults applied.
func NewSweeper(db *sql.DB, dialect Dialect, cfg SweeperConfig, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if dialect == nil {
		return nil, ErrDialectRequired
	}
	if cfg.Retention < 0 {
		return nil, ErrRetentionInvalid
	}
	if cfg.DeleteBatchSize < 0 {
		return nil, ErrBatchSizeInvalid
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.DeleteBatchSize == 0 {
		cfg.DeleteBatchSize = defaultBatchSize
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultSweepEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = relmq.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = relmq.NopLogger{}
	}

	var storeCfg Config
	for _, opt := range opts {
		opt(&storeCfg)
	}
	storeCfg = storeCfg.withDefaults()

	outboxTable, err := sanitizeTableName(storeCfg.OutboxTable)
	if err != nil {
		return nil, err
	}
	inboxTable, err := sanitizeTableName(storeCfg.InboxTable)
	if err != nil {
		return nil, err
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultLockPrefix + outboxTable
	}

	s := &Sweeper{db: db, dialect: dialect, cfg: cfg}
	s.tables.outbox = outboxTable
	s.tables.inbox = inboxTable

	return s, nil
}

// Run sweeps periodically until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := s.Ensure(ctx); err != nil {
		s.cfg.Logger.Warn("sweep failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Ensure(ctx); err != nil {
				s.cfg.Logger.Warn("sweep failed", "err", err)
			}
		}
	}
}

// Ensure executes a single sweep pass. It reports zero work when another
// instance holds the advisory lock.
func (s *Sweeper) Ensure(ctx context.Context) (SweepResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sqlstore: sweep conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := s.dialect.TryAdvisoryLock(ctx, conn, s.cfg.LockName)
	if err != nil {
		return SweepResult{}, err
	}
	if !locked {
		s.cfg.Logger.Debug("sweep lock held by another session")

		return SweepResult{}, nil
	}
	defer func() {
		if err := s.dialect.ReleaseAdvisoryLock(ctx, conn, s.cfg.LockName); err != nil {
			s.cfg.Logger.Warn("sweep release lock failed", "err", err)
		}
	}()

	cutoff := s.cfg.Clock.Now().Add(-s.cfg.Retention)

	var result SweepResult
	result.Outbox, err = s.deleteCompleted(ctx, s.tables.outbox, int16(relmq.OutboxSucceeded), cutoff)
	if err != nil {
		return result, err
	}
	result.Inbox, err = s.deleteCompleted(ctx, s.tables.inbox, int16(relmq.InboxSucceeded), cutoff)
	if err != nil {
		return result, err
	}

	overflow, err := s.trimOverflow(ctx)
	if err != nil {
		return result, err
	}
	result.Outbox += overflow

	if result.Outbox > 0 || result.Inbox > 0 {
		s.cfg.Logger.Info("sweep removed rows", "outbox", result.Outbox, "inbox", result.Inbox)
	}

	return result, nil
}

func (s *Sweeper) deleteCompleted(ctx context.Context, table string, status int16, cutoff time.Time) (int64, error) {
	query := s.dialect.DeleteCompleted(table)
	res, err := s.db.ExecContext(ctx, query, status, cutoff, s.cfg.DeleteBatchSize)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: sweep delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: sweep rows failed: %w", err)
	}

	return affected, nil
}

// trimOverflow enforces MaxCompletedCount by deleting the oldest Succeeded
// outbox rows beyond the cap, regardless of age.
func (s *Sweeper) trimOverflow(ctx context.Context) (int64, error) {
	if s.cfg.MaxCompletedCount <= 0 {
		return 0, nil
	}

	countQuery := s.dialect.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", s.tables.outbox))
	deleteQuery := s.dialect.DeleteOldestCompleted(s.tables.outbox)

	var total int64
	for i := 0; i < maxOverflowQueries; i++ {
		var count int64
		if err := s.db.QueryRowContext(ctx, countQuery, relmq.OutboxSucceeded).Scan(&count); err != nil {
			return total, fmt.Errorf("sqlstore: sweep count failed: %w", err)
		}
		excess := count - int64(s.cfg.MaxCompletedCount)
		if excess <= 0 {
			return total, nil
		}
		limit := excess
		if limit > int64(s.cfg.DeleteBatchSize) {
			limit = int64(s.cfg.DeleteBatchSize)
		}
		res, err := s.db.ExecContext(ctx, deleteQuery, relmq.OutboxSucceeded, limit)
		if err != nil {
			return total, fmt.Errorf("sqlstore: sweep trim failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("sqlstore: sweep trim rows failed: %w", err)
		}
		total += affected
		if affected == 0 {
			return total, nil
		}
	}

	return total, nil
}
