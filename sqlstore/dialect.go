package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
	placeholderGrowth   = 2
)

// Dialect adapts queries and driver error codes to one SQL engine.
type Dialect interface {
	// Name returns the dialect name ("mysql" or "postgres").
	Name() string
	// Rebind rewrites ?-style placeholders into the dialect's syntax.
	Rebind(query string) string
	// InsertIgnore builds an insert that silently skips unique-constraint
	// conflicts on the given columns.
	InsertIgnore(table string, columns, conflictColumns []string) string
	// IsUniqueViolation reports whether err is a unique-constraint error.
	IsUniqueViolation(err error) bool
	// TryAdvisoryLock attempts a session advisory lock without blocking.
	TryAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error)
	// ReleaseAdvisoryLock releases a lock taken by TryAdvisoryLock.
	ReleaseAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) error
	// DeleteCompleted builds a bounded delete of rows in one status older
	// than a cutoff. Parameters: status, cutoff, limit.
	DeleteCompleted(table string) string
	// DeleteOldestCompleted builds a bounded delete of the oldest rows in
	// one status. Parameters: status, limit.
	DeleteOldestCompleted(table string) string
	// CreateOutboxTable returns DDL statements for the publisher table.
	CreateOutboxTable(table string) []string
	// CreateInboxTable returns DDL statements for the consumer table.
	CreateInboxTable(table string) []string
}

// MySQL is the MySQL/MariaDB dialect.
type MySQL struct{}

// Name implements Dialect.
func (MySQL) Name() string { return "mysql" }

// Rebind implements Dialect. MySQL already uses ?-style placeholders.
func (MySQL) Rebind(query string) string { return query }

// InsertIgnore implements Dialect.
func (MySQL) InsertIgnore(table string, columns, _ []string) string {
	return fmt.Sprintf(
		"INSERT IGNORE INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
	)
}

// IsUniqueViolation implements Dialect.
func (MySQL) IsUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}

	return false
}

// TryAdvisoryLock implements Dialect via GET_LOCK with a zero timeout.
func (MySQL) TryAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		return false, fmt.Errorf("sqlstore: acquire lock failed: %w", err)
	}

	return got.Valid && got.Int64 == 1, nil
}

// ReleaseAdvisoryLock implements Dialect.
func (MySQL) ReleaseAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) error {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
		return fmt.Errorf("sqlstore: release lock failed: %w", err)
	}

	return nil
}

// DeleteCompleted implements Dialect.
func (MySQL) DeleteCompleted(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE status = ? AND update_time <= ? LIMIT ?", table)
}

// DeleteOldestCompleted implements Dialect.
func (MySQL) DeleteOldestCompleted(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE status = ? ORDER BY update_time ASC LIMIT ?", table)
}

// CreateOutboxTable implements Dialect.
func (MySQL) CreateOutboxTable(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	message_id VARCHAR(64) NOT NULL,
	exchange VARCHAR(255) NOT NULL DEFAULT '',
	routing_key VARCHAR(255) NOT NULL DEFAULT '',
	message_body LONGBLOB NOT NULL,
	properties BLOB NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	retry_count INT NOT NULL DEFAULT 0,
	next_retry_time TIMESTAMP(6) NULL,
	last_error VARCHAR(1024) NULL,
	create_time TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	update_time TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (message_id),
	INDEX idx_status_retry (status, next_retry_time)
)`, table)}
}

// CreateInboxTable implements Dialect.
func (MySQL) CreateInboxTable(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	consumer_name VARCHAR(128) NOT NULL,
	message_id VARCHAR(64) NOT NULL,
	exchange VARCHAR(255) NOT NULL DEFAULT '',
	routing_key VARCHAR(255) NOT NULL DEFAULT '',
	status SMALLINT NOT NULL DEFAULT 0,
	last_error VARCHAR(1024) NULL,
	create_time TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	update_time TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (consumer_name, message_id)
)`, table)}
}

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// Rebind implements Dialect, rewriting ? placeholders to $1..$n.
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + placeholderGrowth*strings.Count(query, "?"))
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// InsertIgnore implements Dialect.
func (d Postgres) InsertIgnore(table string, columns, conflictColumns []string) string {
	return d.Rebind(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
		strings.Join(conflictColumns, ", "),
	))
}

// IsUniqueViolation implements Dialect.
func (Postgres) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	return false
}

// TryAdvisoryLock implements Dialect via pg_try_advisory_lock keyed by a
// 64-bit hash of the lock name.
func (Postgres) TryAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(name)).Scan(&got); err != nil {
		return false, fmt.Errorf("sqlstore: acquire lock failed: %w", err)
	}

	return got, nil
}

// ReleaseAdvisoryLock implements Dialect.
func (Postgres) ReleaseAdvisoryLock(ctx context.Context, conn *sql.Conn, name string) error {
	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey(name)).Scan(&released); err != nil {
		return fmt.Errorf("sqlstore: release lock failed: %w", err)
	}

	return nil
}

// DeleteCompleted implements Dialect. Postgres DELETE takes no LIMIT, so the
// bound goes through a ctid subselect.
func (d Postgres) DeleteCompleted(table string) string {
	return d.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE status = ? AND update_time <= ? LIMIT ?)",
		table,
		table,
	))
}

// DeleteOldestCompleted implements Dialect.
func (d Postgres) DeleteOldestCompleted(table string) string {
	return d.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE status = ? ORDER BY update_time ASC LIMIT ?)",
		table,
		table,
	))
}

// CreateOutboxTable implements Dialect.
func (Postgres) CreateOutboxTable(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	message_id VARCHAR(64) NOT NULL,
	exchange VARCHAR(255) NOT NULL DEFAULT '',
	routing_key VARCHAR(255) NOT NULL DEFAULT '',
	message_body BYTEA NOT NULL,
	properties BYTEA NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	retry_count INT NOT NULL DEFAULT 0,
	next_retry_time TIMESTAMPTZ NULL,
	last_error VARCHAR(1024) NULL,
	create_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (message_id)
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_status_retry ON %s (status, next_retry_time)",
			strings.ReplaceAll(table, ".", "_"), table),
	}
}

// CreateInboxTable implements Dialect.
func (Postgres) CreateInboxTable(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	consumer_name VARCHAR(128) NOT NULL,
	message_id VARCHAR(64) NOT NULL,
	exchange VARCHAR(255) NOT NULL DEFAULT '',
	routing_key VARCHAR(255) NOT NULL DEFAULT '',
	status SMALLINT NOT NULL DEFAULT 0,
	last_error VARCHAR(1024) NULL,
	create_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	update_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (consumer_name, message_id)
)`, table)}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))

	return int64(h.Sum64())
}
