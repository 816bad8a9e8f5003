// Package sqlstore implements the relmq outbox and inbox stores on
// database/sql with a pluggable SQL dialect.
//
// The outbox store writes publish intents inside the caller's business
// transaction and hands single row-locked claims to the relay. The inbox
// store implements the idempotency barrier with a unique-constraint
// insert-or-ignore. The sweeper prunes completed rows past retention under a
// dialect advisory lock so redundant instances do not collide.
//
// MySQL (github.com/go-sql-driver/mysql) and PostgreSQL (github.com/lib/pq)
// dialects are provided.
package sqlstore
