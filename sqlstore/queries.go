package sqlstore

import "fmt"

const outboxColumns = "message_id, exchange, routing_key, message_body, properties, status, retry_count, next_retry_time, last_error, create_time, update_time"

type outboxQueries struct {
	insert       string
	claimDue     string
	markSuccess  string
	markFailure  string
	countPending string
}

func newOutboxQueries(d Dialect, table string) outboxQueries {
	return outboxQueries{
		insert: d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (message_id, exchange, routing_key, message_body, properties, status, retry_count, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			table,
		)),
		claimDue: d.Rebind(fmt.Sprintf(
			"SELECT %s FROM %s WHERE status IN (?, ?) AND retry_count < ? AND (retry_count = 0 OR next_retry_time <= ?) ORDER BY create_time ASC LIMIT 1 FOR UPDATE SKIP LOCKED",
			outboxColumns,
			table,
		)),
		markSuccess: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, update_time = ? WHERE message_id = ?",
			table,
		)),
		markFailure: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, retry_count = retry_count + 1, last_error = ?, next_retry_time = ?, update_time = ? WHERE message_id = ?",
			table,
		)),
		countPending: d.Rebind(fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE status IN (?, ?)",
			table,
		)),
	}
}

type inboxQueries struct {
	enter      string
	markStatus string
}

func newInboxQueries(d Dialect, table string) inboxQueries {
	return inboxQueries{
		enter: d.InsertIgnore(
			table,
			[]string{"consumer_name", "message_id", "exchange", "routing_key", "status", "create_time", "update_time"},
			[]string{"consumer_name", "message_id"},
		),
		markStatus: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, last_error = ?, update_time = ? WHERE consumer_name = ? AND message_id = ? AND status = ?",
			table,
		)),
	}
}
