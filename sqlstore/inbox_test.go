package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relmq/relmq"
)

type fakeResult struct {
	affected    int64
	affectedErr error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }

func (r fakeResult) RowsAffected() (int64, error) { return r.affected, r.affectedErr }

type fakeExecutor struct {
	query string
	args  []any
	res   sql.Result
	err   error
	calls int
}

func (e *fakeExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	e.calls++
	e.query = query
	e.args = args
	if e.err != nil {
		return nil, e.err
	}
	if e.res == nil {
		return fakeResult{affected: 1}, nil
	}

	return e.res, nil
}

type testClock struct {
	now time.Time
}

func (c testClock) Now() time.Time { return c.now }

var clockTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestInboxStore(t *testing.T, dialect Dialect) *InboxStore {
	t.Helper()
	store, err := NewInboxStore(new(sql.DB), dialect, WithClock(testClock{now: clockTime}))
	require.NoError(t, err)

	return store
}

func TestNewInboxStoreValidation(t *testing.T) {
	_, err := NewInboxStore(nil, MySQL{})
	assert.ErrorIs(t, err, ErrDBRequired)

	_, err = NewInboxStore(new(sql.DB), nil)
	assert.ErrorIs(t, err, ErrDialectRequired)

	_, err = NewInboxStore(new(sql.DB), MySQL{}, WithInboxTable("bad;table"))
	assert.ErrorIs(t, err, ErrInvalidTableName)
}

func TestInboxEnterFirstTime(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	exec := &fakeExecutor{}

	result, rec, err := store.Enter(context.Background(), exec, "billing", "m1", "orders", "order.created")
	require.NoError(t, err)
	assert.Equal(t, relmq.Entered, result)
	require.NotNil(t, rec)
	assert.Equal(t, "billing", rec.ConsumerName)
	assert.Equal(t, "m1", rec.MessageID)
	assert.Equal(t, relmq.InboxEntered, rec.Status)
	assert.Equal(t, clockTime, rec.CreateTime)

	assert.Contains(t, exec.query, "INSERT IGNORE INTO mq_consumer")
	require.Len(t, exec.args, 7)
	assert.Equal(t, "billing", exec.args[0])
	assert.Equal(t, "m1", exec.args[1])
}

func TestInboxEnterDuplicateByZeroRows(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	exec := &fakeExecutor{res: fakeResult{affected: 0}}

	result, rec, err := store.Enter(context.Background(), exec, "billing", "m1", "", "")
	require.NoError(t, err)
	assert.Equal(t, relmq.AlreadyProcessed, result)
	assert.Nil(t, rec)
}

func TestInboxEnterDuplicateByDriverError(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
	}{
		{name: "mysql", dialect: MySQL{}, err: &mysql.MySQLError{Number: 1062}},
		{name: "postgres", dialect: Postgres{}, err: &pq.Error{Code: "23505"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestInboxStore(t, tt.dialect)
			exec := &fakeExecutor{err: tt.err}

			result, rec, err := store.Enter(context.Background(), exec, "billing", "m1", "", "")
			require.NoError(t, err)
			assert.Equal(t, relmq.AlreadyProcessed, result)
			assert.Nil(t, rec)
		})
	}
}

func TestInboxEnterInfrastructureError(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	boom := errors.New("connection reset")
	exec := &fakeExecutor{err: boom}

	_, _, err := store.Enter(context.Background(), exec, "billing", "m1", "", "")
	assert.ErrorIs(t, err, boom)
}

func TestInboxEnterValidation(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	ctx := context.Background()

	_, _, err := store.Enter(ctx, nil, "billing", "m1", "", "")
	assert.ErrorIs(t, err, ErrExecutorRequired)

	_, _, err = store.Enter(ctx, &fakeExecutor{}, "", "m1", "", "")
	assert.ErrorIs(t, err, ErrConsumerNameRequired)

	_, _, err = store.Enter(ctx, &fakeExecutor{}, "billing", "", "", "")
	assert.ErrorIs(t, err, relmq.ErrMessageIDRequired)
}

func TestInboxMarkSucceeded(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	exec := &fakeExecutor{}
	rec := &relmq.InboxRecord{ConsumerName: "billing", MessageID: "m1", Status: relmq.InboxEntered}

	require.NoError(t, store.MarkSucceeded(context.Background(), exec, rec))
	assert.Equal(t, relmq.InboxSucceeded, rec.Status)
	assert.Equal(t, clockTime, rec.UpdateTime)

	// The update is conditional on the record still being Entered.
	assert.Contains(t, exec.query, "WHERE consumer_name = ? AND message_id = ? AND status = ?")
	require.Len(t, exec.args, 6)
	assert.Equal(t, relmq.InboxSucceeded, exec.args[0])
	assert.Equal(t, relmq.InboxEntered, exec.args[5])
}

func TestInboxMarkFailedRecordsCause(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	exec := &fakeExecutor{}
	rec := &relmq.InboxRecord{ConsumerName: "billing", MessageID: "m1", Status: relmq.InboxEntered}

	require.NoError(t, store.MarkFailed(context.Background(), exec, rec, errors.New("handler exploded")))
	assert.Equal(t, relmq.InboxFailed, rec.Status)
	assert.Equal(t, "handler exploded", rec.LastError)
}

func TestInboxMarkSucceededBarrierViolation(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})
	exec := &fakeExecutor{res: fakeResult{affected: 0}}
	rec := &relmq.InboxRecord{ConsumerName: "billing", MessageID: "m1", Status: relmq.InboxEntered}

	err := store.MarkSucceeded(context.Background(), exec, rec)
	assert.ErrorIs(t, err, relmq.ErrBarrierViolated)
	// The in-memory record is left untouched on violation.
	assert.Equal(t, relmq.InboxEntered, rec.Status)
}

func TestInboxMarkStatusValidation(t *testing.T) {
	store := newTestInboxStore(t, MySQL{})

	err := store.MarkSucceeded(context.Background(), nil, &relmq.InboxRecord{})
	assert.ErrorIs(t, err, ErrExecutorRequired)

	err = store.MarkSucceeded(context.Background(), &fakeExecutor{}, nil)
	assert.Error(t, err)
}
