package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionbridge/pkg/message"
)

type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}

func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}

func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}

func (a *pgxMockAdapter) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, txOptions)
}

func (a *pgxMockAdapter) Close() {
	a.mock.Close()
}

func (a *pgxMockAdapter) Ping(ctx context.Context) error {
	return a.mock.Ping(ctx)
}

func setupMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, NewPostgresStore(&pgxMockAdapter{mock: mock})
}

func TestPostgresStore_Store(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	rec := Record{
		ID: "r1", MessageID: "m1", HostName: "inbound-a", MessageType: "ADT^A01",
		State: message.StateReceived, Payload: []byte("MSH|..."),
		Metadata: map[string]string{"k": "v"}, Source: "svc-a", Target: "svc-b",
		CorrelationID: "c1", RetryCount: 0,
	}

	mock.ExpectExec(`INSERT INTO message_store`).
		WithArgs(rec.ID, rec.MessageID, rec.HostName, rec.MessageType, rec.State.String(), rec.Payload,
			[]byte(`{"k":"v"}`), rec.Source, rec.Target, rec.CorrelationID, rec.Error, rec.RetryCount).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Store(ctx, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "message_id", "host_name", "message_type", "state", "payload",
		"created_at", "updated_at", "metadata", "source", "target", "correlation_id",
		"error", "retry_count",
	}).AddRow("r1", "m1", "inbound-a", "ADT^A01", "received", []byte("MSH|..."),
		now, now, []byte(`{"k":"v"}`), "svc-a", "svc-b", "c1", "", 0)

	mock.ExpectQuery(`SELECT .* FROM message_store`).WithArgs("r1").WillReturnRows(rows)

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.MessageID)
	assert.Equal(t, message.StateReceived, rec.State)
	assert.Equal(t, "v", rec.Metadata["k"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM message_store`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_UpdateState(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectExec(`UPDATE message_store SET state`).
		WithArgs("failed", "boom", "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateState(ctx, "r1", message.StateFailed, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStateNotFound(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectExec(`UPDATE message_store SET state`).
		WithArgs("failed", "boom", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateState(ctx, "missing", message.StateFailed, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Count(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{"count"}).AddRow(int64(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM message_store`).WithArgs("inbound-a").WillReturnRows(rows)

	count, err := s.Count(ctx, Filter{HostName: "inbound-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
