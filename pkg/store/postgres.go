package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ionbridge/pkg/config"
	"ionbridge/pkg/database"
	"ionbridge/pkg/message"
	"ionbridge/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the store's schema migrations against db, honouring
// cfg.AutoMigrate the way database.RunMigrations always does.
func Migrate(ctx context.Context, db *database.PostgresDB, cfg config.StoreConfig) error {
	return database.RunMigrations(ctx, db.Pool(), cfg, migrationsFS, "migrations")
}

// PostgresStore persists Records through a database.DB, following the
// teacher's repository pattern: plain SQL, no ORM, pgx's native types.
type PostgresStore struct {
	db database.DB
}

// NewPostgresStore wraps db as a Store.
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Store(ctx context.Context, rec Record) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.Store")
	defer span.End()

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO message_store (
			id, message_id, host_name, message_type, state, payload,
			metadata, source, target, correlation_id, error, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			updated_at = now()
	`
	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.MessageID, rec.HostName, rec.MessageType, rec.State.String(), rec.Payload,
		metadata, rec.Source, rec.Target, rec.CorrelationID, rec.Error, rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store message record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.Get")
	defer span.End()

	query := `
		SELECT id, message_id, host_name, message_type, state, payload,
			created_at, updated_at, metadata, source, target, correlation_id,
			error, retry_count
		FROM message_store
		WHERE id = $1
	`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to get message record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id string, state message.State, errText string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.UpdateState")
	defer span.End()

	query := `UPDATE message_store SET state = $1, error = $2, updated_at = now() WHERE id = $3`
	tag, err := s.db.Exec(ctx, query, state.String(), errText, id)
	if err != nil {
		return fmt.Errorf("failed to update message state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.Query")
	defer span.End()

	where, args := buildWhereClause(filter)
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, message_id, host_name, message_type, state, payload,
			created_at, updated_at, metadata, source, target, correlation_id,
			error, retry_count
		FROM message_store
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query message records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.Count")
	defer span.End()

	where, args := buildWhereClause(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM message_store WHERE %s`, where)

	var count int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count message records: %w", err)
	}
	return count, nil
}

func buildWhereClause(f Filter) (string, []any) {
	conditions := []string{"1=1"}
	var args []any
	argNum := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if f.HostName != "" {
		add("host_name = $%d", f.HostName)
	}
	if f.MessageType != "" {
		add("message_type = $%d", f.MessageType)
	}
	if f.State != nil {
		add("state = $%d", f.State.String())
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Target != "" {
		add("target = $%d", f.Target)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", *f.CreatedBefore)
	}

	return strings.Join(conditions, " AND "), args
}

// rowScanner covers both pgx.Row and pgx.Rows, the only two things
// scanRecord/scanRecordRow need to read a message_store row from.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	return scanRecordRow(row)
}

func scanRecordRow(row rowScanner) (Record, error) {
	var rec Record
	var stateStr string
	var metadata []byte

	err := row.Scan(
		&rec.ID, &rec.MessageID, &rec.HostName, &rec.MessageType, &stateStr, &rec.Payload,
		&rec.CreatedAt, &rec.UpdatedAt, &metadata, &rec.Source, &rec.Target, &rec.CorrelationID,
		&rec.Error, &rec.RetryCount,
	)
	if err != nil {
		return Record{}, err
	}

	rec.State = parseState(stateStr)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

func parseState(s string) message.State {
	for st := message.StateCreated; st <= message.StateDeadLetter; st++ {
		if st.String() == s {
			return st
		}
	}
	return message.StateCreated
}
