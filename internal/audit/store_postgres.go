package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists audit events in PostgreSQL. Appends are idempotent
// via ON CONFLICT DO NOTHING on the event id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one audit event.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO ingestion_audit_events (
			id, batch_id, timestamp, source_file, status,
			inserted_count, updated_count, rejected_count, mapping_failure_count, detail
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.BatchID,
		event.Timestamp,
		event.SourceFile,
		string(event.Status),
		event.Inserted,
		event.Updated,
		event.Rejected,
		event.MappingFailures,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns the most recent events.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, batch_id, timestamp, source_file, status,
			   inserted_count, updated_count, rejected_count, mapping_failure_count, detail
		FROM ingestion_audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event  Event
			id     uuid.UUID
			batch  uuid.UUID
			status string
		)
		err := rows.Scan(
			&id,
			&batch,
			&event.Timestamp,
			&event.SourceFile,
			&status,
			&event.Inserted,
			&event.Updated,
			&event.Rejected,
			&event.MappingFailures,
			&event.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id
		event.BatchID = batch
		event.Status = Status(status)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
