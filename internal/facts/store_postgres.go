package facts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"circflow/internal/dimension"
	"circflow/internal/staging"
	txcontext "circflow/pkg/platform/tx"

	"github.com/lib/pq"
)

// PostgresStore persists facts in PostgreSQL. The unique constraint on the
// natural key is the serialization point for concurrent writers: racing
// upserts on the same key resolve last-write-wins through
// ON CONFLICT DO UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed fact store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// execer prefers a transaction carried in context so a whole source file
// commits or rolls back as one unit.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Upsert inserts or overwrites a fact at its natural key. The xmax trick
// distinguishes inserts from updates without a second round trip.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (Outcome, error) {
	query := `
		INSERT INTO circular_flow_facts (
			time_key, component_code, source_code, measurement_key, series_id,
			value, is_primary_series, data_quality_flag, data_frequency, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (time_key, component_code, source_code, measurement_key, series_id)
		DO UPDATE SET
			value = EXCLUDED.value,
			is_primary_series = EXCLUDED.is_primary_series,
			data_quality_flag = EXCLUDED.data_quality_flag,
			data_frequency = EXCLUDED.data_frequency,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.execer(ctx).QueryRowContext(ctx, query,
		rec.Key.Date,
		string(rec.Key.Component),
		rec.Key.SourceCode,
		rec.Key.MeasurementKey,
		rec.Key.SeriesID,
		rec.Value,
		rec.IsPrimarySeries,
		rec.QualityFlag,
		string(rec.Frequency),
	).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert fact: %w", err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// PrimaryByComponent returns the primary-series facts for one component
// across a date range.
func (s *PostgresStore) PrimaryByComponent(ctx context.Context, c dimension.Component, from, to time.Time) ([]Record, error) {
	query := `
		SELECT time_key, component_code, source_code, measurement_key, series_id,
			   value, is_primary_series, data_quality_flag, data_frequency, updated_at
		FROM circular_flow_facts
		WHERE component_code = $1
		  AND is_primary_series = TRUE
		  AND time_key BETWEEN $2 AND $3
		ORDER BY time_key, series_id
	`

	rows, err := s.execer(ctx).QueryContext(ctx, query,
		string(c),
		from.UTC().Format(time.DateOnly),
		to.UTC().Format(time.DateOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("query primary facts: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// List returns every stored fact for the export view.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT time_key, component_code, source_code, measurement_key, series_id,
			   value, is_primary_series, data_quality_flag, data_frequency, updated_at
		FROM circular_flow_facts
		ORDER BY time_key, component_code, series_id
	`

	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// PrimaryConflicts enumerates component/period cells carrying more than one
// primary series.
func (s *PostgresStore) PrimaryConflicts(ctx context.Context) ([]PrimaryConflict, error) {
	query := `
		SELECT component_code, time_key, ARRAY_AGG(DISTINCT series_id ORDER BY series_id)
		FROM circular_flow_facts
		WHERE is_primary_series = TRUE
		GROUP BY component_code, time_key
		HAVING COUNT(DISTINCT series_id) > 1
		ORDER BY time_key, component_code
	`

	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query primary conflicts: %w", err)
	}
	defer rows.Close()

	var out []PrimaryConflict
	for rows.Next() {
		var (
			component string
			date      string
			series    pq.StringArray
		)
		if err := rows.Scan(&component, &date, &series); err != nil {
			return nil, fmt.Errorf("scan primary conflict: %w", err)
		}
		out = append(out, PrimaryConflict{
			Component: dimension.Component(component),
			Date:      date,
			SeriesIDs: []string(series),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary conflicts: %w", err)
	}
	return out, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec       Record
			component string
			frequency string
			date      time.Time
		)
		err := rows.Scan(
			&date,
			&component,
			&rec.Key.SourceCode,
			&rec.Key.MeasurementKey,
			&rec.Key.SeriesID,
			&rec.Value,
			&rec.IsPrimarySeries,
			&rec.QualityFlag,
			&frequency,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		rec.Key.Date = date.UTC().Format(time.DateOnly)
		rec.Key.Component = dimension.Component(component)
		rec.Frequency = staging.Frequency(frequency)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}
