package facts

import (
	"context"
	"errors"
	"time"

	"circflow/internal/dimension"
	"circflow/internal/staging"
)

// ErrNotFound keeps store-specific lookups consistent across the in-memory
// and PostgreSQL implementations.
var ErrNotFound = errors.New("fact not found")

// Key is the natural composite key of a fact. Upserts on an existing key
// overwrite; they never create a second row.
type Key struct {
	Date           string // time key date, ISO format
	Component      dimension.Component
	SourceCode     string
	MeasurementKey string
	SeriesID       string
}

// Record is one stored fact.
type Record struct {
	Key             Key
	Value           float64
	IsPrimarySeries bool
	QualityFlag     string
	Frequency       staging.Frequency
	UpdatedAt       time.Time
}

// Outcome reports whether an upsert inserted a new row or updated an
// existing one.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
)

// PrimaryConflict flags a (component, period) carrying more than one primary
// series. A data-quality warning, not a fatal error.
type PrimaryConflict struct {
	Component dimension.Component
	Date      string
	SeriesIDs []string
}

// Store persists facts keyed by their natural key. Implementations must make
// Upsert idempotent and safe under concurrent writers; writers racing on the
// same key resolve last-write-wins.
type Store interface {
	Upsert(ctx context.Context, rec Record) (Outcome, error)

	// PrimaryByComponent returns the primary-series facts for one component
	// across [from, to] inclusive, for the frequency aligner.
	PrimaryByComponent(ctx context.Context, c dimension.Component, from, to time.Time) ([]Record, error)

	// List returns every stored fact, for the export view.
	List(ctx context.Context) ([]Record, error)

	// PrimaryConflicts enumerates (component, period) cells with multiple
	// primary series.
	PrimaryConflicts(ctx context.Context) ([]PrimaryConflict, error)
}
