package facts

import (
	"context"
	"fmt"
	"log/slog"

	"circflow/internal/dimension"
	"circflow/internal/facts/metrics"
)

// QualityGood marks a fact with no known quality concerns.
const QualityGood = "Good"

// BatchAudit summarises one assembly batch for observability.
type BatchAudit struct {
	Inserted int
	Updated  int
}

// Assembler upserts resolved observations into the fact store. The operation
// is idempotent: re-submitting an existing key overwrites the value and
// bumps the modification timestamp, never duplicating a row.
type Assembler struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithMetrics attaches fact-store metrics.
func WithMetrics(m *metrics.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler constructs an Assembler over the given store.
func NewAssembler(store Store, opts ...AssemblerOption) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	a := &Assembler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assemble upserts a batch of resolved observations and returns the
// inserted/updated audit counts. The primary flag comes from the series-role
// table carried on each observation, never inferred here.
func (a *Assembler) Assemble(ctx context.Context, batch []dimension.ResolvedObservation) (BatchAudit, error) {
	var audit BatchAudit
	for _, obs := range batch {
		rec := Record{
			Key: Key{
				Date:           obs.Time.Date.Format("2006-01-02"),
				Component:      obs.Component,
				SourceCode:     obs.Source.Code,
				MeasurementKey: obs.Measurement.Key(),
				SeriesID:       obs.SeriesID,
			},
			Value:           obs.Value,
			IsPrimarySeries: obs.IsPrimary,
			QualityFlag:     QualityGood,
			Frequency:       obs.Frequency,
		}

		outcome, err := a.store.Upsert(ctx, rec)
		if err != nil {
			return audit, fmt.Errorf("assemble fact %s/%s/%s: %w", rec.Key.Date, rec.Key.Component, rec.Key.SeriesID, err)
		}
		switch outcome {
		case OutcomeInserted:
			audit.Inserted++
			if a.metrics != nil {
				a.metrics.RecordInserted()
			}
		case OutcomeUpdated:
			audit.Updated++
			if a.metrics != nil {
				a.metrics.RecordUpdated()
			}
		}
	}
	return audit, nil
}

// WarnPrimaryConflicts logs any component/period cells with multiple primary
// series. A data-quality warning only: assembly has already succeeded.
func (a *Assembler) WarnPrimaryConflicts(ctx context.Context) ([]PrimaryConflict, error) {
	conflicts, err := a.store.PrimaryConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("check primary conflicts: %w", err)
	}
	for _, c := range conflicts {
		a.logger.Warn("multiple primary series for component period",
			"component", string(c.Component),
			"date", c.Date,
			"series", c.SeriesIDs,
		)
		if a.metrics != nil {
			a.metrics.RecordPrimaryConflict()
		}
	}
	return conflicts, nil
}
