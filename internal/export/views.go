// Package export produces the three read views the core owes to presentation
// code. The views are recomputed from the fact store on demand; Redis holds
// an advisory, TTL'd copy in front of them.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"circflow/internal/align"
	"circflow/internal/dimension"
	"circflow/internal/facts"
	"circflow/internal/identity"
	"circflow/internal/reconcile"
)

const (
	keyFacts      = "circflow:export:facts"
	keyAligned    = "circflow:export:aligned"
	keyValidation = "circflow:export:validation"
)

// FactRow is one row of the fact export.
type FactRow struct {
	TimeKey         string  `json:"time_key"`
	ComponentCode   string  `json:"component_code"`
	SourceCode      string  `json:"source_code"`
	SeriesID        string  `json:"series_id"`
	Value           float64 `json:"value"`
	IsPrimarySeries bool    `json:"is_primary_series"`
	DataQualityFlag string  `json:"data_quality_flag"`
}

// AlignedRow is one row of the aligned quarterly export.
type AlignedRow struct {
	QuarterLabel    string   `json:"quarter_label"`
	ComponentCode   string   `json:"component_code"`
	Value           *float64 `json:"value"`
	Provenance      string   `json:"provenance"`
	MonthsAvailable int      `json:"months_available"`
}

// ValidationRow is one row of the validation export.
type ValidationRow struct {
	QuarterLabel        string  `json:"quarter_label"`
	Leakages            float64 `json:"leakages"`
	Injections          float64 `json:"injections"`
	Balance             float64 `json:"balance"`
	BalanceRatio        float64 `json:"balance_ratio"`
	ComponentsAvailable int     `json:"components_available"`
	AnomalyFlag         string  `json:"anomaly_flag"`
}

// Service assembles the export views. The Redis client is optional: with no
// cache every call recomputes from the store.
type Service struct {
	store   facts.Store
	aligner *align.Aligner
	model   *reconcile.Model
	target  dimension.Component
	cache   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures the export service.
type Option func(*Service)

// WithCache attaches a Redis cache with the given TTL.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = client
		s.ttl = ttl
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs the export service.
func NewService(store facts.Store, aligner *align.Aligner, model *reconcile.Model, target dimension.Component, opts ...Option) (*Service, error) {
	if store == nil || aligner == nil || model == nil {
		return nil, fmt.Errorf("export service requires fact store, aligner and model")
	}
	s := &Service{
		store:   store,
		aligner: aligner,
		model:   model,
		target:  target,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Facts returns the fact export, one row per stored fact.
func (s *Service) Facts(ctx context.Context) ([]FactRow, error) {
	if rows, ok := cached[[]FactRow](ctx, s, keyFacts); ok {
		return rows, nil
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("fact export: %w", err)
	}
	rows := make([]FactRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, FactRow{
			TimeKey:         rec.Key.Date,
			ComponentCode:   string(rec.Key.Component),
			SourceCode:      rec.Key.SourceCode,
			SeriesID:        rec.Key.SeriesID,
			Value:           rec.Value,
			IsPrimarySeries: rec.IsPrimarySeries,
			DataQualityFlag: rec.QualityFlag,
		})
	}
	s.put(ctx, keyFacts, rows)
	return rows, nil
}

// Aligned returns the aligned quarterly export.
func (s *Service) Aligned(ctx context.Context) ([]AlignedRow, error) {
	if rows, ok := cached[[]AlignedRow](ctx, s, keyAligned); ok {
		return rows, nil
	}

	cells, err := s.aligner.Align(ctx)
	if err != nil {
		return nil, fmt.Errorf("aligned export: %w", err)
	}
	rows := make([]AlignedRow, 0, len(cells))
	for _, cell := range cells {
		rows = append(rows, AlignedRow{
			QuarterLabel:    cell.QuarterLabel,
			ComponentCode:   string(cell.Component),
			Value:           cell.Value,
			Provenance:      string(cell.Provenance),
			MonthsAvailable: cell.MonthsAvailable,
		})
	}
	s.put(ctx, keyAligned, rows)
	return rows, nil
}

// Validation returns the validation export: the identity evaluation plus the
// model's anomaly flag per quarter.
func (s *Service) Validation(ctx context.Context) ([]ValidationRow, error) {
	if rows, ok := cached[[]ValidationRow](ctx, s, keyValidation); ok {
		return rows, nil
	}

	cells, err := s.aligner.Align(ctx)
	if err != nil {
		return nil, fmt.Errorf("validation export: %w", err)
	}
	results := identity.EvaluateAll(cells)
	vectors := reconcile.Vectors(cells, results, s.target)

	assessments := make(map[string]reconcile.Assessment, len(vectors))
	for _, v := range vectors {
		a, err := s.model.Classify(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("validation export: %w", err)
		}
		assessments[v.QuarterLabel] = a
	}

	rows := make([]ValidationRow, 0, len(results))
	for _, res := range results {
		flag := string(reconcile.ClassUnclassified)
		if a, ok := assessments[res.QuarterLabel]; ok {
			flag = string(a.Classification)
		}
		rows = append(rows, ValidationRow{
			QuarterLabel:        res.QuarterLabel,
			Leakages:            res.Leakages,
			Injections:          res.Injections,
			Balance:             res.Balance,
			BalanceRatio:        res.BalanceRatio,
			ComponentsAvailable: res.ComponentsAvailable,
			AnomalyFlag:         flag,
		})
	}
	s.put(ctx, keyValidation, rows)
	return rows, nil
}

// Invalidate drops the cached views. Called at the end of each pipeline pass;
// best effort only.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, keyFacts, keyAligned, keyValidation).Err(); err != nil {
		s.logger.Warn("export cache invalidation failed", "error", err)
	}
}

func cached[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var zero T
	if s.cache == nil {
		return zero, false
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, false
	}
	return out, true
}

func (s *Service) put(ctx context.Context, key string, rows any) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("export cache write failed", "key", key, "error", err)
	}
}
