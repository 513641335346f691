package facts

import (
	"context"
	"sort"
	"sync"
	"time"

	"circflow/internal/dimension"
)

// MemoryStore is the in-memory Store used by unit tests and single-process
// runs. The PostgreSQL store is the production implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory fact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]Record),
		now:     time.Now,
	}
}

// Upsert inserts or overwrites the record at its natural key.
func (s *MemoryStore) Upsert(ctx context.Context, rec Record) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.records[rec.Key]
	rec.UpdatedAt = s.now()
	s.records[rec.Key] = rec
	if exists {
		return OutcomeUpdated, nil
	}
	return OutcomeInserted, nil
}

// PrimaryByComponent returns primary-series facts for a component in date
// order.
func (s *MemoryStore) PrimaryByComponent(ctx context.Context, c dimension.Component, from, to time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromStr := from.UTC().Format(time.DateOnly)
	toStr := to.UTC().Format(time.DateOnly)

	var out []Record
	for key, rec := range s.records {
		if key.Component != c || !rec.IsPrimarySeries {
			continue
		}
		if key.Date < fromStr || key.Date > toStr {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Date != out[j].Key.Date {
			return out[i].Key.Date < out[j].Key.Date
		}
		return out[i].Key.SeriesID < out[j].Key.SeriesID
	})
	return out, nil
}

// List returns all facts ordered by date, component, series.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.SeriesID < b.SeriesID
	})
	return out, nil
}

// PrimaryConflicts reports component/period cells with more than one primary
// series.
func (s *MemoryStore) PrimaryConflicts(ctx context.Context) ([]PrimaryConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type cell struct {
		component dimension.Component
		date      string
	}
	seen := make(map[cell]map[string]struct{})
	for key, rec := range s.records {
		if !rec.IsPrimarySeries {
			continue
		}
		c := cell{key.Component, key.Date}
		if seen[c] == nil {
			seen[c] = make(map[string]struct{})
		}
		seen[c][key.SeriesID] = struct{}{}
	}

	var out []PrimaryConflict
	for c, series := range seen {
		if len(series) < 2 {
			continue
		}
		ids := make([]string, 0, len(series))
		for id := range series {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, PrimaryConflict{Component: c.component, Date: c.date, SeriesIDs: ids})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Component < out[j].Component
	})
	return out, nil
}
