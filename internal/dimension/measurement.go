package dimension

import (
	"fmt"
	"sort"
	"strings"
)

// Measurement describes how a series is measured. Uniquely keyed by
// (unit type, price basis, adjustment type).
type Measurement struct {
	UnitType             string
	UnitDescription      string
	PriceBasis           string
	AdjustmentType       string
	IsSeasonallyAdjusted bool
}

// Key returns the stable composite key for the measurement.
func (m Measurement) Key() string {
	return measurementKey(m.UnitType, m.PriceBasis, m.AdjustmentType)
}

func measurementKey(unitType, priceBasis, adjustmentType string) string {
	return strings.Join([]string{
		strings.TrimSpace(unitType),
		strings.TrimSpace(priceBasis),
		strings.TrimSpace(adjustmentType),
	}, "|")
}

// MeasurementRegistry is the explicit unit equivalence table. No fuzzy
// matching: trimmed-whitespace equality is the only normalisation applied, so
// every unit/basis/adjustment combination a source emits must be registered.
type MeasurementRegistry struct {
	byKey map[string]Measurement
}

// NewMeasurementRegistry builds a registry from configured entries.
// Duplicate keys are rejected so configuration mistakes surface at startup.
func NewMeasurementRegistry(entries []Measurement) (*MeasurementRegistry, error) {
	reg := &MeasurementRegistry{byKey: make(map[string]Measurement, len(entries))}
	for _, m := range entries {
		key := m.Key()
		if _, exists := reg.byKey[key]; exists {
			return nil, fmt.Errorf("duplicate measurement registration %q", key)
		}
		reg.byKey[key] = m
	}
	return reg, nil
}

// Lookup resolves a unit/basis/adjustment combination to its registered
// measurement.
func (r *MeasurementRegistry) Lookup(unitType, priceBasis, adjustmentType string) (Measurement, bool) {
	m, ok := r.byKey[measurementKey(unitType, priceBasis, adjustmentType)]
	return m, ok
}

// All returns every registered measurement, ordered by key.
func (r *MeasurementRegistry) All() []Measurement {
	out := make([]Measurement, 0, len(r.byKey))
	for _, m := range r.byKey {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// DataSource identifies a publishing statistical agency or one of its
// datasets.
type DataSource struct {
	Code string
	Name string
}

// SourceRegistry resolves collector source identifiers to data sources.
type SourceRegistry struct {
	byCode map[string]DataSource
}

// NewSourceRegistry builds a registry from configured sources.
func NewSourceRegistry(sources []DataSource) (*SourceRegistry, error) {
	reg := &SourceRegistry{byCode: make(map[string]DataSource, len(sources))}
	for _, s := range sources {
		code := strings.TrimSpace(s.Code)
		if code == "" {
			return nil, fmt.Errorf("data source with empty code")
		}
		if _, exists := reg.byCode[code]; exists {
			return nil, fmt.Errorf("duplicate data source %q", code)
		}
		s.Code = code
		reg.byCode[code] = s
	}
	return reg, nil
}

// Lookup resolves a source identifier.
func (r *SourceRegistry) Lookup(code string) (DataSource, bool) {
	s, ok := r.byCode[strings.TrimSpace(code)]
	return s, ok
}

// SeriesRole is the component-mapping rule for one series: which component it
// feeds, whether it is the canonical primary series for that component, and
// whether it is a rate or a level.
type SeriesRole struct {
	SeriesID  string
	Component Component
	IsPrimary bool
	Nature    SeriesNature
}

// SeriesRoleRegistry holds the series-role table. An observation may only be
// resolved against a component when a rule exists for its series.
type SeriesRoleRegistry struct {
	bySeries map[string]SeriesRole
}

// NewSeriesRoleRegistry builds the registry, validating component codes and
// defaulting unstated natures to level.
func NewSeriesRoleRegistry(roles []SeriesRole) (*SeriesRoleRegistry, error) {
	reg := &SeriesRoleRegistry{bySeries: make(map[string]SeriesRole, len(roles))}
	for _, role := range roles {
		id := strings.TrimSpace(role.SeriesID)
		if id == "" {
			return nil, fmt.Errorf("series role with empty series id")
		}
		if _, err := ParseComponent(string(role.Component)); err != nil {
			return nil, fmt.Errorf("series role %s: %w", id, err)
		}
		if role.Nature == "" {
			role.Nature = NatureLevel
		}
		if role.Nature != NatureLevel && role.Nature != NatureRate {
			return nil, fmt.Errorf("series role %s: unknown nature %q", id, role.Nature)
		}
		if _, exists := reg.bySeries[id]; exists {
			return nil, fmt.Errorf("duplicate series role %q", id)
		}
		role.SeriesID = id
		reg.bySeries[id] = role
	}
	return reg, nil
}

// Lookup resolves the role for a series.
func (r *SeriesRoleRegistry) Lookup(seriesID string) (SeriesRole, bool) {
	role, ok := r.bySeries[strings.TrimSpace(seriesID)]
	return role, ok
}

// Nature returns the recorded nature of a series, defaulting to level when
// the series has no role entry.
func (r *SeriesRoleRegistry) Nature(seriesID string) SeriesNature {
	if role, ok := r.Lookup(seriesID); ok {
		return role.Nature
	}
	return NatureLevel
}
