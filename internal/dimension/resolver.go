package dimension

import (
	"fmt"

	"circflow/internal/staging"
)

// MappingKind names the dimension an observation failed to resolve against.
type MappingKind string

const (
	MappingTime        MappingKind = "time"
	MappingSource      MappingKind = "source"
	MappingMeasurement MappingKind = "measurement"
	MappingSeries      MappingKind = "series"
)

// MappingFailure is a MissingDimensionMapping rejection: the observation is
// routed here rather than silently dropped or coerced, and callers can
// enumerate all failures for operator triage.
type MappingFailure struct {
	Kind       MappingKind
	SeriesID   string
	SourceID   string
	SourceFile string
	Detail     string
}

func (f MappingFailure) String() string {
	return fmt.Sprintf("missing %s mapping for series %s (source %s): %s", f.Kind, f.SeriesID, f.SourceID, f.Detail)
}

// ResolvedObservation is a canonical observation with every dimension pinned
// to a stable key, ready for the fact assembler.
type ResolvedObservation struct {
	Time        TimeKey
	Component   Component
	Source      DataSource
	Measurement Measurement
	SeriesID    string
	Value       float64
	Frequency   staging.Frequency
	IsPrimary   bool
	Nature      SeriesNature
	SourceFile  string
}

// Resolver maps canonical observations onto the dimension registries.
// Resolution is total or explicit: anything it cannot place produces a
// MappingFailure, never a coerced fact.
type Resolver struct {
	calendar     *Calendar
	measurements *MeasurementRegistry
	sources      *SourceRegistry
	roles        *SeriesRoleRegistry
}

// NewResolver wires the resolver to its registries. All four are required.
func NewResolver(cal *Calendar, measurements *MeasurementRegistry, sources *SourceRegistry, roles *SeriesRoleRegistry) (*Resolver, error) {
	if cal == nil || measurements == nil || sources == nil || roles == nil {
		return nil, fmt.Errorf("resolver requires calendar, measurement, source and series registries")
	}
	return &Resolver{
		calendar:     cal,
		measurements: measurements,
		sources:      sources,
		roles:        roles,
	}, nil
}

// Resolve pins one observation to its dimension keys. A nil MappingFailure
// means success.
func (r *Resolver) Resolve(obs staging.CanonicalObservation) (ResolvedObservation, *MappingFailure) {
	fail := func(kind MappingKind, detail string) (ResolvedObservation, *MappingFailure) {
		return ResolvedObservation{}, &MappingFailure{
			Kind:       kind,
			SeriesID:   obs.SeriesID,
			SourceID:   obs.SourceID,
			SourceFile: obs.SourceFile,
			Detail:     detail,
		}
	}

	role, ok := r.roles.Lookup(obs.SeriesID)
	if !ok {
		return fail(MappingSeries, "no component-mapping rule registered for series")
	}

	timeKey, ok := r.calendar.Lookup(obs.PeriodDate)
	if !ok {
		return fail(MappingTime, fmt.Sprintf("period %s outside populated time dimension", obs.PeriodDate.Format("2006-01-02")))
	}

	source, ok := r.sources.Lookup(obs.SourceID)
	if !ok {
		return fail(MappingSource, fmt.Sprintf("source %q not registered", obs.SourceID))
	}

	measurement, ok := r.measurements.Lookup(obs.Unit, obs.PriceBasis, obs.AdjustmentType)
	if !ok {
		return fail(MappingMeasurement, fmt.Sprintf("no measurement for unit %q / basis %q / adjustment %q",
			obs.Unit, obs.PriceBasis, obs.AdjustmentType))
	}

	return ResolvedObservation{
		Time:        timeKey,
		Component:   role.Component,
		Source:      source,
		Measurement: measurement,
		SeriesID:    obs.SeriesID,
		Value:       obs.Value,
		Frequency:   obs.Frequency,
		IsPrimary:   role.IsPrimary,
		Nature:      role.Nature,
		SourceFile:  obs.SourceFile,
	}, nil
}
