// Package align projects the fact store onto a single quarterly timeline per
// component. Values are only ever carried, summed, averaged or picked; a
// partial quarter never produces a synthetic value.
package align

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"circflow/internal/dimension"
	"circflow/internal/facts"
	"circflow/internal/staging"
)

// Provenance records where an aligned quarterly value came from.
type Provenance string

const (
	ProvenanceNativeQuarterly Provenance = "Native-Quarterly"
	ProvenanceMonthlyDerived  Provenance = "Monthly-Derived"
	ProvenanceMissing         Provenance = "Missing"
)

// Cell is one AlignedQuarter: a component's value for a quarter, or an
// explicit gap. Value is non-nil only for native quarterly data or a full
// three-month derivation.
type Cell struct {
	QuarterLabel    string
	Component       dimension.Component
	Value           *float64
	Provenance      Provenance
	MonthsAvailable int

	// MonthlyShadow keeps the monthly-derived aggregate available for
	// drill-down when native quarterly data won the cell.
	MonthlyShadow *float64
}

// Aligner derives the quarterly timeline from primary-series facts. It is
// read-only over the fact store and must run against a committed snapshot.
type Aligner struct {
	calendar *dimension.Calendar
	policies *dimension.PolicySet
	roles    *dimension.SeriesRoleRegistry
	store    facts.Store
	logger   *slog.Logger
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aligner) {
		a.logger = logger
	}
}

// NewAligner constructs an Aligner.
func NewAligner(cal *dimension.Calendar, policies *dimension.PolicySet, roles *dimension.SeriesRoleRegistry, store facts.Store, opts ...Option) (*Aligner, error) {
	if cal == nil || roles == nil || store == nil {
		return nil, fmt.Errorf("aligner requires calendar, series roles and fact store")
	}
	a := &Aligner{
		calendar: cal,
		policies: policies,
		roles:    roles,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Align produces one Cell per (component, quarter) across the calendar
// range, in chronological then component order.
func (a *Aligner) Align(ctx context.Context) ([]Cell, error) {
	quarters := a.calendar.Quarters()

	var cells []Cell
	for _, component := range dimension.Components() {
		records, err := a.store.PrimaryByComponent(ctx, component, a.calendar.Start(), a.calendar.End())
		if err != nil {
			return nil, fmt.Errorf("align %s: %w", component, err)
		}
		byQuarter := a.groupByQuarter(records)
		for _, label := range quarters {
			cells = append(cells, a.alignCell(component, label, byQuarter[label]))
		}
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].QuarterLabel != cells[j].QuarterLabel {
			return cells[i].QuarterLabel < cells[j].QuarterLabel
		}
		return cells[i].Component < cells[j].Component
	})
	return cells, nil
}

// quarterFacts partitions a quarter's primary facts by native frequency.
type quarterFacts struct {
	quarterly []facts.Record
	monthly   []facts.Record
}

func (a *Aligner) groupByQuarter(records []facts.Record) map[string]*quarterFacts {
	out := make(map[string]*quarterFacts)
	for _, rec := range records {
		date, err := time.Parse(time.DateOnly, rec.Key.Date)
		if err != nil {
			continue
		}
		timeKey, ok := a.calendar.Lookup(date)
		if !ok {
			continue
		}
		qf := out[timeKey.QuarterLabel]
		if qf == nil {
			qf = &quarterFacts{}
			out[timeKey.QuarterLabel] = qf
		}
		switch rec.Frequency {
		case staging.FrequencyQuarterly:
			// Only quarter-end observations count as the quarter's value.
			if timeKey.IsQuarterEnd {
				qf.quarterly = append(qf.quarterly, rec)
			}
		case staging.FrequencyMonthly:
			qf.monthly = append(qf.monthly, rec)
		}
	}
	return out
}

// alignCell applies the precedence and aggregation rules for one cell:
// native quarterly wins outright; otherwise exactly three distinct months
// aggregate by the component's policy; anything less is Missing.
func (a *Aligner) alignCell(component dimension.Component, label string, qf *quarterFacts) Cell {
	cell := Cell{
		QuarterLabel: label,
		Component:    component,
		Provenance:   ProvenanceMissing,
	}
	if qf == nil {
		return cell
	}

	monthlyValue, months := a.deriveMonthly(component, qf.monthly)
	cell.MonthsAvailable = months

	if len(qf.quarterly) > 0 {
		value := sumValues(qf.quarterly)
		cell.Value = &value
		cell.Provenance = ProvenanceNativeQuarterly
		// The monthly aggregate stays available for drill-down.
		cell.MonthlyShadow = monthlyValue
		return cell
	}

	if monthlyValue != nil {
		cell.Value = monthlyValue
		cell.Provenance = ProvenanceMonthlyDerived
	}
	return cell
}

// deriveMonthly aggregates a quarter's monthly facts. It returns a value
// only when all three months are observed; 1 or 2 months never fabricate
// one.
func (a *Aligner) deriveMonthly(component dimension.Component, monthly []facts.Record) (*float64, int) {
	if len(monthly) == 0 {
		return nil, 0
	}

	// Sum within each month first: a month may carry several primary fact
	// rows (one per measurement) that together make up its value.
	byMonth := make(map[string]float64)
	var monthOrder []string
	for _, rec := range monthly {
		month := rec.Key.Date[:7]
		if _, seen := byMonth[month]; !seen {
			monthOrder = append(monthOrder, month)
		}
		byMonth[month] += rec.Value
	}
	sort.Strings(monthOrder)

	months := len(byMonth)
	if months != 3 {
		return nil, months
	}

	nature := a.cellNature(component, monthly)
	method := a.policies.MethodFor(component, nature)

	var value float64
	switch method {
	case dimension.AggregationSum:
		for _, total := range byMonth {
			value += total
		}
	case dimension.AggregationAverage:
		for _, total := range byMonth {
			value += total
		}
		value /= float64(months)
	case dimension.AggregationLast:
		value = byMonth[monthOrder[months-1]]
	default:
		a.logger.Error("unhandled aggregation method", "method", string(method), "component", string(component))
		return nil, months
	}
	return &value, months
}

// cellNature resolves one series nature for a quarter's monthly records. A
// quarter mixing rate and level series cannot be averaged coherently, so it
// falls back to level aggregation with a warning.
func (a *Aligner) cellNature(component dimension.Component, monthly []facts.Record) dimension.SeriesNature {
	nature := a.roles.Nature(monthly[0].Key.SeriesID)
	for _, rec := range monthly[1:] {
		if a.roles.Nature(rec.Key.SeriesID) != nature {
			a.logger.Warn("mixed series natures in quarter derivation",
				"component", string(component))
			return dimension.NatureLevel
		}
	}
	return nature
}

func sumValues(records []facts.Record) float64 {
	var total float64
	for _, rec := range records {
		total += rec.Value
	}
	return total
}
