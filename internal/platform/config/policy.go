package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the versioned reference document driving a pipeline deployment:
// the quarter calendar span, the known sources and measurement contexts, the
// series to component roles, aggregation overrides and model parameters.
// Values stay as plain strings and numbers; translation into domain types
// happens at wiring time.
type Policy struct {
	Version  int            `yaml:"version"`
	Calendar CalendarPolicy `yaml:"calendar"`

	Sources      []SourcePolicy      `yaml:"sources"`
	Measurements []MeasurementPolicy `yaml:"measurements"`
	SeriesRoles  []SeriesRolePolicy  `yaml:"series_roles"`

	// Aggregation maps a component code to SUM, AVG or LAST, overriding the
	// built-in default for that component.
	Aggregation map[string]string `yaml:"aggregation,omitempty"`

	// UnitRanges bound plausible values per unit type; rows outside the
	// range are rejected at staging.
	UnitRanges map[string]RangePolicy `yaml:"unit_ranges,omitempty"`

	Model     ModelPolicy       `yaml:"model"`
	Allowlist []AllowlistPolicy `yaml:"allowlist,omitempty"`
}

// CalendarPolicy spans the quarter calendar, dates in ISO form.
type CalendarPolicy struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// SourcePolicy registers one upstream data source.
type SourcePolicy struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// MeasurementPolicy registers one measurement context.
type MeasurementPolicy struct {
	UnitType       string `yaml:"unit_type"`
	PriceBasis     string `yaml:"price_basis"`
	AdjustmentType string `yaml:"adjustment_type"`
}

// SeriesRolePolicy binds a series identifier to a circular flow component.
type SeriesRolePolicy struct {
	SeriesID  string `yaml:"series_id"`
	Component string `yaml:"component"`
	IsPrimary bool   `yaml:"is_primary"`
	Nature    string `yaml:"nature,omitempty"`
}

// RangePolicy is an inclusive numeric bound.
type RangePolicy struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ModelPolicy carries reconciliation model parameters.
type ModelPolicy struct {
	Target           string  `yaml:"target"`
	WindowQuarters   int     `yaml:"window_quarters"`
	MinQuarters      int     `yaml:"min_quarters"`
	Confidence       float64 `yaml:"confidence"`
	LatentComponents int     `yaml:"latent_components"`
	StaleAfter       int     `yaml:"stale_after_quarters"`
	FallbackRatio    float64 `yaml:"fallback_ratio"`
}

// AllowlistPolicy is one reviewed discrepancy pattern.
type AllowlistPolicy struct {
	PatternID       string `yaml:"pattern_id"`
	Component       string `yaml:"component"`
	FromQuarter     string `yaml:"from_quarter"`
	ToQuarter       string `yaml:"to_quarter"`
	Explanation     string `yaml:"explanation"`
	Evidence        string `yaml:"evidence,omitempty"`
	ReviewedBy      string `yaml:"reviewed_by"`
	Status          string `yaml:"status"`
	StructuralBreak bool   `yaml:"structural_break,omitempty"`
}

// LoadPolicy reads and validates a policy document from path.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &policy, nil
}

func (p *Policy) validate() error {
	if p.Version < 1 {
		return fmt.Errorf("version must be at least 1")
	}
	if p.Calendar.Start == "" || p.Calendar.End == "" {
		return fmt.Errorf("calendar span is required")
	}
	if len(p.SeriesRoles) == 0 {
		return fmt.Errorf("at least one series role is required")
	}
	if p.Model.Target == "" {
		return fmt.Errorf("model target component is required")
	}
	return nil
}
