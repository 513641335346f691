package reconcile

import (
	"fmt"
	"strings"

	"circflow/internal/dimension"
)

// AllowlistStatus is the review state of an expected-anomaly entry. Only
// active entries suppress alerts.
type AllowlistStatus string

const (
	StatusProposed AllowlistStatus = "proposed"
	StatusActive   AllowlistStatus = "active"
	StatusRetired  AllowlistStatus = "retired"
)

// AllowlistEntry documents a known, reviewed deviation so it stops being
// raised as an anomaly. Entries replace the old habit of explaining expected
// imbalances in prose comments: each one is queryable and carries its review
// trail.
type AllowlistEntry struct {
	PatternID   string
	Component   dimension.Component // empty matches any component
	FromQuarter string
	ToQuarter   string
	Explanation string
	Evidence    string
	ReviewedBy  string
	Status      AllowlistStatus

	// StructuralBreak marks a policy-driven discontinuity; a model trained
	// across one must be retrained before further classification.
	StructuralBreak bool
}

// covers reports whether the entry's quarter range includes the label.
// Labels of the form YYYYQn order lexicographically.
func (e AllowlistEntry) covers(quarterLabel string) bool {
	if e.FromQuarter != "" && quarterLabel < e.FromQuarter {
		return false
	}
	if e.ToQuarter != "" && quarterLabel > e.ToQuarter {
		return false
	}
	return true
}

// Allowlist is the structured register of expected anomalies, loaded from
// versioned configuration and immutable afterwards.
type Allowlist struct {
	entries []AllowlistEntry
}

// NewAllowlist validates and builds the register.
func NewAllowlist(entries []AllowlistEntry) (*Allowlist, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.PatternID)
		if id == "" {
			return nil, fmt.Errorf("allowlist entry with empty pattern id")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate allowlist pattern %q", id)
		}
		seen[id] = struct{}{}
		switch e.Status {
		case StatusProposed, StatusActive, StatusRetired:
		default:
			return nil, fmt.Errorf("allowlist pattern %s: unknown status %q", id, e.Status)
		}
		if e.Component != "" {
			if _, err := dimension.ParseComponent(string(e.Component)); err != nil {
				return nil, fmt.Errorf("allowlist pattern %s: %w", id, err)
			}
		}
	}
	return &Allowlist{entries: entries}, nil
}

// Match returns the first active entry covering the quarter, if any.
func (a *Allowlist) Match(quarterLabel string) (AllowlistEntry, bool) {
	if a == nil {
		return AllowlistEntry{}, false
	}
	for _, e := range a.entries {
		if e.Status == StatusActive && e.covers(quarterLabel) {
			return e, true
		}
	}
	return AllowlistEntry{}, false
}

// HasStructuralBreak reports whether any active structural-break entry
// overlaps the [from, to] quarter span.
func (a *Allowlist) HasStructuralBreak(from, to string) bool {
	if a == nil {
		return false
	}
	for _, e := range a.entries {
		if e.Status != StatusActive || !e.StructuralBreak {
			continue
		}
		if e.covers(from) || e.covers(to) || (e.FromQuarter >= from && e.FromQuarter <= to) {
			return true
		}
	}
	return false
}
