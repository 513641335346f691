package staging

import "time"

// Frequency is the native reporting cadence of a series as declared by the
// publishing agency.
type Frequency string

const (
	FrequencyDaily     Frequency = "Daily"
	FrequencyWeekly    Frequency = "Weekly"
	FrequencyMonthly   Frequency = "Monthly"
	FrequencyQuarterly Frequency = "Quarterly"
	FrequencyAnnual    Frequency = "Annual"
)

// IsValid reports whether f is one of the recognised frequencies.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

// RawRow is a single parsed row handed off by a collector. Header metadata
// (table title, column descriptions, units row) has already been flattened
// onto each row; all fields arrive as text.
type RawRow struct {
	SourceID          string
	SourceFile        string
	SeriesID          string
	SeriesDescription string
	PeriodDate        string
	Value             string
	Unit              string
	Frequency         string
	AdjustmentType    string
	PriceBasis        string
}

// CanonicalObservation is the normalised form of a raw row. Immutable once
// staged; corrections arrive as new observations with a later ExtractDate.
type CanonicalObservation struct {
	SourceID          string
	SourceFile        string
	SeriesID          string
	SeriesDescription string
	PeriodDate        time.Time
	Value             float64
	Unit              string
	PriceBasis        string
	AdjustmentType    string
	Frequency         Frequency
	ExtractDate       time.Time
}

// RejectReason classifies why a raw row could not be normalised.
type RejectReason string

const (
	// RejectParseError covers unparseable dates and non-numeric values.
	RejectParseError RejectReason = "ParseError"
	// RejectOutOfPolicyValue covers values outside the configured sanity range.
	RejectOutOfPolicyValue RejectReason = "OutOfPolicyValue"
)

// Rejection records a row the normalizer refused, with enough context for
// operator triage. The batch continues past rejections.
type Rejection struct {
	Reason     RejectReason
	SourceFile string
	SeriesID   string
	Detail     string
}

func (r Rejection) String() string {
	return string(r.Reason) + ": " + r.SeriesID + " (" + r.SourceFile + "): " + r.Detail
}
