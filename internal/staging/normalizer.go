package staging

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"circflow/internal/staging/metrics"
)

// dateFormats are the period encodings observed across source files. Order
// matters: the unambiguous forms come first.
var dateFormats = []string{
	"02-Jan-2006",
	"2006-01-02",
	"02/01/2006",
	"02-Jan-06",
	"02-01-2006",
}

// placeholderTokens are source conventions for "no observation". They must
// normalise to missing, never to zero.
var placeholderTokens = map[string]struct{}{
	"":     {},
	"-":    {},
	"--":   {},
	"n.a.": {},
	"na":   {},
	"n/a":  {},
	"..":   {},
	".":    {},
}

// ValueRange bounds plausible values for a unit class. Zero-value ranges are
// treated as unbounded on that side.
type ValueRange struct {
	Min float64
	Max float64
}

// Contains reports whether v falls inside the range.
func (r ValueRange) Contains(v float64) bool {
	if r.Min != 0 || r.Max != 0 {
		return v >= r.Min && v <= r.Max
	}
	return true
}

// Normalizer turns raw collector rows into canonical observations. It is
// stateless apart from its configuration and safe for concurrent use.
type Normalizer struct {
	defaultRange ValueRange
	unitRanges   map[string]ValueRange
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// WithMetrics attaches staging metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) {
		n.metrics = m
	}
}

// WithUnitRange registers a sanity range for a specific unit string.
func WithUnitRange(unit string, r ValueRange) Option {
	return func(n *Normalizer) {
		n.unitRanges[strings.TrimSpace(unit)] = r
	}
}

// NewNormalizer constructs a Normalizer with the given default sanity range.
func NewNormalizer(defaultRange ValueRange, opts ...Option) *Normalizer {
	n := &Normalizer{
		defaultRange: defaultRange,
		unitRanges:   make(map[string]ValueRange),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw row into a CanonicalObservation. A nil Rejection
// means success. Rows whose value is a placeholder token yield ok=false with
// no rejection: the observation is simply absent.
func (n *Normalizer) Normalize(row RawRow, extractDate time.Time) (CanonicalObservation, bool, *Rejection) {
	periodDate, err := parseDate(row.PeriodDate)
	if err != nil {
		return CanonicalObservation{}, false, n.reject(row, RejectParseError, fmt.Sprintf("period date %q: %v", row.PeriodDate, err))
	}

	raw := strings.TrimSpace(row.Value)
	if _, missing := placeholderTokens[strings.ToLower(raw)]; missing {
		return CanonicalObservation{}, false, nil
	}

	value, err := parseNumeric(raw)
	if err != nil {
		return CanonicalObservation{}, false, n.reject(row, RejectParseError, fmt.Sprintf("value %q: %v", row.Value, err))
	}

	if r := n.rangeFor(row.Unit); !r.Contains(value) {
		return CanonicalObservation{}, false, n.reject(row, RejectOutOfPolicyValue,
			fmt.Sprintf("value %v outside sanity range [%v, %v]", value, r.Min, r.Max))
	}

	freq := Frequency(strings.TrimSpace(row.Frequency))
	if !freq.IsValid() {
		return CanonicalObservation{}, false, n.reject(row, RejectParseError, fmt.Sprintf("frequency %q not recognised", row.Frequency))
	}

	obs := CanonicalObservation{
		SourceID:          strings.TrimSpace(row.SourceID),
		SourceFile:        row.SourceFile,
		SeriesID:          strings.TrimSpace(row.SeriesID),
		SeriesDescription: strings.TrimSpace(row.SeriesDescription),
		PeriodDate:        periodDate,
		Value:             value,
		Unit:              strings.TrimSpace(row.Unit),
		PriceBasis:        normalizePriceBasis(row.PriceBasis, row.SeriesDescription),
		AdjustmentType:    strings.TrimSpace(row.AdjustmentType),
		Frequency:         freq,
		ExtractDate:       extractDate,
	}
	if n.metrics != nil {
		n.metrics.RecordNormalized()
	}
	return obs, true, nil
}

func (n *Normalizer) reject(row RawRow, reason RejectReason, detail string) *Rejection {
	if n.metrics != nil {
		n.metrics.RecordRejected(string(reason))
	}
	n.logger.Warn("staging rejection",
		"reason", string(reason),
		"source_file", row.SourceFile,
		"series_id", row.SeriesID,
		"detail", detail,
	)
	return &Rejection{
		Reason:     reason,
		SourceFile: row.SourceFile,
		SeriesID:   row.SeriesID,
		Detail:     detail,
	}
}

func (n *Normalizer) rangeFor(unit string) ValueRange {
	if r, ok := n.unitRanges[strings.TrimSpace(unit)]; ok {
		return r
	}
	return n.defaultRange
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no known date format matched")
}

// parseNumeric strips known formatting noise (thousands separators,
// currency symbols, whitespace) and parses the remainder exactly before
// converting to float64. Accounting-style parentheses negate. Anything the
// cleaning does not recognise fails the parse rather than losing characters.
func parseNumeric(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '£', '€', ' ', '\u00a0':
			return -1
		default:
			return r
		}
	}, cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("no numeric content")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse decimal: %w", err)
	}
	if negative {
		d = d.Neg()
	}
	return d.InexactFloat64(), nil
}

// normalizePriceBasis prefers the explicit basis from the source and falls
// back to inferring it from the series description, defaulting to current
// prices the way the upstream publications do.
func normalizePriceBasis(basis, description string) string {
	if b := strings.TrimSpace(basis); b != "" {
		return b
	}
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "chain volume"):
		return "Chain Volume Measures"
	case strings.Contains(desc, "current prices"):
		return "Current Prices"
	case strings.Contains(desc, "nominal"):
		return "Nominal"
	default:
		return "Current Prices"
	}
}
