// Package reconcile fits a partial-least-squares model over the aligned
// historical timeline and classifies new quarters against the prediction
// interval it implies, replacing fixed percentage thresholds with an
// empirically-fitted bound.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat/distuv"

	"circflow/internal/align"
	"circflow/internal/dimension"
	"circflow/internal/identity"
)

// ErrInsufficientHistory reports a training window below the minimum
// observation count.
var ErrInsufficientHistory = errors.New("insufficient history for model training")

// ErrUntrained reports classification attempted before any successful fit.
var ErrUntrained = errors.New("model has not been trained")

var classifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "circflow_reconcile_classifications_total",
	Help: "Quarter classifications produced by the reconciliation model, by outcome",
}, []string{"outcome"})

// State is the model lifecycle state.
type State string

const (
	StateUntrained State = "Untrained"
	StateTrained   State = "Trained"
	StateStale     State = "Stale"
)

// Classification is the verdict for one quarter.
type Classification string

const (
	ClassWithinBounds     Classification = "within-bounds"
	ClassAnomalous        Classification = "anomalous"
	ClassExpected         Classification = "expected"
	ClassUnclassified     Classification = "unclassified"
	ClassInsufficientData Classification = "insufficient-data"
)

// QuarterVector is one quarter's component values arranged for the model:
// predictors are the seven non-target components, zero-filled where missing.
type QuarterVector struct {
	QuarterLabel string
	Predictors   []float64
	Target       float64
	HasTarget    bool
	BalanceRatio float64
	Insufficient bool
}

// Vectors arranges aligned cells and validation results into model inputs,
// one vector per quarter in chronological order.
func Vectors(cells []align.Cell, results []identity.Result, target dimension.Component) []QuarterVector {
	insufficient := make(map[string]bool, len(results))
	ratios := make(map[string]float64, len(results))
	for _, r := range results {
		insufficient[r.QuarterLabel] = r.InsufficientData
		ratios[r.QuarterLabel] = r.BalanceRatio
	}

	predictorOrder := predictorComponents(target)
	byQuarter := make(map[string]map[dimension.Component]float64)
	var labels []string
	for _, cell := range cells {
		if byQuarter[cell.QuarterLabel] == nil {
			byQuarter[cell.QuarterLabel] = make(map[dimension.Component]float64)
			labels = append(labels, cell.QuarterLabel)
		}
		if cell.Value != nil {
			byQuarter[cell.QuarterLabel][cell.Component] = *cell.Value
		}
	}
	sort.Strings(labels)

	out := make([]QuarterVector, 0, len(labels))
	for _, label := range labels {
		values := byQuarter[label]
		v := QuarterVector{
			QuarterLabel: label,
			Predictors:   make([]float64, len(predictorOrder)),
			BalanceRatio: ratios[label],
			Insufficient: insufficient[label],
		}
		for i, c := range predictorOrder {
			v.Predictors[i] = values[c] // zero-filled when absent
		}
		if observed, ok := values[target]; ok {
			v.Target = observed
			v.HasTarget = true
		}
		out = append(out, v)
	}
	return out
}

func predictorComponents(target dimension.Component) []dimension.Component {
	var out []dimension.Component
	for _, c := range dimension.Components() {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// Assessment is the classification of one quarter against the model bound.
type Assessment struct {
	QuarterLabel     string
	Classification   Classification
	Predicted        float64
	Observed         float64
	Deviation        float64
	IntervalHalf     float64
	AllowlistPattern string
}

// Config tunes the reconciliation model.
type Config struct {
	// WindowQuarters is the length of the training window.
	WindowQuarters int
	// MinQuarters is the floor below which training fails.
	MinQuarters int
	// Confidence is the two-sided prediction interval level, e.g. 0.95.
	Confidence float64
	// LatentComponents caps the number of PLS components extracted.
	LatentComponents int
	// StaleAfterQuarters is how far past the training window end a scored
	// quarter may sit before the model is considered stale.
	StaleAfterQuarters int
	// FallbackRatio, when positive, enables the fixed balance-ratio
	// threshold used only while no usable fit exists.
	FallbackRatio float64
}

// DefaultConfig mirrors the operating defaults: a 40-quarter window, a
// 30-quarter floor and a 95% interval.
func DefaultConfig() Config {
	return Config{
		WindowQuarters:     40,
		MinQuarters:        30,
		Confidence:         0.95,
		LatentComponents:   2,
		StaleAfterQuarters: 4,
	}
}

// Model carries the fitted PLS state through the
// Untrained -> Trained -> Stale lifecycle. A stale fit keeps serving until a
// retrain replaces it; only an untrained model refuses statistical judgment.
type Model struct {
	mu        sync.RWMutex
	cfg       Config
	state     State
	fit       *plsFit
	interval  float64
	windowEnd string
	trainedAt time.Time
	allowlist *Allowlist
	logger    *slog.Logger
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithAllowlist attaches the expected-anomaly register.
func WithAllowlist(a *Allowlist) ModelOption {
	return func(m *Model) {
		m.allowlist = a
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) ModelOption {
	return func(m *Model) {
		m.logger = logger
	}
}

// NewModel constructs an untrained model.
func NewModel(cfg Config, opts ...ModelOption) (*Model, error) {
	if cfg.WindowQuarters <= 0 || cfg.MinQuarters <= 0 {
		return nil, fmt.Errorf("model window and minimum quarters must be positive")
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return nil, fmt.Errorf("model confidence must be in (0, 1)")
	}
	if cfg.LatentComponents <= 0 {
		cfg.LatentComponents = 2
	}
	m := &Model{
		cfg:    cfg,
		state:  StateUntrained,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// MarkStale forces the model into the stale state, e.g. when an operator
// flags a structural break.
func (m *Model) MarkStale(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateTrained {
		m.state = StateStale
		m.logger.Info("reconciliation model marked stale", "reason", reason)
	}
}

// Train fits the model on the most recent window of quarters that carry the
// target and adequate coverage. On ErrInsufficientHistory any prior fit is
// kept and remains usable until replaced. A window spanning an active
// structural-break entry yields a stale fit rather than a trained one.
func (m *Model) Train(ctx context.Context, history []QuarterVector) error {
	usable := make([]QuarterVector, 0, len(history))
	for _, v := range history {
		if v.HasTarget && !v.Insufficient {
			usable = append(usable, v)
		}
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].QuarterLabel < usable[j].QuarterLabel })
	if len(usable) > m.cfg.WindowQuarters {
		usable = usable[len(usable)-m.cfg.WindowQuarters:]
	}
	if len(usable) < m.cfg.MinQuarters {
		return fmt.Errorf("%w: %d usable quarters, need %d", ErrInsufficientHistory, len(usable), m.cfg.MinQuarters)
	}

	windowStart := usable[0].QuarterLabel
	windowEnd := usable[len(usable)-1].QuarterLabel
	structuralBreak := m.allowlist.HasStructuralBreak(windowStart, windowEnd)

	rows := make([][]float64, len(usable))
	targets := make([]float64, len(usable))
	for i, v := range usable {
		rows[i] = v.Predictors
		targets[i] = v.Target
	}

	fit, err := fitPLS(rows, targets, m.cfg.LatentComponents)
	if err != nil {
		return fmt.Errorf("train reconciliation model: %w", err)
	}
	residStd, err := fit.residualStd(rows, targets)
	if err != nil {
		return fmt.Errorf("train reconciliation model: %w", err)
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-m.cfg.Confidence)/2)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fit = fit
	m.interval = z * residStd
	m.windowEnd = windowEnd
	m.trainedAt = time.Now()
	if structuralBreak {
		// A fit across a flagged discontinuity keeps serving but stays
		// stale until a clean window exists.
		m.state = StateStale
		m.logger.Warn("training window spans a flagged structural break",
			"from", windowStart, "to", windowEnd)
	} else {
		m.state = StateTrained
	}
	m.logger.Info("reconciliation model trained",
		"quarters", len(usable),
		"window_end", windowEnd,
		"latent_components", fit.nComponents,
		"interval_half_width", m.interval,
	)
	return nil
}

// Classify scores one quarter against the prediction interval. Quarters with
// inadequate component coverage are never statistically judged; without a
// usable fit the quarter falls back to the fixed threshold when configured
// and is otherwise unclassified.
func (m *Model) Classify(ctx context.Context, v QuarterVector) (Assessment, error) {
	a := Assessment{QuarterLabel: v.QuarterLabel}

	if v.Insufficient {
		a.Classification = ClassInsufficientData
		classifications.WithLabelValues(string(a.Classification)).Inc()
		return a, nil
	}

	m.mu.Lock()
	if m.state == StateTrained && m.windowEnd != "" &&
		quartersBetween(m.windowEnd, v.QuarterLabel) > m.cfg.StaleAfterQuarters {
		m.state = StateStale
		m.logger.Info("reconciliation model aged past horizon", "window_end", m.windowEnd, "quarter", v.QuarterLabel)
	}
	state := m.state
	fit := m.fit
	interval := m.interval
	m.mu.Unlock()

	if state == StateUntrained || fit == nil {
		a.Classification = m.fallback(v)
		classifications.WithLabelValues(string(a.Classification)).Inc()
		return a, nil
	}

	if !v.HasTarget {
		a.Classification = ClassUnclassified
		classifications.WithLabelValues(string(a.Classification)).Inc()
		return a, nil
	}

	predicted, err := fit.predict(v.Predictors)
	if err != nil {
		return Assessment{}, fmt.Errorf("classify %s: %w", v.QuarterLabel, err)
	}

	a.Predicted = predicted
	a.Observed = v.Target
	a.Deviation = v.Target - predicted
	a.IntervalHalf = interval

	if math.Abs(a.Deviation) <= interval {
		a.Classification = ClassWithinBounds
	} else if entry, ok := m.allowlist.Match(v.QuarterLabel); ok {
		// A reviewed, active pattern explains the deviation.
		a.Classification = ClassExpected
		a.AllowlistPattern = entry.PatternID
	} else {
		a.Classification = ClassAnomalous
		m.logger.Warn("quarter outside reconciliation bounds",
			"quarter", v.QuarterLabel,
			"observed", a.Observed,
			"predicted", a.Predicted,
			"interval_half_width", interval,
		)
	}
	classifications.WithLabelValues(string(a.Classification)).Inc()
	return a, nil
}

func (m *Model) fallback(v QuarterVector) Classification {
	if m.cfg.FallbackRatio <= 0 {
		return ClassUnclassified
	}
	if v.BalanceRatio > m.cfg.FallbackRatio {
		return ClassAnomalous
	}
	return ClassWithinBounds
}

// quartersBetween counts whole quarters from label a to label b (labels of
// the form YYYYQn). Negative when b precedes a.
func quartersBetween(a, b string) int {
	ay, aq, errA := parseQuarterLabel(a)
	by, bq, errB := parseQuarterLabel(b)
	if errA != nil || errB != nil {
		return 0
	}
	return (by-ay)*4 + (bq - aq)
}

func parseQuarterLabel(label string) (year, quarter int, err error) {
	if _, err = fmt.Sscanf(label, "%4dQ%1d", &year, &quarter); err != nil {
		return 0, 0, fmt.Errorf("parse quarter label %q: %w", label, err)
	}
	return year, quarter, nil
}
