// Package identity evaluates the leakages/injections accounting identity
// S + T + M = I + G + X over the aligned quarterly timeline. Evaluation is a
// pure function of the aligned cells: it never mutates facts and reports the
// degree of balance rather than enforcing it.
package identity

import (
	"math"
	"sort"

	"circflow/internal/align"
	"circflow/internal/dimension"
)

// MinComponentsForBalance is the coverage floor below which a quarter is
// flagged insufficient-data instead of being evaluated for balance.
const MinComponentsForBalance = 2

// impliedTaxBurdenCap bounds a viable implied-T estimate to half of S+M;
// anything above that says the residual is not plausibly taxation.
const impliedTaxBurdenCap = 0.5

// Result is the validation outcome for a single quarter.
type Result struct {
	QuarterLabel        string
	Leakages            float64
	Injections          float64
	Balance             float64
	BalanceRatio        float64
	ComponentsAvailable int
	InsufficientData    bool

	// ImpliedT is the residual taxation estimate (I+G+X) - (S+M), computed
	// only when T is missing but the other five identity components are
	// present. Reported for analysis, never written back to facts.
	ImpliedT       *float64
	ImpliedTViable bool
}

// Evaluate computes the identity for one quarter's aligned cells. Missing
// components contribute zero to the sums; ComponentsAvailable carries the
// qualitative confidence instead.
func Evaluate(quarterLabel string, cells []align.Cell) Result {
	values := make(map[dimension.Component]float64)
	for _, cell := range cells {
		if cell.QuarterLabel != quarterLabel || cell.Value == nil {
			continue
		}
		values[cell.Component] = *cell.Value
	}

	res := Result{
		QuarterLabel:        quarterLabel,
		ComponentsAvailable: len(values),
	}

	for component, value := range values {
		switch component.IdentitySide() {
		case dimension.SideLeakage:
			res.Leakages += value
		case dimension.SideInjection:
			res.Injections += value
		}
	}

	res.Balance = res.Leakages - res.Injections
	// Magnitudes in the denominator keep the ratio meaningful when a side
	// sums negative, e.g. a dissaving quarter.
	if bound := math.Max(math.Abs(res.Leakages), math.Abs(res.Injections)); bound > 0 {
		res.BalanceRatio = math.Abs(res.Balance) / bound
	}

	if res.ComponentsAvailable < MinComponentsForBalance {
		res.InsufficientData = true
	}

	estimateImpliedT(&res, values)
	return res
}

// EvaluateAll evaluates every quarter present in the aligned cell set, in
// chronological order.
func EvaluateAll(cells []align.Cell) []Result {
	byQuarter := make(map[string][]align.Cell)
	var labels []string
	for _, cell := range cells {
		if _, ok := byQuarter[cell.QuarterLabel]; !ok {
			labels = append(labels, cell.QuarterLabel)
		}
		byQuarter[cell.QuarterLabel] = append(byQuarter[cell.QuarterLabel], cell)
	}
	sort.Strings(labels)

	out := make([]Result, 0, len(labels))
	for _, label := range labels {
		out = append(out, Evaluate(label, byQuarter[label]))
	}
	return out
}

// estimateImpliedT solves the identity for T when taxation is the only
// missing identity component: T-hat = (I+G+X) - (S+M). Viable when positive
// and below half of S+M.
func estimateImpliedT(res *Result, values map[dimension.Component]float64) {
	if _, hasT := values[dimension.ComponentTaxation]; hasT {
		return
	}
	required := []dimension.Component{
		dimension.ComponentSavings,
		dimension.ComponentImports,
		dimension.ComponentInvestment,
		dimension.ComponentGovernment,
		dimension.ComponentExports,
	}
	for _, c := range required {
		if _, ok := values[c]; !ok {
			return
		}
	}

	sm := values[dimension.ComponentSavings] + values[dimension.ComponentImports]
	implied := values[dimension.ComponentInvestment] +
		values[dimension.ComponentGovernment] +
		values[dimension.ComponentExports] - sm

	res.ImpliedT = &implied
	res.ImpliedTViable = implied > 0 && sm > 0 && implied < impliedTaxBurdenCap*sm
}
