package dimension

import "fmt"

// Component is one of the eight circular-flow accounting categories. The set
// is closed: adding or removing a component redefines the accounting identity,
// so everything about a component hangs off this enumeration rather than
// being re-derived from code strings at call sites.
type Component string

const (
	ComponentIncome      Component = "Y"
	ComponentConsumption Component = "C"
	ComponentSavings     Component = "S"
	ComponentInvestment  Component = "I"
	ComponentGovernment  Component = "G"
	ComponentTaxation    Component = "T"
	ComponentExports     Component = "X"
	ComponentImports     Component = "M"
)

// FlowType classifies how a component participates in the income-expenditure
// loop.
type FlowType string

const (
	FlowIncome      FlowType = "Income"
	FlowExpenditure FlowType = "Expenditure"
	FlowLeakage     FlowType = "Leakage"
	FlowInjection   FlowType = "Injection"
)

// IdentitySide places a component on one side of S+T+M = I+G+X, or on
// neither.
type IdentitySide string

const (
	SideLeakage   IdentitySide = "Leakage"
	SideInjection IdentitySide = "Injection"
	SideNone      IdentitySide = "None"
)

// Aggregation is the method used to collapse sub-quarterly observations into
// a quarterly value.
type Aggregation string

const (
	// AggregationSum totals the months of the quarter (flow components).
	AggregationSum Aggregation = "SUM"
	// AggregationAverage means the months of the quarter (rate series).
	AggregationAverage Aggregation = "AVG"
	// AggregationLast takes the end-of-quarter observation (stock-like
	// components).
	AggregationLast Aggregation = "LAST"
)

// IsValid reports whether a is a recognised aggregation method.
func (a Aggregation) IsValid() bool {
	switch a {
	case AggregationSum, AggregationAverage, AggregationLast:
		return true
	}
	return false
}

// componentInfo is the immutable data attached to each component.
type componentInfo struct {
	name        string
	sector      string
	flowType    FlowType
	side        IdentitySide
	aggregation Aggregation
}

var componentTable = map[Component]componentInfo{
	ComponentIncome:      {"Income", "Household", FlowIncome, SideNone, AggregationSum},
	ComponentConsumption: {"Consumption", "Household", FlowExpenditure, SideNone, AggregationSum},
	ComponentSavings:     {"Savings", "Financial", FlowLeakage, SideLeakage, AggregationLast},
	ComponentInvestment:  {"Investment", "Financial", FlowInjection, SideInjection, AggregationSum},
	ComponentGovernment:  {"Government Expenditure", "Government", FlowInjection, SideInjection, AggregationSum},
	ComponentTaxation:    {"Taxation", "Government", FlowLeakage, SideLeakage, AggregationSum},
	ComponentExports:     {"Exports", "External", FlowInjection, SideInjection, AggregationSum},
	ComponentImports:     {"Imports", "External", FlowLeakage, SideLeakage, AggregationSum},
}

// Components returns all eight components in canonical order.
func Components() []Component {
	return []Component{
		ComponentIncome, ComponentConsumption, ComponentSavings,
		ComponentInvestment, ComponentGovernment, ComponentTaxation,
		ComponentExports, ComponentImports,
	}
}

// ParseComponent validates a component code.
func ParseComponent(code string) (Component, error) {
	c := Component(code)
	if _, ok := componentTable[c]; !ok {
		return "", fmt.Errorf("unknown component code %q", code)
	}
	return c, nil
}

// Name returns the human-readable component name.
func (c Component) Name() string { return componentTable[c].name }

// Sector returns the economic sector the component belongs to.
func (c Component) Sector() string { return componentTable[c].sector }

// FlowType returns the component's flow classification.
func (c Component) FlowType() FlowType { return componentTable[c].flowType }

// IdentitySide returns which side of the accounting identity the component
// sits on.
func (c Component) IdentitySide() IdentitySide { return componentTable[c].side }

// DefaultAggregation returns the component's built-in aggregation method.
// Income aggregation additionally depends on the series nature; see
// PolicySet.MethodFor.
func (c Component) DefaultAggregation() Aggregation { return componentTable[c].aggregation }

// SeriesNature distinguishes rate series from level series, which changes how
// income observations aggregate across a quarter.
type SeriesNature string

const (
	NatureLevel SeriesNature = "level"
	NatureRate  SeriesNature = "rate"
)

// PolicySet resolves the aggregation method per component, allowing explicit
// configuration overrides of the built-in defaults.
type PolicySet struct {
	overrides map[Component]Aggregation
}

// NewPolicySet builds a PolicySet from override entries. Unknown components
// or methods are rejected.
func NewPolicySet(overrides map[string]string) (*PolicySet, error) {
	ps := &PolicySet{overrides: make(map[Component]Aggregation)}
	for code, method := range overrides {
		comp, err := ParseComponent(code)
		if err != nil {
			return nil, fmt.Errorf("aggregation policy: %w", err)
		}
		agg := Aggregation(method)
		if !agg.IsValid() {
			return nil, fmt.Errorf("aggregation policy: unknown method %q for component %s", method, code)
		}
		ps.overrides[comp] = agg
	}
	return ps, nil
}

// MethodFor returns the aggregation method for a component. Income follows
// the nature of the underlying series: rates average, levels sum.
func (p *PolicySet) MethodFor(c Component, nature SeriesNature) Aggregation {
	if p != nil {
		if agg, ok := p.overrides[c]; ok {
			return agg
		}
	}
	if c == ComponentIncome && nature == NatureRate {
		return AggregationAverage
	}
	return c.DefaultAggregation()
}
