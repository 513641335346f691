package identity

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"circflow/internal/align"
	"circflow/internal/dimension"
)

type ValidatorSuite struct {
	suite.Suite
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func cell(label string, c dimension.Component, value float64) align.Cell {
	return align.Cell{
		QuarterLabel: label,
		Component:    c,
		Value:        &value,
		Provenance:   align.ProvenanceNativeQuarterly,
	}
}

func missingCell(label string, c dimension.Component) align.Cell {
	return align.Cell{
		QuarterLabel: label,
		Component:    c,
		Provenance:   align.ProvenanceMissing,
	}
}

func (s *ValidatorSuite) TestEvaluate() {
	s.Run("perfectly balanced quarter", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentSavings, 50),
			cell("2024Q2", dimension.ComponentTaxation, 30),
			cell("2024Q2", dimension.ComponentImports, 20),
			cell("2024Q2", dimension.ComponentInvestment, 40),
			cell("2024Q2", dimension.ComponentGovernment, 35),
			cell("2024Q2", dimension.ComponentExports, 25),
		}
		res := Evaluate("2024Q2", cells)
		s.Equal(100.0, res.Leakages)
		s.Equal(100.0, res.Injections)
		s.Equal(0.0, res.Balance)
		s.Equal(0.0, res.BalanceRatio)
		s.Equal(6, res.ComponentsAvailable)
		s.False(res.InsufficientData)
	})

	s.Run("imbalance shows signed balance and ratio", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentSavings, 60),
			cell("2024Q2", dimension.ComponentTaxation, 30),
			cell("2024Q2", dimension.ComponentImports, 20),
			cell("2024Q2", dimension.ComponentInvestment, 40),
			cell("2024Q2", dimension.ComponentGovernment, 35),
			cell("2024Q2", dimension.ComponentExports, 25),
		}
		res := Evaluate("2024Q2", cells)
		s.Equal(110.0, res.Leakages)
		s.Equal(100.0, res.Injections)
		s.Equal(10.0, res.Balance)
		s.InDelta(10.0/110.0, res.BalanceRatio, 1e-9)
	})

	s.Run("dissaving quarter still gets a ratio", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentSavings, -50),
			cell("2024Q2", dimension.ComponentInvestment, -10),
		}
		res := Evaluate("2024Q2", cells)
		s.Equal(-50.0, res.Leakages)
		s.Equal(-10.0, res.Injections)
		s.Equal(-40.0, res.Balance)
		s.InDelta(40.0/50.0, res.BalanceRatio, 1e-9)
	})

	s.Run("income and consumption stay out of the sums", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentIncome, 1000),
			cell("2024Q2", dimension.ComponentConsumption, 700),
			cell("2024Q2", dimension.ComponentSavings, 50),
			cell("2024Q2", dimension.ComponentInvestment, 50),
		}
		res := Evaluate("2024Q2", cells)
		s.Equal(50.0, res.Leakages)
		s.Equal(50.0, res.Injections)
		s.Equal(4, res.ComponentsAvailable)
	})

	s.Run("fewer than two components flags insufficient data", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentSavings, 50),
			missingCell("2024Q2", dimension.ComponentInvestment),
		}
		res := Evaluate("2024Q2", cells)
		s.True(res.InsufficientData)
		s.Equal(1, res.ComponentsAvailable)
	})

	s.Run("missing cells contribute nothing", func() {
		cells := []align.Cell{
			cell("2024Q2", dimension.ComponentSavings, 50),
			cell("2024Q2", dimension.ComponentInvestment, 45),
			missingCell("2024Q2", dimension.ComponentImports),
		}
		res := Evaluate("2024Q2", cells)
		s.Equal(50.0, res.Leakages)
		s.Equal(45.0, res.Injections)
		s.False(res.InsufficientData)
	})
}

func (s *ValidatorSuite) TestImpliedT() {
	base := func(label string) []align.Cell {
		return []align.Cell{
			cell(label, dimension.ComponentSavings, 50),
			cell(label, dimension.ComponentImports, 30),
			cell(label, dimension.ComponentInvestment, 45),
			cell(label, dimension.ComponentGovernment, 40),
			cell(label, dimension.ComponentExports, 25),
		}
	}

	s.Run("viable residual when T missing", func() {
		res := Evaluate("2024Q2", base("2024Q2"))
		s.Require().NotNil(res.ImpliedT)
		// (45+40+25) - (50+30) = 30, below half of S+M = 40
		s.Equal(30.0, *res.ImpliedT)
		s.True(res.ImpliedTViable)
	})

	s.Run("negative residual is not viable", func() {
		cells := base("2024Q2")
		cells[0] = cell("2024Q2", dimension.ComponentSavings, 120)
		res := Evaluate("2024Q2", cells)
		s.Require().NotNil(res.ImpliedT)
		s.Negative(*res.ImpliedT)
		s.False(res.ImpliedTViable)
	})

	s.Run("residual above half of leakages is not viable", func() {
		cells := base("2024Q2")
		cells[3] = cell("2024Q2", dimension.ComponentGovernment, 120)
		res := Evaluate("2024Q2", cells)
		s.Require().NotNil(res.ImpliedT)
		s.False(res.ImpliedTViable)
	})

	s.Run("no estimate when T present", func() {
		cells := append(base("2024Q2"), cell("2024Q2", dimension.ComponentTaxation, 28))
		res := Evaluate("2024Q2", cells)
		s.Nil(res.ImpliedT)
	})

	s.Run("no estimate when another identity component missing", func() {
		res := Evaluate("2024Q2", base("2024Q2")[:4])
		s.Nil(res.ImpliedT)
	})
}

func (s *ValidatorSuite) TestEvaluateAll() {
	cells := []align.Cell{
		cell("2024Q2", dimension.ComponentSavings, 50),
		cell("2024Q2", dimension.ComponentInvestment, 45),
		cell("2024Q1", dimension.ComponentSavings, 48),
		cell("2024Q1", dimension.ComponentInvestment, 44),
	}
	results := EvaluateAll(cells)
	s.Require().Len(results, 2)
	s.Equal("2024Q1", results[0].QuarterLabel)
	s.Equal("2024Q2", results[1].QuarterLabel)
}
