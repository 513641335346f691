package align

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"circflow/internal/dimension"
	"circflow/internal/facts"
	"circflow/internal/staging"
)

type AlignerSuite struct {
	suite.Suite
	store   *facts.MemoryStore
	aligner *Aligner
	ctx     context.Context
}

func TestAlignerSuite(t *testing.T) {
	suite.Run(t, new(AlignerSuite))
}

func (s *AlignerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = facts.NewMemoryStore()

	cal, err := dimension.NewCalendar(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	)
	s.Require().NoError(err)

	roles, err := dimension.NewSeriesRoleRegistry([]dimension.SeriesRole{
		{SeriesID: "C-M", Component: dimension.ComponentConsumption, IsPrimary: true},
		{SeriesID: "C-Q", Component: dimension.ComponentConsumption, IsPrimary: true},
		{SeriesID: "S-M", Component: dimension.ComponentSavings, IsPrimary: true},
		{SeriesID: "I-M", Component: dimension.ComponentInvestment, IsPrimary: true},
		{SeriesID: "Y-R", Component: dimension.ComponentIncome, IsPrimary: true, Nature: dimension.NatureRate},
		{SeriesID: "Y-L", Component: dimension.ComponentIncome, IsPrimary: true, Nature: dimension.NatureLevel},
	})
	s.Require().NoError(err)

	s.aligner, err = NewAligner(cal, nil, roles, s.store)
	s.Require().NoError(err)
}

func (s *AlignerSuite) put(date string, c dimension.Component, series string, freq staging.Frequency, value float64) {
	_, err := s.store.Upsert(s.ctx, facts.Record{
		Key: facts.Key{
			Date:           date,
			Component:      c,
			SourceCode:     "ABS",
			MeasurementKey: "$ Millions|Current Prices|Seasonally adjusted",
			SeriesID:       series,
		},
		Value:           value,
		IsPrimarySeries: true,
		QualityFlag:     facts.QualityGood,
		Frequency:       freq,
	})
	s.Require().NoError(err)
}

func (s *AlignerSuite) cell(cells []Cell, label string, c dimension.Component) Cell {
	for _, cell := range cells {
		if cell.QuarterLabel == label && cell.Component == c {
			return cell
		}
	}
	s.FailNow("cell not found", "%s %s", label, c)
	return Cell{}
}

func (s *AlignerSuite) TestMonthlyAggregation() {
	s.put("2024-01-31", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 100)
	s.put("2024-02-29", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 110)
	s.put("2024-03-31", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 90)

	s.put("2024-01-31", dimension.ComponentSavings, "S-M", staging.FrequencyMonthly, 100)
	s.put("2024-02-29", dimension.ComponentSavings, "S-M", staging.FrequencyMonthly, 110)
	s.put("2024-03-31", dimension.ComponentSavings, "S-M", staging.FrequencyMonthly, 90)

	s.put("2024-01-31", dimension.ComponentIncome, "Y-R", staging.FrequencyMonthly, 3.0)
	s.put("2024-02-29", dimension.ComponentIncome, "Y-R", staging.FrequencyMonthly, 3.5)
	s.put("2024-03-31", dimension.ComponentIncome, "Y-R", staging.FrequencyMonthly, 4.0)

	s.put("2024-01-31", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 10)
	s.put("2024-02-29", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 20)

	cells, err := s.aligner.Align(s.ctx)
	s.Require().NoError(err)

	s.Run("three monthly observations sum for a flow component", func() {
		cell := s.cell(cells, "2024Q1", dimension.ComponentConsumption)
		s.Require().NotNil(cell.Value)
		s.Equal(300.0, *cell.Value)
		s.Equal(ProvenanceMonthlyDerived, cell.Provenance)
		s.Equal(3, cell.MonthsAvailable)
	})

	s.Run("savings take the last month of the quarter", func() {
		cell := s.cell(cells, "2024Q1", dimension.ComponentSavings)
		s.Require().NotNil(cell.Value)
		s.Equal(90.0, *cell.Value)
	})

	s.Run("income rate series averages across the quarter", func() {
		cell := s.cell(cells, "2024Q1", dimension.ComponentIncome)
		s.Require().NotNil(cell.Value)
		s.InDelta(3.5, *cell.Value, 1e-9)
	})

	s.Run("two months never fabricate a quarter", func() {
		cell := s.cell(cells, "2024Q1", dimension.ComponentInvestment)
		s.Nil(cell.Value)
		s.Equal(ProvenanceMissing, cell.Provenance)
		s.Equal(2, cell.MonthsAvailable)
	})

	s.Run("every component quarter pair gets a cell", func() {
		s.Len(cells, 8*2)
	})
}

func (s *AlignerSuite) TestMixedNaturesFallBackToLevel() {
	s.put("2024-01-31", dimension.ComponentIncome, "Y-R", staging.FrequencyMonthly, 3.0)
	s.put("2024-02-29", dimension.ComponentIncome, "Y-R", staging.FrequencyMonthly, 3.5)
	s.put("2024-03-31", dimension.ComponentIncome, "Y-L", staging.FrequencyMonthly, 4.0)

	cells, err := s.aligner.Align(s.ctx)
	s.Require().NoError(err)

	// Averaging a quarter that mixes rate and level series would be
	// incoherent; it aggregates as levels instead.
	cell := s.cell(cells, "2024Q1", dimension.ComponentIncome)
	s.Require().NotNil(cell.Value)
	s.InDelta(10.5, *cell.Value, 1e-9)
}

func (s *AlignerSuite) TestQuarterlyPrecedence() {
	s.put("2024-01-31", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 100)
	s.put("2024-02-29", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 110)
	s.put("2024-03-31", dimension.ComponentConsumption, "C-M", staging.FrequencyMonthly, 90)
	s.put("2024-03-31", dimension.ComponentConsumption, "C-Q", staging.FrequencyQuarterly, 305)

	cells, err := s.aligner.Align(s.ctx)
	s.Require().NoError(err)

	cell := s.cell(cells, "2024Q1", dimension.ComponentConsumption)
	s.Require().NotNil(cell.Value)
	s.Equal(305.0, *cell.Value)
	s.Equal(ProvenanceNativeQuarterly, cell.Provenance)
	s.Require().NotNil(cell.MonthlyShadow)
	s.Equal(300.0, *cell.MonthlyShadow)
}

func (s *AlignerSuite) TestQuarterlyOffQuarterEnd() {
	s.put("2024-02-15", dimension.ComponentConsumption, "C-Q", staging.FrequencyQuarterly, 305)

	cells, err := s.aligner.Align(s.ctx)
	s.Require().NoError(err)

	cell := s.cell(cells, "2024Q1", dimension.ComponentConsumption)
	s.Nil(cell.Value)
	s.Equal(ProvenanceMissing, cell.Provenance)
}

func (s *AlignerSuite) TestRevision() {
	s.put("2024-04-30", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 10)
	s.put("2024-05-31", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 20)
	s.put("2024-06-30", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 15)

	cells, err := s.aligner.Align(s.ctx)
	s.Require().NoError(err)
	cell := s.cell(cells, "2024Q2", dimension.ComponentInvestment)
	s.Require().NotNil(cell.Value)
	s.Equal(45.0, *cell.Value)

	s.Run("restating one month changes the derived quarter", func() {
		s.put("2024-06-30", dimension.ComponentInvestment, "I-M", staging.FrequencyMonthly, 25)

		cells, err := s.aligner.Align(s.ctx)
		s.Require().NoError(err)
		cell := s.cell(cells, "2024Q2", dimension.ComponentInvestment)
		s.Require().NotNil(cell.Value)
		s.Equal(55.0, *cell.Value)
	})
}
