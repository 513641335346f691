package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"circflow/internal/align"
	"circflow/internal/dimension"
	"circflow/internal/identity"
)

type ModelSuite struct {
	suite.Suite
	ctx context.Context
}

func TestModelSuite(t *testing.T) {
	suite.Run(t, new(ModelSuite))
}

func (s *ModelSuite) SetupTest() {
	s.ctx = context.Background()
}

func testConfig() Config {
	return Config{
		WindowQuarters:     12,
		MinQuarters:        8,
		Confidence:         0.95,
		LatentComponents:   2,
		StaleAfterQuarters: 2,
	}
}

// quarter returns the label i quarters after 2015Q1.
func quarter(i int) string {
	return fmt.Sprintf("%dQ%d", 2015+i/4, i%4+1)
}

// history builds n quarters where the target tracks the predictors linearly
// with alternating unit noise, so the fitted interval is small but non-zero.
func history(n int) []QuarterVector {
	out := make([]QuarterVector, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		noise := 1.0
		if i%2 == 1 {
			noise = -1.0
		}
		out[i] = QuarterVector{
			QuarterLabel: quarter(i),
			Predictors:   []float64{x, 2 * x, 0, 0, 0, 0, 0},
			Target:       3*x + noise,
			HasTarget:    true,
		}
	}
	return out
}

// scored builds the quarter i quarters after 2015Q1 with a target offset from
// the noise-free trend.
func scored(i int, offset float64) QuarterVector {
	x := float64(i)
	return QuarterVector{
		QuarterLabel: quarter(i),
		Predictors:   []float64{x, 2 * x, 0, 0, 0, 0, 0},
		Target:       3*x + offset,
		HasTarget:    true,
	}
}

func (s *ModelSuite) trainedModel(opts ...ModelOption) *Model {
	model, err := NewModel(testConfig(), opts...)
	s.Require().NoError(err)
	s.Require().NoError(model.Train(s.ctx, history(12)))
	return model
}

func (s *ModelSuite) TestTrain() {
	s.Run("too little usable history fails and keeps state", func() {
		model, err := NewModel(testConfig())
		s.Require().NoError(err)

		err = model.Train(s.ctx, history(5))
		s.Require().ErrorIs(err, ErrInsufficientHistory)
		s.Equal(StateUntrained, model.State())
	})

	s.Run("quarters without target or coverage are excluded", func() {
		model, err := NewModel(testConfig())
		s.Require().NoError(err)

		h := history(9)
		h[0].HasTarget = false
		h[1].Insufficient = true
		err = model.Train(s.ctx, h)
		s.Require().ErrorIs(err, ErrInsufficientHistory)
	})

	s.Run("successful training moves to trained", func() {
		model := s.trainedModel()
		s.Equal(StateTrained, model.State())
	})

	s.Run("window spanning a structural break trains stale", func() {
		allowlist, err := NewAllowlist([]AllowlistEntry{{
			PatternID:       "gst-introduction",
			FromQuarter:     quarter(5),
			ToQuarter:       quarter(6),
			Explanation:     "indirect tax restructure",
			ReviewedBy:      "data-steward",
			Status:          StatusActive,
			StructuralBreak: true,
		}})
		s.Require().NoError(err)
		model, err := NewModel(testConfig(), WithAllowlist(allowlist))
		s.Require().NoError(err)

		s.Require().NoError(model.Train(s.ctx, history(12)))
		s.Equal(StateStale, model.State())

		// The stale fit still serves.
		a, err := model.Classify(s.ctx, scored(12, 0.5))
		s.Require().NoError(err)
		s.Equal(ClassWithinBounds, a.Classification)
	})

	s.Run("failed retrain keeps the prior fit serving", func() {
		model := s.trainedModel()

		err := model.Train(s.ctx, history(3))
		s.Require().ErrorIs(err, ErrInsufficientHistory)
		s.Equal(StateTrained, model.State())

		a, err := model.Classify(s.ctx, scored(12, 0))
		s.Require().NoError(err)
		s.Equal(ClassWithinBounds, a.Classification)
	})
}

func (s *ModelSuite) TestClassify() {
	s.Run("deviation inside the interval is within bounds", func() {
		model := s.trainedModel()

		a, err := model.Classify(s.ctx, scored(12, 0.5))
		s.Require().NoError(err)
		s.Equal(ClassWithinBounds, a.Classification)
		s.InDelta(36.5, a.Observed, 1e-9)
		s.Positive(a.IntervalHalf)
	})

	s.Run("large deviation is anomalous", func() {
		model := s.trainedModel()

		a, err := model.Classify(s.ctx, scored(12, 50))
		s.Require().NoError(err)
		s.Equal(ClassAnomalous, a.Classification)
		s.Greater(a.Deviation, a.IntervalHalf)
	})

	s.Run("allowlisted deviation is expected", func() {
		allowlist, err := NewAllowlist([]AllowlistEntry{{
			PatternID:   "gst-introduction",
			FromQuarter: quarter(12),
			ToQuarter:   quarter(12),
			Explanation: "indirect tax restructure",
			ReviewedBy:  "data-steward",
			Status:      StatusActive,
		}})
		s.Require().NoError(err)
		model := s.trainedModel(WithAllowlist(allowlist))

		a, err := model.Classify(s.ctx, scored(12, 50))
		s.Require().NoError(err)
		s.Equal(ClassExpected, a.Classification)
		s.Equal("gst-introduction", a.AllowlistPattern)
	})

	s.Run("retired pattern no longer excuses the deviation", func() {
		allowlist, err := NewAllowlist([]AllowlistEntry{{
			PatternID:   "gst-introduction",
			FromQuarter: quarter(12),
			ToQuarter:   quarter(12),
			Explanation: "indirect tax restructure",
			ReviewedBy:  "data-steward",
			Status:      StatusRetired,
		}})
		s.Require().NoError(err)
		model := s.trainedModel(WithAllowlist(allowlist))

		a, err := model.Classify(s.ctx, scored(12, 50))
		s.Require().NoError(err)
		s.Equal(ClassAnomalous, a.Classification)
	})

	s.Run("missing target is unclassified", func() {
		model := s.trainedModel()

		v := scored(12, 0)
		v.HasTarget = false
		a, err := model.Classify(s.ctx, v)
		s.Require().NoError(err)
		s.Equal(ClassUnclassified, a.Classification)
	})

	s.Run("inadequate coverage is never statistically judged", func() {
		model := s.trainedModel()

		v := scored(12, 50)
		v.Insufficient = true
		a, err := model.Classify(s.ctx, v)
		s.Require().NoError(err)
		s.Equal(ClassInsufficientData, a.Classification)
	})
}

func (s *ModelSuite) TestStaleness() {
	s.Run("scoring far past the window marks the model stale but keeps serving", func() {
		model := s.trainedModel()

		a, err := model.Classify(s.ctx, scored(15, 0.5))
		s.Require().NoError(err)
		s.Equal(StateStale, model.State())
		s.Equal(ClassWithinBounds, a.Classification)
	})

	s.Run("scoring inside the horizon stays trained", func() {
		model := s.trainedModel()

		_, err := model.Classify(s.ctx, scored(13, 0.5))
		s.Require().NoError(err)
		s.Equal(StateTrained, model.State())
	})

	s.Run("operator can force staleness", func() {
		model := s.trainedModel()
		model.MarkStale("structural break confirmed")
		s.Equal(StateStale, model.State())
	})
}

func (s *ModelSuite) TestFallback() {
	s.Run("untrained without fallback is unclassified", func() {
		model, err := NewModel(testConfig())
		s.Require().NoError(err)

		a, err := model.Classify(s.ctx, scored(0, 0))
		s.Require().NoError(err)
		s.Equal(ClassUnclassified, a.Classification)
	})

	s.Run("untrained with fallback uses the fixed ratio", func() {
		cfg := testConfig()
		cfg.FallbackRatio = 0.05
		model, err := NewModel(cfg)
		s.Require().NoError(err)

		v := scored(0, 0)
		v.BalanceRatio = 0.10
		a, err := model.Classify(s.ctx, v)
		s.Require().NoError(err)
		s.Equal(ClassAnomalous, a.Classification)

		v.BalanceRatio = 0.01
		a, err = model.Classify(s.ctx, v)
		s.Require().NoError(err)
		s.Equal(ClassWithinBounds, a.Classification)
	})
}

func (s *ModelSuite) TestVectors() {
	value := func(v float64) *float64 { return &v }
	cells := []align.Cell{
		{QuarterLabel: "2024Q1", Component: dimension.ComponentSavings, Value: value(50)},
		{QuarterLabel: "2024Q1", Component: dimension.ComponentTaxation, Value: value(30)},
		{QuarterLabel: "2024Q1", Component: dimension.ComponentImports},
		{QuarterLabel: "2023Q4", Component: dimension.ComponentSavings, Value: value(48)},
	}
	results := []identity.Result{
		{QuarterLabel: "2024Q1", BalanceRatio: 0.12},
		{QuarterLabel: "2023Q4", InsufficientData: true},
	}

	vectors := Vectors(cells, results, dimension.ComponentTaxation)
	s.Require().Len(vectors, 2)

	s.Run("quarters come out chronologically", func() {
		s.Equal("2023Q4", vectors[0].QuarterLabel)
		s.Equal("2024Q1", vectors[1].QuarterLabel)
	})

	s.Run("target is split out of the predictors", func() {
		v := vectors[1]
		s.True(v.HasTarget)
		s.Equal(30.0, v.Target)
		s.Len(v.Predictors, 7)
		// Savings sits third in canonical component order.
		s.Equal(50.0, v.Predictors[2])
	})

	s.Run("missing components zero-fill", func() {
		v := vectors[1]
		// Imports had no value; its slot stays zero.
		s.Equal(0.0, v.Predictors[6])
	})

	s.Run("validation outcomes carry through", func() {
		s.True(vectors[0].Insufficient)
		s.False(vectors[0].HasTarget)
		s.InDelta(0.12, vectors[1].BalanceRatio, 1e-9)
	})
}
