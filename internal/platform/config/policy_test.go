package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type PolicySuite struct {
	suite.Suite
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

const validPolicy = `
version: 1
calendar:
  start: "1959-09-01"
  end: "2026-12-31"
sources:
  - code: RBA
    name: Reserve Bank of Australia
  - code: ABS
    name: Australian Bureau of Statistics
measurements:
  - unit_type: $ Millions
    price_basis: Current Prices
    adjustment_type: Seasonally adjusted
series_roles:
  - series_id: GGDPCVGDP
    component: Y
    is_primary: true
  - series_id: A2302254W
    component: C
    is_primary: true
    nature: level
aggregation:
  S: LAST
unit_ranges:
  Percent:
    min: -50
    max: 50
model:
  target: T
  window_quarters: 40
  min_quarters: 30
  confidence: 0.95
  latent_components: 2
  stale_after_quarters: 4
allowlist:
  - pattern_id: gst-introduction
    component: T
    from_quarter: 2000Q3
    to_quarter: 2001Q2
    explanation: GST replaced several indirect taxes
    reviewed_by: data-steward
    status: active
    structural_break: true
`

func (s *PolicySuite) load(content string) (*Policy, error) {
	path := filepath.Join(s.T().TempDir(), "policy.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return LoadPolicy(path)
}

func (s *PolicySuite) TestLoadPolicy() {
	s.Run("full document round-trips", func() {
		policy, err := s.load(validPolicy)
		s.Require().NoError(err)

		s.Equal(1, policy.Version)
		s.Equal("1959-09-01", policy.Calendar.Start)
		s.Len(policy.Sources, 2)
		s.Len(policy.SeriesRoles, 2)
		s.Equal("Y", policy.SeriesRoles[0].Component)
		s.True(policy.SeriesRoles[0].IsPrimary)
		s.Equal("LAST", policy.Aggregation["S"])
		s.Equal(-50.0, policy.UnitRanges["Percent"].Min)
		s.Equal("T", policy.Model.Target)
		s.Equal(40, policy.Model.WindowQuarters)
		s.Require().Len(policy.Allowlist, 1)
		s.True(policy.Allowlist[0].StructuralBreak)
		s.Equal("active", policy.Allowlist[0].Status)
	})

	s.Run("missing file", func() {
		_, err := LoadPolicy(filepath.Join(s.T().TempDir(), "absent.yaml"))
		s.Error(err)
	})

	s.Run("malformed yaml", func() {
		_, err := s.load("version: [unclosed")
		s.Error(err)
	})

	s.Run("missing calendar rejected", func() {
		_, err := s.load("version: 1\nseries_roles:\n  - series_id: A\n    component: Y\nmodel:\n  target: T\n")
		s.Error(err)
	})

	s.Run("missing model target rejected", func() {
		_, err := s.load("version: 1\ncalendar:\n  start: \"2020-01-01\"\n  end: \"2020-12-31\"\nseries_roles:\n  - series_id: A\n    component: Y\n")
		s.Error(err)
	})

	s.Run("no series roles rejected", func() {
		_, err := s.load("version: 1\ncalendar:\n  start: \"2020-01-01\"\n  end: \"2020-12-31\"\nmodel:\n  target: T\n")
		s.Error(err)
	})
}
