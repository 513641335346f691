package reconcile

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"circflow/internal/dimension"
)

type AllowlistSuite struct {
	suite.Suite
}

func TestAllowlistSuite(t *testing.T) {
	suite.Run(t, new(AllowlistSuite))
}

func entry(id, from, to string, status AllowlistStatus) AllowlistEntry {
	return AllowlistEntry{
		PatternID:   id,
		FromQuarter: from,
		ToQuarter:   to,
		Explanation: "reviewed deviation",
		ReviewedBy:  "data-steward",
		Status:      status,
	}
}

func (s *AllowlistSuite) TestNewAllowlist() {
	s.Run("valid entries accepted", func() {
		a, err := NewAllowlist([]AllowlistEntry{
			entry("p1", "2020Q1", "2020Q4", StatusActive),
			entry("p2", "2021Q1", "", StatusProposed),
		})
		s.Require().NoError(err)
		s.NotNil(a)
	})

	s.Run("empty pattern id rejected", func() {
		_, err := NewAllowlist([]AllowlistEntry{entry("", "2020Q1", "2020Q4", StatusActive)})
		s.Error(err)
	})

	s.Run("duplicate pattern id rejected", func() {
		_, err := NewAllowlist([]AllowlistEntry{
			entry("p1", "2020Q1", "2020Q4", StatusActive),
			entry("p1", "2021Q1", "2021Q4", StatusActive),
		})
		s.Error(err)
	})

	s.Run("unknown status rejected", func() {
		_, err := NewAllowlist([]AllowlistEntry{entry("p1", "2020Q1", "2020Q4", "archived")})
		s.Error(err)
	})

	s.Run("unknown component rejected", func() {
		e := entry("p1", "2020Q1", "2020Q4", StatusActive)
		e.Component = dimension.Component("Z")
		_, err := NewAllowlist([]AllowlistEntry{e})
		s.Error(err)
	})
}

func (s *AllowlistSuite) TestMatch() {
	a, err := NewAllowlist([]AllowlistEntry{
		entry("active", "2020Q1", "2020Q4", StatusActive),
		entry("proposed", "2021Q1", "2021Q4", StatusProposed),
		entry("retired", "2022Q1", "2022Q4", StatusRetired),
		entry("open-ended", "2023Q1", "", StatusActive),
	})
	s.Require().NoError(err)

	s.Run("active entry covering the quarter matches", func() {
		e, ok := a.Match("2020Q2")
		s.Require().True(ok)
		s.Equal("active", e.PatternID)
	})

	s.Run("quarter outside the range misses", func() {
		_, ok := a.Match("2019Q4")
		s.False(ok)
	})

	s.Run("proposed and retired entries never match", func() {
		_, ok := a.Match("2021Q2")
		s.False(ok)
		_, ok = a.Match("2022Q2")
		s.False(ok)
	})

	s.Run("open-ended range extends forward", func() {
		e, ok := a.Match("2025Q3")
		s.Require().True(ok)
		s.Equal("open-ended", e.PatternID)
	})

	s.Run("nil allowlist matches nothing", func() {
		var none *Allowlist
		_, ok := none.Match("2020Q2")
		s.False(ok)
	})
}

func (s *AllowlistSuite) TestStructuralBreak() {
	breakEntry := entry("break", "2021Q3", "2021Q3", StatusActive)
	breakEntry.StructuralBreak = true
	a, err := NewAllowlist([]AllowlistEntry{
		breakEntry,
		entry("plain", "2020Q1", "2020Q4", StatusActive),
	})
	s.Require().NoError(err)

	s.Run("window spanning the break is flagged", func() {
		s.True(a.HasStructuralBreak("2020Q1", "2022Q4"))
	})

	s.Run("window before the break is clean", func() {
		s.False(a.HasStructuralBreak("2019Q1", "2021Q2"))
	})

	s.Run("plain entries are not breaks", func() {
		s.False(a.HasStructuralBreak("2020Q1", "2020Q4"))
	})

	s.Run("nil allowlist has no breaks", func() {
		var none *Allowlist
		s.False(none.HasStructuralBreak("2000Q1", "2030Q4"))
	})
}
