package dimension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CalendarSuite struct {
	suite.Suite
	cal *Calendar
}

func TestCalendarSuite(t *testing.T) {
	suite.Run(t, new(CalendarSuite))
}

func (s *CalendarSuite) SetupTest() {
	cal, err := NewCalendar(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	)
	s.Require().NoError(err)
	s.cal = cal
}

func (s *CalendarSuite) TestLookup() {
	s.Run("mid-quarter date", func() {
		key, ok := s.cal.Lookup(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
		s.Require().True(ok)
		s.Equal(2024, key.Year)
		s.Equal(2, key.Quarter)
		s.Equal("2024Q2", key.QuarterLabel)
		s.False(key.IsMonthEnd)
		s.False(key.IsQuarterEnd)
	})

	s.Run("quarter end", func() {
		key, ok := s.cal.Lookup(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
		s.Require().True(ok)
		s.True(key.IsMonthEnd)
		s.True(key.IsQuarterEnd)
	})

	s.Run("month end inside quarter is not quarter end", func() {
		key, ok := s.cal.Lookup(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC))
		s.Require().True(ok)
		s.True(key.IsMonthEnd)
		s.False(key.IsQuarterEnd)
	})

	s.Run("leap day", func() {
		key, ok := s.cal.Lookup(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
		s.Require().True(ok)
		s.True(key.IsMonthEnd)
		s.False(key.IsQuarterEnd)
	})

	s.Run("date outside range misses", func() {
		_, ok := s.cal.Lookup(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		s.False(ok)
	})

	s.Run("time of day is ignored", func() {
		key, ok := s.cal.Lookup(time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC))
		s.Require().True(ok)
		s.True(key.IsQuarterEnd)
	})
}

func (s *CalendarSuite) TestQuarters() {
	s.Run("full year yields four quarters in order", func() {
		s.Equal([]string{"2024Q1", "2024Q2", "2024Q3", "2024Q4"}, s.cal.Quarters())
	})

	s.Run("partial range includes trailing quarter", func() {
		cal, err := NewCalendar(
			time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		)
		s.Require().NoError(err)
		s.Equal([]string{"2024Q4", "2025Q1"}, cal.Quarters())
	})
}

func (s *CalendarSuite) TestNewCalendar() {
	s.Run("end before start rejected", func() {
		_, err := NewCalendar(
			time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		)
		s.Error(err)
	})
}
