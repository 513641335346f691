package dimension

import (
	"fmt"
	"time"
)

// TimeKey is one row of the time dimension: a single calendar date with its
// derived quarter attributes.
type TimeKey struct {
	Date         time.Time
	Year         int
	Quarter      int
	Month        time.Month
	IsQuarterEnd bool
	IsMonthEnd   bool
	QuarterLabel string
}

// Calendar holds exactly one TimeKey per calendar date in the modeled range.
// It is built once at startup and never mutated.
type Calendar struct {
	start time.Time
	end   time.Time
	keys  map[string]TimeKey
}

// NewCalendar populates the time dimension for [start, end] inclusive.
func NewCalendar(start, end time.Time) (*Calendar, error) {
	start = midnightUTC(start)
	end = midnightUTC(end)
	if end.Before(start) {
		return nil, fmt.Errorf("calendar end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	cal := &Calendar{start: start, end: end, keys: make(map[string]TimeKey)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := TimeKey{
			Date:         d,
			Year:         d.Year(),
			Quarter:      quarterOf(d.Month()),
			Month:        d.Month(),
			IsMonthEnd:   d.AddDate(0, 0, 1).Month() != d.Month(),
			QuarterLabel: QuarterLabel(d),
		}
		key.IsQuarterEnd = key.IsMonthEnd && d.Month() == lastMonthOfQuarter(key.Quarter)
		cal.keys[d.Format(time.DateOnly)] = key
	}
	return cal, nil
}

// Lookup returns the TimeKey for a date, or ok=false when the date falls
// outside the populated range.
func (c *Calendar) Lookup(d time.Time) (TimeKey, bool) {
	key, ok := c.keys[midnightUTC(d).Format(time.DateOnly)]
	return key, ok
}

// Start returns the first populated date.
func (c *Calendar) Start() time.Time { return c.start }

// End returns the last populated date.
func (c *Calendar) End() time.Time { return c.end }

// Quarters returns the labels of every quarter touched by the calendar range,
// in chronological order.
func (c *Calendar) Quarters() []string {
	var labels []string
	seen := make(map[string]struct{})
	for d := c.start; !d.After(c.end); d = d.AddDate(0, 1, 0) {
		label := QuarterLabel(d)
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			labels = append(labels, label)
		}
	}
	// The monthly stride can overshoot short months; make sure the final
	// quarter is present.
	last := QuarterLabel(c.end)
	if _, ok := seen[last]; !ok {
		labels = append(labels, last)
	}
	return labels
}

// QuarterLabel formats the quarter containing d as e.g. "2024Q3".
func QuarterLabel(d time.Time) string {
	return fmt.Sprintf("%04dQ%d", d.Year(), quarterOf(d.Month()))
}

func quarterOf(m time.Month) int {
	return (int(m)-1)/3 + 1
}

func lastMonthOfQuarter(q int) time.Month {
	return time.Month(q * 3)
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
