package models

import (
	"math"
	"sort"
	"time"
)

// Point is a single dated observation.
type Point struct {
	Date  time.Time
	Value float64
}

// TimeSeries is an ordered mapping from calendar date to a value.
// Dates are normalized to UTC midnight so that keys compare exactly
// regardless of the wall-clock time the caller attached. A NaN value
// marks a missing observation.
type TimeSeries struct {
	values map[time.Time]float64
	dates  []time.Time
	sorted bool
}

// Date truncates t to UTC midnight.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewTimeSeries returns an empty series.
func NewTimeSeries() *TimeSeries {
	return &TimeSeries{values: make(map[time.Time]float64)}
}

// SeriesFromPoints builds a series from dated observations. Later
// duplicates overwrite earlier ones.
func SeriesFromPoints(points []Point) *TimeSeries {
	ts := NewTimeSeries()
	for _, p := range points {
		ts.Set(p.Date, p.Value)
	}
	return ts
}

// Set records an observation, replacing any value already present for
// the same calendar date.
func (ts *TimeSeries) Set(date time.Time, value float64) {
	d := Date(date)
	if _, exists := ts.values[d]; !exists {
		ts.dates = append(ts.dates, d)
		ts.sorted = false
	}
	ts.values[d] = value
}

// At returns the value for the given date. The second return is false
// when the date is absent or the stored value is NaN.
func (ts *TimeSeries) At(date time.Time) (float64, bool) {
	v, ok := ts.values[Date(date)]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Len returns the number of dates in the series, missing values included.
func (ts *TimeSeries) Len() int {
	return len(ts.dates)
}

// Dates returns all dates in ascending order.
func (ts *TimeSeries) Dates() []time.Time {
	ts.ensureSorted()
	out := make([]time.Time, len(ts.dates))
	copy(out, ts.dates)
	return out
}

// First returns the earliest date, or false when the series is empty.
func (ts *TimeSeries) First() (time.Time, bool) {
	if len(ts.dates) == 0 {
		return time.Time{}, false
	}
	ts.ensureSorted()
	return ts.dates[0], true
}

// Last returns the latest date, or false when the series is empty.
func (ts *TimeSeries) Last() (time.Time, bool) {
	if len(ts.dates) == 0 {
		return time.Time{}, false
	}
	ts.ensureSorted()
	return ts.dates[len(ts.dates)-1], true
}

// Points returns the observations in ascending date order, missing
// values included as NaN.
func (ts *TimeSeries) Points() []Point {
	ts.ensureSorted()
	out := make([]Point, 0, len(ts.dates))
	for _, d := range ts.dates {
		out = append(out, Point{Date: d, Value: ts.values[d]})
	}
	return out
}

func (ts *TimeSeries) ensureSorted() {
	if ts.sorted {
		return
	}
	sort.Slice(ts.dates, func(i, j int) bool { return ts.dates[i].Before(ts.dates[j]) })
	ts.sorted = true
}
