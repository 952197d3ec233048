package models

import (
	"encoding/json"
	"math"
	"time"
)

// Method selects how the synthetic (nuke) reprice curve is built.
type Method string

const (
	// MethodDelta builds the curve from the closed-form linear reprice
	// using the anchor delta as hedge ratio.
	MethodDelta Method = "delta"
	// MethodExternalNuke takes the curve verbatim from an externally
	// computed series.
	MethodExternalNuke Method = "external_nuke"
)

// Row is one dated line of a dollar-neutral table. Nuke and DN are NaN
// on dates an external curve does not cover.
type Row struct {
	Date      time.Time `json:"date"`
	CBClose   float64   `json:"cb_close"`
	UdlyClose float64   `json:"udly_close"`
	Delta     float64   `json:"ud_delta"`
	Nuke      float64   `json:"nuke"`
	DN        float64   `json:"dn"`
}

// HasNuke reports whether the synthetic reprice is defined on this date.
func (r Row) HasNuke() bool {
	return !math.IsNaN(r.Nuke)
}

// MarshalJSON encodes undefined nuke/dn values as null; encoding/json
// rejects NaN outright.
func (r Row) MarshalJSON() ([]byte, error) {
	out := struct {
		Date      string   `json:"date"`
		CBClose   float64  `json:"cb_close"`
		UdlyClose float64  `json:"udly_close"`
		Delta     float64  `json:"ud_delta"`
		Nuke      *float64 `json:"nuke"`
		DN        *float64 `json:"dn"`
	}{
		Date:      r.Date.Format("2006-01-02"),
		CBClose:   r.CBClose,
		UdlyClose: r.UdlyClose,
		Delta:     r.Delta,
	}
	if r.HasNuke() {
		nuke, dn := r.Nuke, r.DN
		out.Nuke = &nuke
		out.DN = &dn
	}
	return json.Marshal(out)
}

// Anchor carries the values read at the anchor date T0.
type Anchor struct {
	Date      time.Time `json:"date"`
	CBPrice   float64   `json:"cb_price"`
	UdlyPrice float64   `json:"udly_price"`
	Delta     float64   `json:"delta"`
}

// Table is the output of a dollar-neutral computation: the aligned base
// columns plus the nuke and dn columns, in ascending date order.
type Table struct {
	Rows   []Row  `json:"rows"`
	Anchor Anchor `json:"anchor"`
	Method Method `json:"method"`
}

// Row returns the row for the given date, or false when absent.
func (t *Table) Row(date time.Time) (Row, bool) {
	d := Date(date)
	for _, r := range t.Rows {
		if r.Date.Equal(d) {
			return r, true
		}
	}
	return Row{}, false
}

// DNSeries extracts the dn column as a series. Uncovered dates carry NaN.
func (t *Table) DNSeries() *TimeSeries {
	ts := NewTimeSeries()
	for _, r := range t.Rows {
		ts.Set(r.Date, r.DN)
	}
	return ts
}

// UdlySeries extracts the underlying close column as a series.
func (t *Table) UdlySeries() *TimeSeries {
	ts := NewTimeSeries()
	for _, r := range t.Rows {
		ts.Set(r.Date, r.UdlyClose)
	}
	return ts
}

// SeriesBundle is the fetched input set for one convertible: its own
// closes, the underlying equity closes and the delta sensitivity.
type SeriesBundle struct {
	Convertible string
	Underlying  string
	CBClose     *TimeSeries
	UdlyClose   *TimeSeries
	Delta       *TimeSeries
}

// Snapshot is a live intraday dollar-neutral observation built from the
// last computed anchor and streaming prints.
type Snapshot struct {
	Convertible string    `json:"convertible"`
	Underlying  string    `json:"underlying"`
	CBPrice     float64   `json:"cb_price"`
	UdlyPrice   float64   `json:"udly_price"`
	Nuke        float64   `json:"nuke"`
	DN          float64   `json:"dn"`
	Timestamp   time.Time `json:"timestamp"`
}
