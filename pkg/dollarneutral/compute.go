// Package dollarneutral computes the dollar-neutral (DN) residual time
// series for a convertible bond hedged against its underlying equity.
//
// Given daily closes for the convertible and the underlying plus the
// convertible's delta, it builds a synthetic hedge-replicated price
// ("nuke") per date and the residual dn = nuke - cb_close. With the
// delta method the curve is the closed-form linear reprice
//
//	nuke(t) = CB(T0) + D0 * (U(t) - U(T0))
//
// anchored at T0; with the external-nuke method the curve is supplied
// by the caller. The residual isolates basis behavior not explained by
// a linear delta hedge.
package dollarneutral

import (
	"fmt"
	"math"
	"time"

	"github.com/tallisward/convdn/pkg/models"
)

// Input is the full argument set for one computation. The three series
// need not share a date set or ordering on entry.
type Input struct {
	CBClose   *models.TimeSeries
	UdlyClose *models.TimeSeries
	Delta     *models.TimeSeries

	// AnchorDate pins T0 explicitly. Nil means the earliest aligned
	// date. A date absent from the aligned index snaps forward to the
	// next available one.
	AnchorDate *time.Time

	Method models.Method

	// NukeSeries is the externally computed curve. Required for
	// MethodExternalNuke, ignored otherwise.
	NukeSeries *models.TimeSeries

	// DeltaOverride fixes D0 instead of reading it from data. Takes
	// precedence over UseOldestDelta.
	DeltaOverride *float64

	// UseOldestDelta reads D0 from the earliest aligned date rather
	// than from the anchor date.
	UseOldestDelta bool
}

// Compute aligns the three input series, resolves the anchor, builds
// the nuke curve for the selected method and returns the full table.
// It allocates fresh output and never mutates its inputs, so it is
// safe to call concurrently.
func Compute(in Input) (*models.Table, error) {
	if in.Method != models.MethodDelta && in.Method != models.MethodExternalNuke {
		return nil, fmt.Errorf("%w: %q (use %q or %q)",
			ErrUnsupportedMethod, in.Method, models.MethodDelta, models.MethodExternalNuke)
	}
	if in.Method == models.MethodExternalNuke && in.NukeSeries == nil {
		return nil, ErrMissingNukeSeries
	}
	if in.CBClose == nil || in.UdlyClose == nil || in.Delta == nil {
		return nil, ErrEmptyOverlap
	}

	dates := alignedDates(in.CBClose, in.UdlyClose, in.Delta)
	if len(dates) == 0 {
		return nil, ErrEmptyOverlap
	}

	t0, err := resolveAnchor(dates, in.AnchorDate)
	if err != nil {
		return nil, err
	}

	cb0, _ := in.CBClose.At(t0)
	u0, _ := in.UdlyClose.At(t0)

	var d0 float64
	switch {
	case in.DeltaOverride != nil:
		d0 = *in.DeltaOverride
	case in.UseOldestDelta:
		d0, _ = in.Delta.At(dates[0])
	default:
		d0, _ = in.Delta.At(t0)
	}

	rows := make([]models.Row, 0, len(dates))
	for _, d := range dates {
		cb, _ := in.CBClose.At(d)
		u, _ := in.UdlyClose.At(d)
		delta, _ := in.Delta.At(d)

		var nuke float64
		if in.Method == models.MethodExternalNuke {
			if v, ok := in.NukeSeries.At(d); ok {
				nuke = v
			} else {
				nuke = math.NaN()
			}
		} else {
			nuke = cb0 + d0*(u-u0)
		}

		rows = append(rows, models.Row{
			Date:      d,
			CBClose:   cb,
			UdlyClose: u,
			Delta:     delta,
			Nuke:      nuke,
			DN:        nuke - cb,
		})
	}

	return &models.Table{
		Rows: rows,
		Anchor: models.Anchor{
			Date:      t0,
			CBPrice:   cb0,
			UdlyPrice: u0,
			Delta:     d0,
		},
		Method: in.Method,
	}, nil
}

// alignedDates returns the ascending intersection of the three series,
// keeping only dates on which every series has a value.
func alignedDates(cb, udly, delta *models.TimeSeries) []time.Time {
	out := make([]time.Time, 0, cb.Len())
	for _, d := range cb.Dates() {
		if _, ok := cb.At(d); !ok {
			continue
		}
		if _, ok := udly.At(d); !ok {
			continue
		}
		if _, ok := delta.At(d); !ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// resolveAnchor picks T0 from the aligned index: the first date when no
// anchor was requested, the exact date when present, otherwise the next
// available date on or after the request.
func resolveAnchor(dates []time.Time, anchor *time.Time) (time.Time, error) {
	if anchor == nil {
		return dates[0], nil
	}
	want := models.Date(*anchor)
	for _, d := range dates {
		if !d.Before(want) {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: requested %s, last available %s",
		ErrAnchorOutOfRange, want.Format("2006-01-02"), dates[len(dates)-1].Format("2006-01-02"))
}
