package dollarneutral

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallisward/convdn/pkg/models"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func series(vals map[string]float64) *models.TimeSeries {
	ts := models.NewTimeSeries()
	for d, v := range vals {
		ts.Set(day(d), v)
	}
	return ts
}

// fixture: four dates, delta at d1 = 0.6
//
//	nuke = [100, 101.2, 99.4, 101.8]
//	dn   = [0, -0.2, 0.4, -0.2]
func fixtureInput() Input {
	return Input{
		CBClose: series(map[string]float64{
			"2024-03-01": 100, "2024-03-04": 101, "2024-03-05": 99, "2024-03-06": 102,
		}),
		UdlyClose: series(map[string]float64{
			"2024-03-01": 50, "2024-03-04": 52, "2024-03-05": 49, "2024-03-06": 53,
		}),
		Delta: series(map[string]float64{
			"2024-03-01": 0.6, "2024-03-04": 0.61, "2024-03-05": 0.59, "2024-03-06": 0.62,
		}),
		Method: models.MethodDelta,
	}
}

func TestComputeLinearFormula(t *testing.T) {
	table, err := Compute(fixtureInput())
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)

	wantNuke := []float64{100, 101.2, 99.4, 101.8}
	wantDN := []float64{0, -0.2, 0.4, -0.2}
	for i, row := range table.Rows {
		assert.InDelta(t, wantNuke[i], row.Nuke, 1e-12, "nuke at %s", row.Date)
		assert.InDelta(t, wantDN[i], row.DN, 1e-12, "dn at %s", row.Date)
	}
	assert.Equal(t, day("2024-03-01"), table.Anchor.Date)
	assert.Equal(t, 100.0, table.Anchor.CBPrice)
	assert.Equal(t, 50.0, table.Anchor.UdlyPrice)
	assert.Equal(t, 0.6, table.Anchor.Delta)
}

func TestComputeAlignmentDropsIncompleteDates(t *testing.T) {
	in := fixtureInput()
	// delta missing on 03-05, underlying missing on 03-06
	in.Delta = series(map[string]float64{
		"2024-03-01": 0.6, "2024-03-04": 0.61, "2024-03-06": 0.62,
	})
	in.UdlyClose = series(map[string]float64{
		"2024-03-01": 50, "2024-03-04": 52, "2024-03-05": 49,
	})

	table, err := Compute(in)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, day("2024-03-01"), table.Rows[0].Date)
	assert.Equal(t, day("2024-03-04"), table.Rows[1].Date)
}

func TestComputeNaNMarksMissingObservation(t *testing.T) {
	in := fixtureInput()
	in.CBClose.Set(day("2024-03-04"), math.NaN())

	table, err := Compute(in)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	_, ok := table.Row(day("2024-03-04"))
	assert.False(t, ok)
}

func TestComputeOutputSortedAscending(t *testing.T) {
	in := fixtureInput()
	// insertion order scrambled relative to calendar order
	in.CBClose = models.NewTimeSeries()
	for _, p := range []struct {
		d string
		v float64
	}{{"2024-03-06", 102}, {"2024-03-01", 100}, {"2024-03-05", 99}, {"2024-03-04", 101}} {
		in.CBClose.Set(day(p.d), p.v)
	}

	table, err := Compute(in)
	require.NoError(t, err)
	for i := 1; i < len(table.Rows); i++ {
		assert.True(t, table.Rows[i-1].Date.Before(table.Rows[i].Date))
	}
	assert.Equal(t, day("2024-03-01"), table.Anchor.Date)
}

func TestComputeAnchorDefaultIsFirstDate(t *testing.T) {
	table, err := Compute(fixtureInput())
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-01"), table.Anchor.Date)
}

func TestComputeAnchorExactMatch(t *testing.T) {
	in := fixtureInput()
	anchor := day("2024-03-05")
	in.AnchorDate = &anchor

	table, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-05"), table.Anchor.Date)
	assert.Equal(t, 99.0, table.Anchor.CBPrice)

	row, ok := table.Row(day("2024-03-05"))
	require.True(t, ok)
	assert.Zero(t, row.DN)
}

func TestComputeAnchorSnapsToNextAvailableDate(t *testing.T) {
	in := fixtureInput()
	anchor := day("2024-03-02") // weekend gap, next aligned date is 03-04
	in.AnchorDate = &anchor

	table, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-04"), table.Anchor.Date)
}

func TestComputeAnchorAfterLastDate(t *testing.T) {
	in := fixtureInput()
	anchor := day("2024-03-07")
	in.AnchorDate = &anchor

	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrAnchorOutOfRange)
}

func TestComputeZeroResidualAtAnchor(t *testing.T) {
	override := 1.25
	cases := map[string]func(in *Input){
		"default delta":    func(in *Input) {},
		"delta override":   func(in *Input) { in.DeltaOverride = &override },
		"oldest delta":     func(in *Input) { in.UseOldestDelta = true },
		"non-first anchor": func(in *Input) { a := day("2024-03-05"); in.AnchorDate = &a },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := fixtureInput()
			mutate(&in)
			table, err := Compute(in)
			require.NoError(t, err)
			row, ok := table.Row(table.Anchor.Date)
			require.True(t, ok)
			assert.Zero(t, row.DN)
		})
	}
}

func TestComputeDeltaOverridePrecedence(t *testing.T) {
	in := fixtureInput()
	override := 0.42
	in.DeltaOverride = &override
	in.UseOldestDelta = true

	table, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 0.42, table.Anchor.Delta)
}

func TestComputeUseOldestDelta(t *testing.T) {
	in := fixtureInput()
	anchor := day("2024-03-05")
	in.AnchorDate = &anchor
	in.UseOldestDelta = true

	table, err := Compute(in)
	require.NoError(t, err)
	// delta from the earliest aligned date, not from the anchor
	assert.Equal(t, 0.6, table.Anchor.Delta)

	// residual at the anchor stays zero regardless of the delta source
	row, _ := table.Row(anchor)
	assert.Zero(t, row.DN)
}

func TestComputeExternalNukePassthrough(t *testing.T) {
	in := fixtureInput()
	in.Method = models.MethodExternalNuke
	in.NukeSeries = series(map[string]float64{
		"2024-03-01": 100.5, "2024-03-05": 99.9,
	})

	table, err := Compute(in)
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)

	covered, _ := table.Row(day("2024-03-01"))
	assert.Equal(t, 100.5, covered.Nuke)
	assert.InDelta(t, 0.5, covered.DN, 1e-12)

	covered, _ = table.Row(day("2024-03-05"))
	assert.Equal(t, 99.9, covered.Nuke)
	assert.InDelta(t, 0.9, covered.DN, 1e-12)

	// uncovered dates keep their row with undefined nuke and dn
	uncovered, ok := table.Row(day("2024-03-04"))
	require.True(t, ok)
	assert.False(t, uncovered.HasNuke())
	assert.True(t, math.IsNaN(uncovered.DN))
}

func TestComputeEmptyOverlap(t *testing.T) {
	in := fixtureInput()
	in.Delta = series(map[string]float64{"2024-04-01": 0.6})

	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrEmptyOverlap)
}

func TestComputeUnsupportedMethod(t *testing.T) {
	in := fixtureInput()
	in.Method = models.Method("gamma")

	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestComputeMissingNukeSeries(t *testing.T) {
	in := fixtureInput()
	in.Method = models.MethodExternalNuke
	in.NukeSeries = nil

	_, err := Compute(in)
	assert.ErrorIs(t, err, ErrMissingNukeSeries)
}

func TestComputeDoesNotMutateInputs(t *testing.T) {
	in := fixtureInput()
	before := in.CBClose.Points()

	_, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, before, in.CBClose.Points())
}
