package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return &Table{
		Rows: []Row{
			{Date: d1, CBClose: 100, UdlyClose: 50, Delta: 0.6, Nuke: 100, DN: 0},
			{Date: d2, CBClose: 101, UdlyClose: 52, Delta: 0.61, Nuke: math.NaN(), DN: math.NaN()},
		},
		Anchor: Anchor{Date: d1, CBPrice: 100, UdlyPrice: 50, Delta: 0.6},
		Method: MethodExternalNuke,
	}
}

func TestRowMarshalJSONMissingAsNull(t *testing.T) {
	data, err := json.Marshal(sampleTable())
	require.NoError(t, err)

	var decoded struct {
		Rows []struct {
			Date string   `json:"date"`
			Nuke *float64 `json:"nuke"`
			DN   *float64 `json:"dn"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Rows, 2)

	require.NotNil(t, decoded.Rows[0].Nuke)
	assert.Equal(t, 100.0, *decoded.Rows[0].Nuke)
	assert.Equal(t, "2024-03-01", decoded.Rows[0].Date)

	assert.Nil(t, decoded.Rows[1].Nuke)
	assert.Nil(t, decoded.Rows[1].DN)
}

func TestTableRowLookup(t *testing.T) {
	table := sampleTable()

	row, ok := table.Row(time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC))
	require.True(t, ok, "lookup normalizes to the calendar date")
	assert.Equal(t, 101.0, row.CBClose)

	_, ok = table.Row(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestTableSeriesExtraction(t *testing.T) {
	table := sampleTable()

	udly := table.UdlySeries()
	assert.Equal(t, 2, udly.Len())
	v, ok := udly.At(table.Rows[1].Date)
	assert.True(t, ok)
	assert.Equal(t, 52.0, v)

	dn := table.DNSeries()
	assert.Equal(t, 2, dn.Len())
	_, ok = dn.At(table.Rows[1].Date)
	assert.False(t, ok, "undefined dn stays missing in the extracted series")
}
