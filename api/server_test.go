package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallisward/convdn/pkg/marketdata"
	"github.com/tallisward/convdn/pkg/models"
	"github.com/tallisward/convdn/pkg/monitor"
)

type fakeData struct {
	series map[string]*models.TimeSeries
}

func (f *fakeData) FetchSeries(_ context.Context, security, field string, _, _ time.Time, _ marketdata.Frequency) (*models.TimeSeries, error) {
	ts, ok := f.series[security+"/"+field]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", marketdata.ErrNoData, security, field)
	}
	return ts, nil
}

func (f *fakeData) DeriveUnderlying(_ context.Context, _ string) (string, error) {
	return "EQ", nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func testServer(data *fakeData) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := monitor.New(monitor.Options{Data: data, Logger: logger})
	return NewServer(m, logger, "0")
}

func workingData() *fakeData {
	mk := func(vals map[string]float64) *models.TimeSeries {
		ts := models.NewTimeSeries()
		for d, v := range vals {
			ts.Set(day(d), v)
		}
		return ts
	}
	return &fakeData{series: map[string]*models.TimeSeries{
		"CB/px_last":  mk(map[string]float64{"2024-03-01": 100, "2024-03-04": 101}),
		"EQ/px_last":  mk(map[string]float64{"2024-03-01": 50, "2024-03-04": 52}),
		"CB/ud_delta": mk(map[string]float64{"2024-03-01": 0.6, "2024-03-04": 0.61}),
	}}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(workingData())
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHandleCompute(t *testing.T) {
	s := testServer(workingData())

	body := `{"convertible": "CB", "start": "2024-03-01T00:00:00Z", "end": "2024-03-04T00:00:00Z", "method": "delta"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dn/compute", strings.NewReader(body))
	s.handleCompute(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Underlying string `json:"underlying"`
		FellBack   bool   `json:"fell_back"`
		Table      struct {
			Rows []map[string]interface{} `json:"rows"`
		} `json:"table"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "EQ", result.Underlying)
	assert.False(t, result.FellBack)
	require.Len(t, result.Table.Rows, 2)
	assert.Equal(t, "2024-03-01", result.Table.Rows[0]["date"])
}

func TestHandleComputeMethodRejected(t *testing.T) {
	s := testServer(workingData())

	body := `{"convertible": "CB", "start": "2024-03-01T00:00:00Z", "end": "2024-03-04T00:00:00Z", "method": "gamma"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dn/compute", strings.NewReader(body))
	s.handleCompute(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleComputeEmptyOverlap(t *testing.T) {
	data := workingData()
	mk := models.NewTimeSeries()
	mk.Set(day("2024-06-03"), 0.6)
	data.series["CB/ud_delta"] = mk
	s := testServer(data)

	body := `{"convertible": "CB", "start": "2024-03-01T00:00:00Z", "end": "2024-03-04T00:00:00Z", "method": "delta"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dn/compute", strings.NewReader(body))
	s.handleCompute(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleComputeUpstreamFailure(t *testing.T) {
	s := testServer(&fakeData{series: map[string]*models.TimeSeries{}})

	body := `{"convertible": "CB", "start": "2024-03-01T00:00:00Z", "end": "2024-03-04T00:00:00Z", "method": "delta"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dn/compute", strings.NewReader(body))
	s.handleCompute(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleComputeRejectsGet(t *testing.T) {
	s := testServer(workingData())
	rec := httptest.NewRecorder()
	s.handleCompute(rec, httptest.NewRequest(http.MethodGet, "/api/dn/compute", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSnapshotsEmpty(t *testing.T) {
	s := testServer(workingData())
	rec := httptest.NewRecorder()
	s.handleSnapshots(rec, httptest.NewRequest(http.MethodGet, "/api/dn/snapshots", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
