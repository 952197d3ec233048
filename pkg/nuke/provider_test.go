package nuke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderCurveBulk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nuke/curve", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))

		var payload curvePayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ACME 2.5 2028", payload.Convertible)
		assert.Equal(t, 100.0, payload.AnchorCBPrice)
		assert.Len(t, payload.Inputs, 3)

		fmt.Fprint(w, `{"points": [
			{"date": "2024-03-01", "value": 100.1},
			{"date": "2024-03-04", "value": 101.3}
		]}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL, APIKey: "secret"}, quietLogger())
	curve, err := p.CurveBulk(context.Background(), curveReq())
	require.NoError(t, err)
	assert.Equal(t, 2, curve.Len())

	v, ok := curve.At(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, 101.3, v)
}

func TestHTTPProviderCurveBulkEmptyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"points": []}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL}, quietLogger())
	_, err := p.CurveBulk(context.Background(), curveReq())
	assert.Error(t, err)
}

func TestHTTPProviderCurvePoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nuke/point", r.URL.Path)

		var payload pointPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 52.0, payload.InputUdlyPrice)

		fmt.Fprint(w, `{"value": 101.05}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL}, quietLogger())
	v, err := p.CurvePoint(context.Background(), PointRequest{
		Convertible:     "ACME 2.5 2028",
		AnchorCBPrice:   100,
		AnchorUdlyPrice: 50,
		InputUdlyPrice:  52,
	})
	require.NoError(t, err)
	assert.Equal(t, 101.05, v)
}

func TestHTTPProviderServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model blew up", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{BaseURL: srv.URL}, quietLogger())
	_, err := p.CurveBulk(context.Background(), curveReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model blew up")
}
