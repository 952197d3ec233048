// Package nuke wraps the external pricing service that computes the
// synthetic ("nuke") reprice curve. The curve computation itself is
// opaque: this package only transports anchor parameters and per-date
// underlying prices to the service and hands back a date-indexed
// series. All retry and fallback policy lives here, outside the
// computation engine.
package nuke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallisward/convdn/pkg/models"
)

// CurveRequest asks for the full curve over the dates of UdlyClose.
type CurveRequest struct {
	Convertible     string
	AnchorCBPrice   float64
	AnchorUdlyPrice float64
	UdlyClose       *models.TimeSeries
}

// PointRequest asks for the synthetic price for a single underlying
// print.
type PointRequest struct {
	Convertible     string
	AnchorCBPrice   float64
	AnchorUdlyPrice float64
	InputUdlyPrice  float64
}

// Provider computes synthetic reprice values on the external service.
type Provider interface {
	CurveBulk(ctx context.Context, req CurveRequest) (*models.TimeSeries, error)
	CurvePoint(ctx context.Context, req PointRequest) (float64, error)
}

// ProviderConfig configures the HTTP provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider is the production Provider backed by the pricing
// service's REST API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPProvider(cfg ProviderConfig, logger *logrus.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type curvePayload struct {
	Convertible     string       `json:"convertible"`
	AnchorCBPrice   float64      `json:"anchor_cb_price"`
	AnchorUdlyPrice float64      `json:"anchor_udly_price"`
	Inputs          []curvePoint `json:"inputs"`
}

type curvePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type curveResult struct {
	Points []curvePoint `json:"points"`
}

func (p *HTTPProvider) CurveBulk(ctx context.Context, req CurveRequest) (*models.TimeSeries, error) {
	payload := curvePayload{
		Convertible:     req.Convertible,
		AnchorCBPrice:   req.AnchorCBPrice,
		AnchorUdlyPrice: req.AnchorUdlyPrice,
	}
	for _, pt := range req.UdlyClose.Points() {
		payload.Inputs = append(payload.Inputs, curvePoint{
			Date:  pt.Date.Format("2006-01-02"),
			Value: pt.Value,
		})
	}

	var result curveResult
	if err := p.post(ctx, "/v1/nuke/curve", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Points) == 0 {
		return nil, fmt.Errorf("pricing service returned an empty curve")
	}

	ts := models.NewTimeSeries()
	for _, pt := range result.Points {
		d, err := time.Parse("2006-01-02", pt.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q in curve response: %w", pt.Date, err)
		}
		ts.Set(d, pt.Value)
	}
	return ts, nil
}

type pointPayload struct {
	Convertible     string  `json:"convertible"`
	AnchorCBPrice   float64 `json:"anchor_cb_price"`
	AnchorUdlyPrice float64 `json:"anchor_udly_price"`
	InputUdlyPrice  float64 `json:"input_udly_price"`
}

type pointResult struct {
	Value float64 `json:"value"`
}

func (p *HTTPProvider) CurvePoint(ctx context.Context, req PointRequest) (float64, error) {
	payload := pointPayload{
		Convertible:     req.Convertible,
		AnchorCBPrice:   req.AnchorCBPrice,
		AnchorUdlyPrice: req.AnchorUdlyPrice,
		InputUdlyPrice:  req.InputUdlyPrice,
	}

	var result pointResult
	if err := p.post(ctx, "/v1/nuke/point", payload, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-KEY", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricing service error (status %d): %s", resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, out)
}
