// Package marketdata talks to the pricing platform that supplies daily
// closes and sensitivities. The computation engine never fetches data
// itself; everything network-shaped lives here.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tallisward/convdn/pkg/models"
)

// Frequency is the sampling frequency of a requested series.
type Frequency string

const (
	FreqBusinessDays Frequency = "BUSINESS_DAYS"
	FreqDaily        Frequency = "DAILY"
	FreqWeekly       Frequency = "WEEKLY"
)

// FieldConfig names the platform fields the system reads. It is passed
// in explicitly so that nothing downstream depends on ambient
// environment lookups.
type FieldConfig struct {
	PriceField string
	DeltaField string
	// HedgeModel selects the sensitivity model on the platform side
	// when the delta field supports more than one. Empty means the
	// platform default.
	HedgeModel string
}

// DefaultFieldConfig matches the platform's standard field names.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		PriceField: "px_last",
		DeltaField: "ud_delta",
	}
}

// Client fetches date-indexed series and resolves instrument links.
type Client interface {
	FetchSeries(ctx context.Context, security, field string, start, end time.Time, freq Frequency) (*models.TimeSeries, error)
	DeriveUnderlying(ctx context.Context, convertible string) (string, error)
}

// BundleRequest asks for the three series one computation needs.
// Underlying may be empty, in which case it is derived from the
// convertible.
type BundleRequest struct {
	Convertible string
	Underlying  string
	Start       time.Time
	End         time.Time
	Freq        Frequency
	Fields      FieldConfig
}

// FetchBundle fetches convertible closes, underlying closes and the
// convertible delta over the requested range.
func FetchBundle(ctx context.Context, c Client, req BundleRequest) (*models.SeriesBundle, error) {
	if req.Convertible == "" {
		return nil, fmt.Errorf("marketdata: convertible security is required")
	}
	fields := req.Fields
	if fields.PriceField == "" || fields.DeltaField == "" {
		def := DefaultFieldConfig()
		if fields.PriceField == "" {
			fields.PriceField = def.PriceField
		}
		if fields.DeltaField == "" {
			fields.DeltaField = def.DeltaField
		}
	}

	underlying := req.Underlying
	if underlying == "" {
		derived, err := c.DeriveUnderlying(ctx, req.Convertible)
		if err != nil {
			return nil, fmt.Errorf("marketdata: derive underlying for %s: %w", req.Convertible, err)
		}
		underlying = derived
	}

	cbClose, err := c.FetchSeries(ctx, req.Convertible, fields.PriceField, req.Start, req.End, req.Freq)
	if err != nil {
		return nil, fmt.Errorf("marketdata: convertible close %s: %w", req.Convertible, err)
	}
	udlyClose, err := c.FetchSeries(ctx, underlying, fields.PriceField, req.Start, req.End, req.Freq)
	if err != nil {
		return nil, fmt.Errorf("marketdata: underlying close %s: %w", underlying, err)
	}
	deltaField := fields.DeltaField
	if fields.HedgeModel != "" {
		deltaField = fields.DeltaField + "." + fields.HedgeModel
	}
	delta, err := c.FetchSeries(ctx, req.Convertible, deltaField, req.Start, req.End, req.Freq)
	if err != nil {
		return nil, fmt.Errorf("marketdata: delta %s: %w", req.Convertible, err)
	}

	return &models.SeriesBundle{
		Convertible: req.Convertible,
		Underlying:  underlying,
		CBClose:     cbClose,
		UdlyClose:   udlyClose,
		Delta:       delta,
	}, nil
}

// PlatformError is a failure reported by the pricing platform, kept
// distinguishable from transport errors so callers can decide whether
// to retry or fall back.
type PlatformError struct {
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error (status %d): %s", e.StatusCode, e.Message)
}

// ErrNoData means the platform answered successfully but returned an
// empty series. It is surfaced instead of an empty result so that a
// silent platform outage cannot masquerade as a market holiday.
var ErrNoData = fmt.Errorf("platform returned no data points")

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables throttling
}

// HTTPClient is the production Client backed by the platform's REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewHTTPClient(cfg ClientConfig, auth Authenticator, logger *logrus.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
		limiter:    limiter,
		logger:     logger,
	}
}

type seriesResponse struct {
	Security string `json:"security"`
	Field    string `json:"field"`
	Points   []struct {
		Date  string   `json:"date"`
		Value *float64 `json:"value"`
	} `json:"points"`
}

func (c *HTTPClient) FetchSeries(ctx context.Context, security, field string, start, end time.Time, freq Frequency) (*models.TimeSeries, error) {
	q := url.Values{}
	q.Set("security", security)
	q.Set("field", field)
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))
	q.Set("freq", string(freq))

	var resp seriesResponse
	if err := c.get(ctx, "/v1/series", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Points) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, security, field)
	}

	ts := models.NewTimeSeries()
	for _, p := range resp.Points {
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q in series response: %w", p.Date, err)
		}
		if p.Value == nil {
			ts.Set(d, math.NaN())
			continue
		}
		ts.Set(d, *p.Value)
	}

	c.logger.WithFields(logrus.Fields{
		"security": security,
		"field":    field,
		"points":   ts.Len(),
	}).Debug("Fetched series")

	return ts, nil
}

type underlyingResponse struct {
	Convertible string `json:"convertible"`
	Underlying  string `json:"underlying"`
}

func (c *HTTPClient) DeriveUnderlying(ctx context.Context, convertible string) (string, error) {
	q := url.Values{}
	q.Set("security", convertible)

	var resp underlyingResponse
	if err := c.get(ctx, "/v1/underlying", q, &resp); err != nil {
		return "", err
	}
	if resp.Underlying == "" {
		return "", fmt.Errorf("platform returned empty underlying for %s", convertible)
	}
	return resp.Underlying, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	fullPath := path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fullPath, nil)
	if err != nil {
		return err
	}
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req, http.MethodGet, fullPath, ""); err != nil {
			return fmt.Errorf("auth headers: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &PlatformError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return json.Unmarshal(body, out)
}
