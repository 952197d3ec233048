// Package monitor orchestrates fetching, dollar-neutral computation
// and live intraday tracking. All fallback policy (external nuke curve
// to linear delta) lives here, never inside the engine.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallisward/convdn/pkg/dollarneutral"
	"github.com/tallisward/convdn/pkg/marketdata"
	"github.com/tallisward/convdn/pkg/models"
	"github.com/tallisward/convdn/pkg/nuke"
)

// CurveSource resolves an external nuke curve. Satisfied by
// *nuke.FallbackPolicy.
type CurveSource interface {
	Curve(ctx context.Context, req nuke.CurveRequest) (*models.TimeSeries, error)
}

// Streamer is the live price feed the monitor subscribes to.
type Streamer interface {
	Connect(ctx context.Context) error
	Subscribe(securities []string) error
	OnPrint(h marketdata.PrintHandler)
	Close() error
}

// Job is one computation request.
type Job struct {
	Convertible    string        `json:"convertible"`
	Underlying     string        `json:"underlying,omitempty"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	AnchorDate     *time.Time    `json:"anchor_date,omitempty"`
	Method         models.Method `json:"method"`
	DeltaOverride  *float64      `json:"delta_override,omitempty"`
	UseOldestDelta bool          `json:"use_oldest_delta,omitempty"`
}

// Result is a computed table plus how it was obtained.
type Result struct {
	Table          *models.Table `json:"table"`
	Convertible    string        `json:"convertible"`
	Underlying     string        `json:"underlying"`
	FellBack       bool          `json:"fell_back"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
}

// tracked holds the live-monitoring state for one convertible.
type tracked struct {
	underlying string
	anchor     models.Anchor
}

// Monitor runs dollar-neutral jobs and keeps intraday snapshots for
// every convertible it has computed.
type Monitor struct {
	data    marketdata.Client
	fields  marketdata.FieldConfig
	freq    marketdata.Frequency
	curves  CurveSource
	stream  Streamer
	logger  *logrus.Logger
	mu      sync.RWMutex
	prints  map[string]marketdata.Print
	watched map[string]*tracked
	stopCh  chan struct{}
}

// Options wires the monitor's collaborators. Curves and Stream are
// optional: without Curves every external-nuke job falls back to the
// delta method, without Stream there are no live snapshots.
type Options struct {
	Data   marketdata.Client
	Fields marketdata.FieldConfig
	Freq   marketdata.Frequency
	Curves CurveSource
	Stream Streamer
	Logger *logrus.Logger
}

func New(opts Options) *Monitor {
	freq := opts.Freq
	if freq == "" {
		freq = marketdata.FreqBusinessDays
	}
	return &Monitor{
		data:    opts.Data,
		fields:  opts.Fields,
		freq:    freq,
		curves:  opts.Curves,
		stream:  opts.Stream,
		logger:  opts.Logger,
		prints:  make(map[string]marketdata.Print),
		watched: make(map[string]*tracked),
		stopCh:  make(chan struct{}),
	}
}

// Run fetches the input series and computes the dollar-neutral table.
// For external-nuke jobs the anchor is located with a delta-method pass
// first, the curve is requested over the aligned underlying closes, and
// any provider failure falls back to the delta result.
func (m *Monitor) Run(ctx context.Context, job Job) (*Result, error) {
	if job.Method == "" {
		job.Method = models.MethodDelta
	}
	if job.Method != models.MethodDelta && job.Method != models.MethodExternalNuke {
		return nil, fmt.Errorf("%w: %q", dollarneutral.ErrUnsupportedMethod, job.Method)
	}

	bundle, err := marketdata.FetchBundle(ctx, m.data, marketdata.BundleRequest{
		Convertible: job.Convertible,
		Underlying:  job.Underlying,
		Start:       job.Start,
		End:         job.End,
		Freq:        m.freq,
		Fields:      m.fields,
	})
	if err != nil {
		return nil, err
	}

	base := dollarneutral.Input{
		CBClose:        bundle.CBClose,
		UdlyClose:      bundle.UdlyClose,
		Delta:          bundle.Delta,
		AnchorDate:     job.AnchorDate,
		Method:         models.MethodDelta,
		DeltaOverride:  job.DeltaOverride,
		UseOldestDelta: job.UseOldestDelta,
	}

	table, err := dollarneutral.Compute(base)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Table:       table,
		Convertible: bundle.Convertible,
		Underlying:  bundle.Underlying,
	}

	if job.Method == models.MethodExternalNuke {
		extTable, fallbackReason := m.runExternalNuke(ctx, bundle, base, table)
		if extTable != nil {
			result.Table = extTable
		} else {
			result.FellBack = true
			result.FallbackReason = fallbackReason
			m.logger.WithFields(logrus.Fields{
				"convertible": bundle.Convertible,
				"reason":      fallbackReason,
			}).Warn("External nuke unavailable, using delta method")
		}
	}

	m.watch(bundle, result.Table.Anchor)
	return result, nil
}

// runExternalNuke returns the external-nuke table, or nil with the
// reason the delta result must stand instead.
func (m *Monitor) runExternalNuke(ctx context.Context, bundle *models.SeriesBundle, base dollarneutral.Input, deltaTable *models.Table) (*models.Table, string) {
	if m.curves == nil {
		return nil, "no nuke curve provider configured"
	}

	curve, err := m.curves.Curve(ctx, nuke.CurveRequest{
		Convertible:     bundle.Convertible,
		AnchorCBPrice:   deltaTable.Anchor.CBPrice,
		AnchorUdlyPrice: deltaTable.Anchor.UdlyPrice,
		UdlyClose:       deltaTable.UdlySeries(),
	})
	if err != nil {
		return nil, fmt.Sprintf("curve provider failed: %v", err)
	}

	in := base
	in.Method = models.MethodExternalNuke
	in.NukeSeries = curve
	anchor := deltaTable.Anchor.Date
	in.AnchorDate = &anchor

	table, err := dollarneutral.Compute(in)
	if err != nil {
		return nil, fmt.Sprintf("external nuke computation failed: %v", err)
	}
	return table, ""
}

// watch records anchor state for live snapshots and subscribes the pair
// on the stream when one is connected.
func (m *Monitor) watch(bundle *models.SeriesBundle, anchor models.Anchor) {
	m.mu.Lock()
	m.watched[bundle.Convertible] = &tracked{
		underlying: bundle.Underlying,
		anchor:     anchor,
	}
	m.mu.Unlock()

	if m.stream != nil {
		if err := m.stream.Subscribe([]string{bundle.Convertible, bundle.Underlying}); err != nil {
			m.logger.WithError(err).WithField("convertible", bundle.Convertible).
				Warn("Failed to subscribe live prices")
		}
	}
}

// Start connects the live price feed. Safe to skip when no stream is
// configured; Run still works without it.
func (m *Monitor) Start(ctx context.Context) error {
	if m.stream == nil {
		return nil
	}
	m.stream.OnPrint(m.handlePrint)
	if err := m.stream.Connect(ctx); err != nil {
		return fmt.Errorf("monitor: connect price feed: %w", err)
	}
	m.logger.Info("Live price feed connected")
	return nil
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() {
	close(m.stopCh)
	if m.stream != nil {
		m.stream.Close()
	}
}

func (m *Monitor) handlePrint(p marketdata.Print) {
	select {
	case <-m.stopCh:
		return
	default:
	}
	m.mu.Lock()
	m.prints[p.Security] = p
	m.mu.Unlock()
}

// Snapshots returns the current intraday dollar-neutral view for every
// watched convertible with live prints for both legs. The linear anchor
// reprice is used intraday regardless of the job's method: the external
// curve is a daily-close artifact.
func (m *Monitor) Snapshots() []models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Snapshot, 0, len(m.watched))
	for convertible, w := range m.watched {
		cbPrint, cbOk := m.prints[convertible]
		udlyPrint, udlyOk := m.prints[w.underlying]
		if !cbOk || !udlyOk {
			continue
		}

		nukePrice := w.anchor.CBPrice + w.anchor.Delta*(udlyPrint.Price-w.anchor.UdlyPrice)
		ts := cbPrint.Timestamp
		if udlyPrint.Timestamp.After(ts) {
			ts = udlyPrint.Timestamp
		}
		out = append(out, models.Snapshot{
			Convertible: convertible,
			Underlying:  w.underlying,
			CBPrice:     cbPrint.Price,
			UdlyPrice:   udlyPrint.Price,
			Nuke:        nukePrice,
			DN:          nukePrice - cbPrint.Price,
			Timestamp:   ts,
		})
	}
	return out
}
