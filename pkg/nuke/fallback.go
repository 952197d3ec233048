package nuke

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tallisward/convdn/pkg/models"
)

// FallbackPolicy fetches a curve with a bulk request first and, when
// that fails, recomputes it one date at a time. Dates that fail
// individually are skipped; the policy errors only when no date could
// be computed at all. Dates the result leaves uncovered are the
// caller's concern (the engine keeps those rows with missing values).
type FallbackPolicy struct {
	Provider Provider
	Logger   *logrus.Logger
}

// Curve resolves the synthetic curve for the request under the policy.
func (f *FallbackPolicy) Curve(ctx context.Context, req CurveRequest) (*models.TimeSeries, error) {
	curve, bulkErr := f.Provider.CurveBulk(ctx, req)
	if bulkErr == nil && curve.Len() > 0 {
		return curve, nil
	}
	if bulkErr != nil {
		f.Logger.WithError(bulkErr).Warn("Bulk nuke curve failed, falling back to per-date computation")
	}

	out := models.NewTimeSeries()
	failed := 0
	for _, pt := range req.UdlyClose.Points() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		v, err := f.Provider.CurvePoint(ctx, PointRequest{
			Convertible:     req.Convertible,
			AnchorCBPrice:   req.AnchorCBPrice,
			AnchorUdlyPrice: req.AnchorUdlyPrice,
			InputUdlyPrice:  pt.Value,
		})
		if err != nil {
			failed++
			f.Logger.WithError(err).WithField("date", pt.Date.Format("2006-01-02")).
				Debug("Per-date nuke computation failed, skipping date")
			continue
		}
		out.Set(pt.Date, v)
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("unable to compute nuke curve: bulk failed (%v) and all %d per-date calls failed", bulkErr, failed)
	}
	if failed > 0 {
		f.Logger.WithFields(logrus.Fields{
			"computed": out.Len(),
			"skipped":  failed,
		}).Info("Nuke curve computed with partial per-date coverage")
	}
	return out, nil
}
