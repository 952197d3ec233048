package dollarneutral

import "errors"

var (
	// ErrEmptyOverlap means the three input series share no date on
	// which all of them have a value.
	ErrEmptyOverlap = errors.New("no overlapping dates between cb close, underlying close and delta")

	// ErrAnchorOutOfRange means the requested anchor date falls after
	// the last aligned date, so no trading date can be snapped to.
	ErrAnchorOutOfRange = errors.New("anchor date is after the last available data point")

	// ErrUnsupportedMethod means the method is neither delta nor
	// external_nuke.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrMissingNukeSeries means method external_nuke was selected
	// without supplying the externally computed curve.
	ErrMissingNukeSeries = errors.New("method external_nuke requires a nuke series")
)
