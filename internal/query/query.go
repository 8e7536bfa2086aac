// Package query is the read side of the metric stores: one reader per
// domain, each applying the reader deadline and scrubbing non-finite
// floats before anything reaches a JSON encoder.
package query

import (
	"context"
	"math"
	"time"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// DefaultLimit bounds raw-row endpoints when the caller does not page.
const DefaultLimit = 1000

// Params are the common read-request knobs.
type Params struct {
	Hours int
	Limit int
}

func (p Params) window() timeseries.Window {
	hours := p.Hours
	if hours <= 0 {
		hours = 24
	}
	return timeseries.LastHours(hours)
}

func (p Params) limit() int {
	if p.Limit <= 0 || p.Limit > DefaultLimit {
		return DefaultLimit
	}
	return p.Limit
}

type reader struct {
	ts      *timeseries.Store
	timeout time.Duration
}

func (r reader) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// finite replaces NaN and Inf with zero so aggregates over sparse series
// never leak unencodable values.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteTrend(points []timeseries.TrendPoint) []timeseries.TrendPoint {
	for i := range points {
		points[i].Value = finite(points[i].Value)
	}
	return points
}

func finiteNames(items []timeseries.NameValue) []timeseries.NameValue {
	for i := range items {
		items[i].Value = finite(items[i].Value)
	}
	return items
}
