package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ApplicationReader serves the application agent's read endpoints.
type ApplicationReader struct {
	reader
}

// NewApplicationReader builds an application reader.
func NewApplicationReader(ts *timeseries.Store, timeout time.Duration) *ApplicationReader {
	return &ApplicationReader{reader{ts: ts, timeout: timeout}}
}

// Metrics returns raw quality samples, optionally filtered to one metric
// type.
func (r *ApplicationReader) Metrics(ctx context.Context, customerID uuid.UUID, provider, metricType string, p Params) ([]timeseries.ApplicationRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.ApplicationRows(ctx, customerID, provider, metricType, p.window(), p.limit())
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Score = finite(rows[i].Score)
	}
	return rows, nil
}

// AvgScore averages one metric type over the window.
func (r *ApplicationReader) AvgScore(ctx context.Context, customerID uuid.UUID, provider, metricType string, p Params) (float64, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	avg, err := r.ts.ApplicationAvgScore(ctx, customerID, provider, metricType, p.window())
	return finite(avg), err
}

// Trend returns hourly score buckets for one metric type.
func (r *ApplicationReader) Trend(ctx context.Context, customerID uuid.UUID, provider, metricType string, p Params) ([]timeseries.TrendPoint, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	points, err := r.ts.ApplicationTrend(ctx, customerID, provider, metricType, p.window())
	if err != nil {
		return nil, err
	}
	return finiteTrend(points), nil
}
