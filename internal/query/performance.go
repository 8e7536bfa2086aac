package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// PerformanceReader serves the performance agent's read endpoints.
type PerformanceReader struct {
	reader
}

// NewPerformanceReader builds a performance reader.
func NewPerformanceReader(ts *timeseries.Store, timeout time.Duration) *PerformanceReader {
	return &PerformanceReader{reader{ts: ts, timeout: timeout}}
}

// Metrics returns raw samples, optionally filtered to one metric name.
func (r *PerformanceReader) Metrics(ctx context.Context, customerID uuid.UUID, provider, metricName string, p Params) ([]timeseries.PerformanceRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.PerformanceRows(ctx, customerID, provider, metricName, p.window(), p.limit())
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].MetricValue = finite(rows[i].MetricValue)
	}
	return rows, nil
}

// Latest returns the newest sample per (instance, metric) series.
func (r *PerformanceReader) Latest(ctx context.Context, customerID uuid.UUID, provider string) ([]timeseries.PerformanceRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.PerformanceLatest(ctx, customerID, provider)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].MetricValue = finite(rows[i].MetricValue)
	}
	return rows, nil
}

// Trend returns hourly averages for one metric name.
func (r *PerformanceReader) Trend(ctx context.Context, customerID uuid.UUID, provider, metricName string, p Params) ([]timeseries.TrendPoint, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	points, err := r.ts.PerformanceTrend(ctx, customerID, provider, metricName, p.window())
	if err != nil {
		return nil, err
	}
	return finiteTrend(points), nil
}

// Summary averages every metric name over the window.
func (r *PerformanceReader) Summary(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.NameValue, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	items, err := r.ts.PerformanceSummary(ctx, customerID, provider, p.window())
	if err != nil {
		return nil, err
	}
	return finiteNames(items), nil
}
