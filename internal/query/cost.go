package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// CostReader serves the cost agent's read endpoints.
type CostReader struct {
	reader
}

// NewCostReader builds a cost reader with the given per-query deadline.
func NewCostReader(ts *timeseries.Store, timeout time.Duration) *CostReader {
	return &CostReader{reader{ts: ts, timeout: timeout}}
}

// Metrics returns raw spend rows, newest first.
func (r *CostReader) Metrics(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.CostRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.CostRows(ctx, customerID, provider, p.window(), p.limit())
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Amount = finite(rows[i].Amount)
	}
	return rows, nil
}

// Latest returns the newest spend row per (instance, cost type).
func (r *CostReader) Latest(ctx context.Context, customerID uuid.UUID, provider string) ([]timeseries.CostRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.CostLatest(ctx, customerID, provider)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Amount = finite(rows[i].Amount)
	}
	return rows, nil
}

// Total returns the spend sum over the window.
func (r *CostReader) Total(ctx context.Context, customerID uuid.UUID, provider string, p Params) (float64, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	total, err := r.ts.CostTotal(ctx, customerID, provider, p.window())
	return finite(total), err
}

// Trend returns hourly spend buckets.
func (r *CostReader) Trend(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.TrendPoint, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	points, err := r.ts.CostTrend(ctx, customerID, provider, p.window())
	if err != nil {
		return nil, err
	}
	return finiteTrend(points), nil
}

// Summary breaks spend down by cost type.
func (r *CostReader) Summary(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.NameValue, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	items, err := r.ts.CostByType(ctx, customerID, provider, p.window())
	if err != nil {
		return nil, err
	}
	return finiteNames(items), nil
}

// Providers lists providers with spend in the window.
func (r *CostReader) Providers(ctx context.Context, customerID uuid.UUID, p Params) ([]string, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	return r.ts.CostProviders(ctx, customerID, p.window())
}
