package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ResourceReader serves the resource agent's read endpoints.
type ResourceReader struct {
	reader
}

// NewResourceReader builds a resource reader.
func NewResourceReader(ts *timeseries.Store, timeout time.Duration) *ResourceReader {
	return &ResourceReader{reader{ts: ts, timeout: timeout}}
}

// Utilization holds the aggregate view the dashboard and the resource
// agent both consume.
type Utilization struct {
	AvgCPUUtilization float64 `json:"avg_cpu_utilization"`
	MaxCPUUtilization float64 `json:"max_cpu_utilization"`
	InstanceCount     int     `json:"instance_count"`
}

// Metrics returns raw inventory and utilization rows.
func (r *ResourceReader) Metrics(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.ResourceRow, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	rows, err := r.ts.ResourceRows(ctx, customerID, provider, p.window(), p.limit())
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].MetricValue = finite(rows[i].MetricValue)
	}
	return rows, nil
}

// Total counts distinct resources seen in the window.
func (r *ResourceReader) Total(ctx context.Context, customerID uuid.UUID, provider string, p Params) (int, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	return r.ts.ResourceCount(ctx, customerID, provider, p.window())
}

// Utilization aggregates CPU usage and inventory size over the window.
func (r *ResourceReader) Utilization(ctx context.Context, customerID uuid.UUID, provider string, p Params) (*Utilization, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()

	avg, max, err := r.ts.UtilizationStats(ctx, customerID, provider, "cpu_utilization", p.window())
	if err != nil {
		return nil, err
	}
	count, err := r.ts.ResourceCount(ctx, customerID, provider, p.window())
	if err != nil {
		return nil, err
	}
	return &Utilization{
		AvgCPUUtilization: finite(avg),
		MaxCPUUtilization: finite(max),
		InstanceCount:     count,
	}, nil
}

// Summary averages every resource metric over the window.
func (r *ResourceReader) Summary(ctx context.Context, customerID uuid.UUID, provider string, p Params) ([]timeseries.NameValue, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	items, err := r.ts.ResourceSummary(ctx, customerID, provider, p.window())
	if err != nil {
		return nil, err
	}
	return finiteNames(items), nil
}
