package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Window bounds a query in event time.
type Window struct {
	Since time.Time
	Until time.Time
}

// LastHours builds a window covering the trailing n hours.
func LastHours(n int) Window {
	now := time.Now().UTC()
	return Window{Since: now.Add(-time.Duration(n) * time.Hour), Until: now}
}

// TrendPoint is one hourly bucket of an aggregated series.
type TrendPoint struct {
	Bucket time.Time `db:"bucket" json:"bucket"`
	Value  float64   `db:"value" json:"value"`
	Count  int       `db:"count" json:"count"`
}

// NameValue pairs a dimension value with an aggregate.
type NameValue struct {
	Name  string  `db:"name" json:"name"`
	Value float64 `db:"value" json:"value"`
}

// CostTotal sums spend for (customer, provider) in the window.
func (s *Store) CostTotal(ctx context.Context, customerID uuid.UUID, provider string, w Window) (float64, error) {
	var total float64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(sum(amount), 0) FROM cost_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return 0, fmt.Errorf("cost total: %w", err)
	}
	return total, nil
}

// CostRows lists spend events in the window, newest first.
func (s *Store) CostRows(ctx context.Context, customerID uuid.UUID, provider string, w Window, limit int) ([]CostRow, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []CostRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM cost_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		ORDER BY timestamp DESC LIMIT $5`,
		customerID, provider, w.Since, w.Until, limit)
	if err != nil {
		return nil, fmt.Errorf("cost rows: %w", err)
	}
	return rows, nil
}

// CostLatest returns the newest spend row per (instance, cost type).
func (s *Store) CostLatest(ctx context.Context, customerID uuid.UUID, provider string) ([]CostRow, error) {
	var rows []CostRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (instance_id, cost_type) *
		FROM cost_metrics
		WHERE customer_id = $1 AND provider = $2
		ORDER BY instance_id, cost_type, timestamp DESC`, customerID, provider)
	if err != nil {
		return nil, fmt.Errorf("cost latest: %w", err)
	}
	return rows, nil
}

// CostTrend buckets spend per hour across the window.
func (s *Store) CostTrend(ctx context.Context, customerID uuid.UUID, provider string, w Window) ([]TrendPoint, error) {
	var points []TrendPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT date_trunc('hour', timestamp) AS bucket,
		       sum(amount)                   AS value,
		       count(*)                      AS count
		FROM cost_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		GROUP BY 1 ORDER BY 1`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("cost trend: %w", err)
	}
	return points, nil
}

// CostByType breaks spend down by cost_type in the window.
func (s *Store) CostByType(ctx context.Context, customerID uuid.UUID, provider string, w Window) ([]NameValue, error) {
	var out []NameValue
	err := s.db.SelectContext(ctx, &out, `
		SELECT cost_type AS name, sum(amount) AS value
		FROM cost_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		GROUP BY cost_type ORDER BY value DESC`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("cost by type: %w", err)
	}
	return out, nil
}

// CostProviders lists providers with spend for the customer in the window.
func (s *Store) CostProviders(ctx context.Context, customerID uuid.UUID, w Window) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT provider FROM cost_metrics
		WHERE customer_id = $1 AND timestamp BETWEEN $2 AND $3 ORDER BY provider`,
		customerID, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("cost providers: %w", err)
	}
	return out, nil
}

// PerformanceRows lists samples in the window, newest first. metricName
// narrows the series when non-empty.
func (s *Store) PerformanceRows(ctx context.Context, customerID uuid.UUID, provider, metricName string, w Window, limit int) ([]PerformanceRow, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []PerformanceRow
	query := `
		SELECT * FROM performance_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4`
	args := []interface{}{customerID, provider, w.Since, w.Until}
	if metricName != "" {
		query += ` AND metric_name = $5 ORDER BY timestamp DESC LIMIT $6`
		args = append(args, metricName, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $5`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("performance rows: %w", err)
	}
	return rows, nil
}

// PerformanceLatest returns the newest sample per metric name.
func (s *Store) PerformanceLatest(ctx context.Context, customerID uuid.UUID, provider string) ([]PerformanceRow, error) {
	var rows []PerformanceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (metric_name) *
		FROM performance_metrics
		WHERE customer_id = $1 AND provider = $2
		ORDER BY metric_name, timestamp DESC`, customerID, provider)
	if err != nil {
		return nil, fmt.Errorf("performance latest: %w", err)
	}
	return rows, nil
}

// PerformanceTrend buckets one metric per hour across the window.
func (s *Store) PerformanceTrend(ctx context.Context, customerID uuid.UUID, provider, metricName string, w Window) ([]TrendPoint, error) {
	var points []TrendPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT date_trunc('hour', timestamp) AS bucket,
		       avg(metric_value)             AS value,
		       count(*)                      AS count
		FROM performance_metrics
		WHERE customer_id = $1 AND provider = $2 AND metric_name = $3
		  AND timestamp BETWEEN $4 AND $5
		GROUP BY 1 ORDER BY 1`,
		customerID, provider, metricName, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("performance trend: %w", err)
	}
	return points, nil
}

// PerformanceSummary averages each metric name across the window.
func (s *Store) PerformanceSummary(ctx context.Context, customerID uuid.UUID, provider string, w Window) ([]NameValue, error) {
	var out []NameValue
	err := s.db.SelectContext(ctx, &out, `
		SELECT metric_name AS name, avg(metric_value) AS value
		FROM performance_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		GROUP BY metric_name ORDER BY metric_name`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("performance summary: %w", err)
	}
	return out, nil
}

// ResourceRows lists inventory/utilization samples in the window.
func (s *Store) ResourceRows(ctx context.Context, customerID uuid.UUID, provider string, w Window, limit int) ([]ResourceRow, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []ResourceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM resource_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		ORDER BY timestamp DESC LIMIT $5`,
		customerID, provider, w.Since, w.Until, limit)
	if err != nil {
		return nil, fmt.Errorf("resource rows: %w", err)
	}
	return rows, nil
}

// ResourceCount counts distinct resources seen in the window.
func (s *Store) ResourceCount(ctx context.Context, customerID uuid.UUID, provider string, w Window) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT count(DISTINCT resource_id) FROM resource_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return 0, fmt.Errorf("resource count: %w", err)
	}
	return n, nil
}

// UtilizationStats returns avg and max of one utilization metric across
// the window.
func (s *Store) UtilizationStats(ctx context.Context, customerID uuid.UUID, provider, metricName string, w Window) (avg, max float64, err error) {
	row := struct {
		Avg float64 `db:"avg"`
		Max float64 `db:"max"`
	}{}
	err = s.db.GetContext(ctx, &row, `
		SELECT COALESCE(avg(metric_value), 0) AS avg,
		       COALESCE(max(metric_value), 0) AS max
		FROM resource_metrics
		WHERE customer_id = $1 AND provider = $2 AND metric_name = $3
		  AND timestamp BETWEEN $4 AND $5`,
		customerID, provider, metricName, w.Since, w.Until)
	if err != nil {
		return 0, 0, fmt.Errorf("utilization stats: %w", err)
	}
	return row.Avg, row.Max, nil
}

// ResourceSummary averages each metric per resource type in the window.
func (s *Store) ResourceSummary(ctx context.Context, customerID uuid.UUID, provider string, w Window) ([]NameValue, error) {
	var out []NameValue
	err := s.db.SelectContext(ctx, &out, `
		SELECT resource_type || '/' || metric_name AS name, avg(metric_value) AS value
		FROM resource_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4
		GROUP BY resource_type, metric_name ORDER BY 1`,
		customerID, provider, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("resource summary: %w", err)
	}
	return out, nil
}

// ApplicationRows lists quality samples in the window, newest first.
func (s *Store) ApplicationRows(ctx context.Context, customerID uuid.UUID, provider, metricType string, w Window, limit int) ([]ApplicationRow, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []ApplicationRow
	query := `
		SELECT * FROM application_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4`
	args := []interface{}{customerID, provider, w.Since, w.Until}
	if metricType != "" {
		query += ` AND metric_type = $5 ORDER BY timestamp DESC LIMIT $6`
		args = append(args, metricType, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $5`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("application rows: %w", err)
	}
	return rows, nil
}

// ApplicationAvgScore averages quality scores in the window. metricType
// narrows to one quality dimension when non-empty.
func (s *Store) ApplicationAvgScore(ctx context.Context, customerID uuid.UUID, provider, metricType string, w Window) (float64, error) {
	var avg float64
	query := `
		SELECT COALESCE(avg(score), 0) FROM application_metrics
		WHERE customer_id = $1 AND provider = $2 AND timestamp BETWEEN $3 AND $4`
	args := []interface{}{customerID, provider, w.Since, w.Until}
	if metricType != "" {
		query += ` AND metric_type = $5`
		args = append(args, metricType)
	}
	if err := s.db.GetContext(ctx, &avg, query, args...); err != nil {
		return 0, fmt.Errorf("application avg score: %w", err)
	}
	return avg, nil
}

// ApplicationTrend buckets one quality dimension per hour.
func (s *Store) ApplicationTrend(ctx context.Context, customerID uuid.UUID, provider, metricType string, w Window) ([]TrendPoint, error) {
	var points []TrendPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT date_trunc('hour', timestamp) AS bucket,
		       avg(score)                    AS value,
		       count(*)                      AS count
		FROM application_metrics
		WHERE customer_id = $1 AND provider = $2 AND metric_type = $3
		  AND timestamp BETWEEN $4 AND $5
		GROUP BY 1 ORDER BY 1`,
		customerID, provider, metricType, w.Since, w.Until)
	if err != nil {
		return nil, fmt.Errorf("application trend: %w", err)
	}
	return points, nil
}
