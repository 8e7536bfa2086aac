// Package collector is the collection engine: the metrics writer that
// lands adapter output in the time-series store and the scheduler that
// drives periodic and on-demand pulls.
package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

// WriteResult is the per-batch accounting the scheduler records in
// collection history.
type WriteResult struct {
	Written  int
	Rejected int
	Errors   []string
}

// Partial reports whether some rows were rejected while others landed.
func (r *WriteResult) Partial() bool {
	return r.Rejected > 0 && r.Written > 0
}

// Writer validates adapter rows and batch-inserts them. Rows failing
// validation are rejected with per-row accounting; the surviving rows
// land atomically in one transaction.
type Writer struct {
	ts  *timeseries.Store
	log logger.Logger
}

// NewWriter builds a Writer over the time-series store.
func NewWriter(ts *timeseries.Store) *Writer {
	return &Writer{ts: ts, log: logger.New("writer")}
}

// Write validates and lands one batch. A store failure means no rows
// landed and is returned as an error; validation rejects are not errors.
func (w *Writer) Write(ctx context.Context, batch *timeseries.Batch) (*WriteResult, error) {
	result := &WriteResult{}
	valid := w.validate(batch, result)

	written, err := w.ts.InsertBatch(ctx, valid)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "writer",
			fmt.Sprintf("insert %s batch", batch.DataType))
	}
	result.Written = written

	telemetry.RowsWritten.WithLabelValues(batch.Table()).Add(float64(result.Written))
	telemetry.RowsRejected.WithLabelValues(batch.Table()).Add(float64(result.Rejected))
	return result, nil
}

// validate splits the batch into valid rows and rejects, accounting for
// every reject.
func (w *Writer) validate(batch *timeseries.Batch, result *WriteResult) *timeseries.Batch {
	valid := &timeseries.Batch{DataType: batch.DataType}
	reject := func(i int, reason string) {
		result.Rejected++
		result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", i, reason))
	}

	switch batch.DataType {
	case timeseries.DataTypeCost:
		for i, row := range batch.Cost {
			if reason := baseRowProblem(row.Timestamp, row.CustomerID, row.Provider); reason != "" {
				reject(i, reason)
				continue
			}
			if row.CostType == "" {
				reject(i, "missing cost_type")
				continue
			}
			if !isFinite(row.Amount) {
				reject(i, "non-finite amount")
				continue
			}
			if row.Currency == "" {
				row.Currency = "USD"
			}
			valid.Cost = append(valid.Cost, row)
		}
	case timeseries.DataTypePerformance:
		for i, row := range batch.Performance {
			if reason := baseRowProblem(row.Timestamp, row.CustomerID, row.Provider); reason != "" {
				reject(i, reason)
				continue
			}
			if row.MetricName == "" {
				reject(i, "missing metric_name")
				continue
			}
			if !isFinite(row.MetricValue) {
				reject(i, "non-finite metric_value")
				continue
			}
			valid.Performance = append(valid.Performance, row)
		}
	case timeseries.DataTypeResource:
		for i, row := range batch.Resource {
			if reason := baseRowProblem(row.Timestamp, row.CustomerID, row.Provider); reason != "" {
				reject(i, reason)
				continue
			}
			if row.ResourceID == "" || row.MetricName == "" {
				reject(i, "missing resource_id or metric_name")
				continue
			}
			if !isFinite(row.MetricValue) {
				reject(i, "non-finite metric_value")
				continue
			}
			valid.Resource = append(valid.Resource, row)
		}
	case timeseries.DataTypeApplication:
		for i, row := range batch.Application {
			if reason := baseRowProblem(row.Timestamp, row.CustomerID, row.Provider); reason != "" {
				reject(i, reason)
				continue
			}
			if row.ApplicationID == "" || row.MetricType == "" {
				reject(i, "missing application_id or metric_type")
				continue
			}
			if !isFinite(row.Score) {
				reject(i, "non-finite score")
				continue
			}
			valid.Application = append(valid.Application, row)
		}
	}

	if result.Rejected > 0 {
		w.log.Warn("rows rejected by validation",
			logger.String("table", batch.Table()),
			logger.Int("rejected", result.Rejected))
	}
	return valid
}

func baseRowProblem(ts time.Time, customerID uuid.UUID, provider string) string {
	if ts.IsZero() {
		return "zero timestamp"
	}
	if customerID == uuid.Nil {
		return "missing customer_id"
	}
	if provider == "" {
		return "missing provider"
	}
	return ""
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
