package collector

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

func newTestWriter() *Writer {
	return &Writer{log: logger.New("writer-test")}
}

func costRow(amount float64) timeseries.CostRow {
	return timeseries.CostRow{
		Timestamp:  time.Now().UTC(),
		CustomerID: uuid.New(),
		Provider:   "demo",
		CostType:   "compute",
		Amount:     amount,
	}
}

func TestValidatePassesCleanCostRows(t *testing.T) {
	w := newTestWriter()
	batch := &timeseries.Batch{
		DataType: timeseries.DataTypeCost,
		Cost:     []timeseries.CostRow{costRow(12.5), costRow(0)},
	}

	result := &WriteResult{}
	valid := w.validate(batch, result)

	assert.Len(t, valid.Cost, 2)
	assert.Zero(t, result.Rejected)
	assert.Equal(t, "USD", valid.Cost[0].Currency)
}

func TestValidateRejectsBrokenRowsWithAccounting(t *testing.T) {
	w := newTestWriter()

	missingCustomer := costRow(3)
	missingCustomer.CustomerID = uuid.Nil
	zeroTimestamp := costRow(3)
	zeroTimestamp.Timestamp = time.Time{}
	missingType := costRow(3)
	missingType.CostType = ""

	batch := &timeseries.Batch{
		DataType: timeseries.DataTypeCost,
		Cost: []timeseries.CostRow{
			costRow(1),
			missingCustomer,
			zeroTimestamp,
			missingType,
			costRow(math.NaN()),
			costRow(math.Inf(1)),
		},
	}

	result := &WriteResult{}
	valid := w.validate(batch, result)

	assert.Len(t, valid.Cost, 1)
	assert.Equal(t, 5, result.Rejected)
	assert.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "row 1")
	assert.Contains(t, result.Errors[3], "non-finite")
}

func TestValidatePerformanceRows(t *testing.T) {
	w := newTestWriter()
	good := timeseries.PerformanceRow{
		Timestamp:   time.Now().UTC(),
		CustomerID:  uuid.New(),
		Provider:    "aws",
		MetricName:  "p99_latency_ms",
		MetricValue: 41.2,
	}
	unnamed := good
	unnamed.MetricName = ""
	infinite := good
	infinite.MetricValue = math.Inf(-1)

	batch := &timeseries.Batch{
		DataType:    timeseries.DataTypePerformance,
		Performance: []timeseries.PerformanceRow{good, unnamed, infinite},
	}

	result := &WriteResult{}
	valid := w.validate(batch, result)

	assert.Len(t, valid.Performance, 1)
	assert.Equal(t, 2, result.Rejected)
}

func TestValidateApplicationRows(t *testing.T) {
	w := newTestWriter()
	good := timeseries.ApplicationRow{
		Timestamp:     time.Now().UTC(),
		CustomerID:    uuid.New(),
		Provider:      "runpod",
		ApplicationID: "chatbot-prod",
		MetricType:    "quality",
		Score:         0.92,
	}
	anonymous := good
	anonymous.ApplicationID = ""

	batch := &timeseries.Batch{
		DataType:    timeseries.DataTypeApplication,
		Application: []timeseries.ApplicationRow{good, anonymous},
	}

	result := &WriteResult{}
	valid := w.validate(batch, result)

	assert.Len(t, valid.Application, 1)
	assert.Equal(t, 1, result.Rejected)
}

func TestWriteResultPartial(t *testing.T) {
	assert.False(t, (&WriteResult{Written: 3}).Partial())
	assert.False(t, (&WriteResult{Rejected: 3}).Partial())
	assert.True(t, (&WriteResult{Written: 2, Rejected: 1}).Partial())
}
