// Package timeseries is the data-access layer for the partitioned metric
// tables. Writes are idempotent upserts keyed by the series identity;
// reads serve the per-domain query facades.
package timeseries

import (
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Data types collected by the platform, one per time-series table.
const (
	DataTypeCost        = "cost"
	DataTypePerformance = "performance"
	DataTypeResource    = "resource"
	DataTypeApplication = "application"
)

// DataTypes lists every collectable data type.
var DataTypes = []string{DataTypeCost, DataTypePerformance, DataTypeResource, DataTypeApplication}

// ValidDataType reports whether s names a time-series table.
func ValidDataType(s string) bool {
	for _, dt := range DataTypes {
		if dt == s {
			return true
		}
	}
	return false
}

// CostRow is one spend event destined for cost_metrics.
type CostRow struct {
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	CustomerID   uuid.UUID `db:"customer_id" json:"customer_id"`
	Provider     string    `db:"provider" json:"provider"`
	InstanceID   string    `db:"instance_id" json:"instance_id"`
	CostType     string    `db:"cost_type" json:"cost_type"`
	Amount       float64   `db:"amount" json:"amount"`
	Currency     string    `db:"currency" json:"currency"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	CollectedAt  time.Time `db:"collected_at" json:"collected_at"`
}

// PerformanceRow is one latency/throughput/utilization sample.
type PerformanceRow struct {
	Timestamp   time.Time          `db:"timestamp" json:"timestamp"`
	CustomerID  uuid.UUID          `db:"customer_id" json:"customer_id"`
	Provider    string             `db:"provider" json:"provider"`
	MetricName  string             `db:"metric_name" json:"metric_name"`
	MetricValue float64            `db:"metric_value" json:"metric_value"`
	ResourceID  string             `db:"resource_id" json:"resource_id"`
	Tags        relational.JSONMap `db:"tags" json:"tags"`
	CollectedAt time.Time          `db:"collected_at" json:"collected_at"`
}

// ResourceRow is one inventory or utilization sample.
type ResourceRow struct {
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	CustomerID   uuid.UUID `db:"customer_id" json:"customer_id"`
	Provider     string    `db:"provider" json:"provider"`
	ResourceID   string    `db:"resource_id" json:"resource_id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	MetricName   string    `db:"metric_name" json:"metric_name"`
	MetricValue  float64   `db:"metric_value" json:"metric_value"`
	CollectedAt  time.Time `db:"collected_at" json:"collected_at"`
}

// ApplicationRow is one quality/hallucination/toxicity sample.
type ApplicationRow struct {
	Timestamp     time.Time          `db:"timestamp" json:"timestamp"`
	CustomerID    uuid.UUID          `db:"customer_id" json:"customer_id"`
	Provider      string             `db:"provider" json:"provider"`
	ApplicationID string             `db:"application_id" json:"application_id"`
	MetricType    string             `db:"metric_type" json:"metric_type"`
	Score         float64            `db:"score" json:"score"`
	ModelName     string             `db:"model_name" json:"model_name"`
	PromptText    string             `db:"prompt_text" json:"prompt_text,omitempty"`
	ResponseText  string             `db:"response_text" json:"response_text,omitempty"`
	Metadata      relational.JSONMap `db:"metadata" json:"metadata"`
	CollectedAt   time.Time          `db:"collected_at" json:"collected_at"`
}

// Batch is one adapter's output for a single data type. Only the slice
// matching DataType is populated.
type Batch struct {
	DataType    string
	Cost        []CostRow
	Performance []PerformanceRow
	Resource    []ResourceRow
	Application []ApplicationRow
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	switch b.DataType {
	case DataTypeCost:
		return len(b.Cost)
	case DataTypePerformance:
		return len(b.Performance)
	case DataTypeResource:
		return len(b.Resource)
	case DataTypeApplication:
		return len(b.Application)
	}
	return 0
}

// Table returns the target table name for the batch.
func (b *Batch) Table() string {
	return b.DataType + "_metrics"
}
