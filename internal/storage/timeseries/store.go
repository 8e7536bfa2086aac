package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store wraps the PostgreSQL handle for the partitioned metric tables.
type Store struct {
	db *sqlx.DB
}

// NewStore builds a Store over an open connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// InsertBatch lands every row of the batch in one transaction. Conflicting
// series keys are overwritten with the newer collected_at, so replaying a
// batch is a no-op. Returns the number of rows written.
func (s *Store) InsertBatch(ctx context.Context, b *Batch) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch tx: %w", err)
	}

	var insertErr error
	switch b.DataType {
	case DataTypeCost:
		insertErr = insertCostRows(ctx, tx, b.Cost)
	case DataTypePerformance:
		insertErr = insertPerformanceRows(ctx, tx, b.Performance)
	case DataTypeResource:
		insertErr = insertResourceRows(ctx, tx, b.Resource)
	case DataTypeApplication:
		insertErr = insertApplicationRows(ctx, tx, b.Application)
	default:
		insertErr = fmt.Errorf("unknown data type %q", b.DataType)
	}
	if insertErr != nil {
		tx.Rollback()
		return 0, insertErr
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return b.Len(), nil
}

func insertCostRows(ctx context.Context, tx *sqlx.Tx, rows []CostRow) error {
	for i := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cost_metrics
				(timestamp, customer_id, provider, instance_id, cost_type, amount, currency, resource_type, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (customer_id, provider, timestamp, cost_type, instance_id)
			DO UPDATE SET amount = EXCLUDED.amount, currency = EXCLUDED.currency,
			              resource_type = EXCLUDED.resource_type, collected_at = now()`,
			rows[i].Timestamp, rows[i].CustomerID, rows[i].Provider, rows[i].InstanceID,
			rows[i].CostType, rows[i].Amount, rows[i].Currency, rows[i].ResourceType)
		if err != nil {
			return fmt.Errorf("insert cost row %d: %w", i, err)
		}
	}
	return nil
}

func insertPerformanceRows(ctx context.Context, tx *sqlx.Tx, rows []PerformanceRow) error {
	for i := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO performance_metrics
				(timestamp, customer_id, provider, metric_name, metric_value, resource_id, tags, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (customer_id, provider, timestamp, metric_name, resource_id)
			DO UPDATE SET metric_value = EXCLUDED.metric_value, tags = EXCLUDED.tags, collected_at = now()`,
			rows[i].Timestamp, rows[i].CustomerID, rows[i].Provider, rows[i].MetricName,
			rows[i].MetricValue, rows[i].ResourceID, rows[i].Tags)
		if err != nil {
			return fmt.Errorf("insert performance row %d: %w", i, err)
		}
	}
	return nil
}

func insertResourceRows(ctx context.Context, tx *sqlx.Tx, rows []ResourceRow) error {
	for i := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resource_metrics
				(timestamp, customer_id, provider, resource_id, resource_type, metric_name, metric_value, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (customer_id, provider, timestamp, metric_name, resource_id)
			DO UPDATE SET resource_type = EXCLUDED.resource_type,
			              metric_value = EXCLUDED.metric_value, collected_at = now()`,
			rows[i].Timestamp, rows[i].CustomerID, rows[i].Provider, rows[i].ResourceID,
			rows[i].ResourceType, rows[i].MetricName, rows[i].MetricValue)
		if err != nil {
			return fmt.Errorf("insert resource row %d: %w", i, err)
		}
	}
	return nil
}

func insertApplicationRows(ctx context.Context, tx *sqlx.Tx, rows []ApplicationRow) error {
	for i := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO application_metrics
				(timestamp, customer_id, provider, application_id, metric_type, score, model_name, prompt_text, response_text, metadata, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (customer_id, provider, timestamp, metric_type, application_id)
			DO UPDATE SET score = EXCLUDED.score, model_name = EXCLUDED.model_name,
			              prompt_text = EXCLUDED.prompt_text, response_text = EXCLUDED.response_text,
			              metadata = EXCLUDED.metadata, collected_at = now()`,
			rows[i].Timestamp, rows[i].CustomerID, rows[i].Provider, rows[i].ApplicationID,
			rows[i].MetricType, rows[i].Score, rows[i].ModelName, rows[i].PromptText,
			rows[i].ResponseText, rows[i].Metadata)
		if err != nil {
			return fmt.Errorf("insert application row %d: %w", i, err)
		}
	}
	return nil
}

// CountRows returns the rows present for (customer, provider) within
// [since, until] in one metric table. Used for the success invariant on
// collection history.
func (s *Store) CountRows(ctx context.Context, dataType string, customerID uuid.UUID, provider string, since, until time.Time) (int, error) {
	if !ValidDataType(dataType) {
		return 0, fmt.Errorf("unknown data type %q", dataType)
	}
	var n int
	query := fmt.Sprintf(`
		SELECT count(*) FROM %s_metrics
		WHERE customer_id = $1 AND provider = $2 AND collected_at BETWEEN $3 AND $4`, dataType)
	if err := s.db.GetContext(ctx, &n, query, customerID, provider, since, until); err != nil {
		return 0, fmt.Errorf("count %s rows: %w", dataType, err)
	}
	return n, nil
}

// DeleteOlderThan removes rows past the retention horizon from one metric
// table. The janitor calls this daily; partition pruning keeps it cheap.
func (s *Store) DeleteOlderThan(ctx context.Context, dataType string, cutoff time.Time) (int64, error) {
	if !ValidDataType(dataType) {
		return 0, fmt.Errorf("unknown data type %q", dataType)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s_metrics WHERE timestamp < $1`, dataType), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old %s rows: %w", dataType, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RefreshHourlyAggregates refreshes the materialized hourly views. Run
// periodically by the scheduler after collection rounds.
func (s *Store) RefreshHourlyAggregates(ctx context.Context) error {
	for _, dt := range DataTypes {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`REFRESH MATERIALIZED VIEW CONCURRENTLY %s_metrics_hourly`, dt))
		if err != nil {
			return fmt.Errorf("refresh %s hourly view: %w", dt, err)
		}
	}
	return nil
}
