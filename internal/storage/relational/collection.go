package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// Collection attempt statuses.
const (
	CollectionRunning = "running"
	CollectionSuccess = "success"
	CollectionPartial = "partial"
	CollectionFailed  = "failed"
)

// Collection trigger kinds.
const (
	TriggerScheduled = "scheduled"
	TriggerOnDemand  = "on_demand"
)

// CollectionRecord is one row of collection_history.
type CollectionRecord struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	CustomerID       uuid.UUID      `db:"customer_id" json:"customer_id"`
	Provider         string         `db:"provider" json:"provider"`
	DataTypes        pq.StringArray `db:"data_types" json:"data_types"`
	Status           string         `db:"status" json:"status"`
	TriggerKind      string         `db:"trigger_kind" json:"trigger_kind"`
	StartedAt        time.Time      `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	MetricsCollected int            `db:"metrics_collected" json:"metrics_collected"`
	RowsRejected     int            `db:"rows_rejected" json:"rows_rejected"`
	Error            *string        `db:"error" json:"error,omitempty"`
}

// StartCollection writes the running history row before the adapter is
// invoked, so every attempt is auditable even if the process dies.
func (s *Store) StartCollection(ctx context.Context, rec *CollectionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_history
			(id, customer_id, provider, data_types, status, trigger_kind, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.CustomerID, rec.Provider, rec.DataTypes,
		CollectionRunning, rec.TriggerKind, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("start collection: %w", err)
	}
	return nil
}

// CompleteCollection records the terminal status and counts.
func (s *Store) CompleteCollection(ctx context.Context, id uuid.UUID, status string, collected, rejected int, errMsg string) error {
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE collection_history
		SET status = $2, completed_at = now(), metrics_collected = $3,
		    rows_rejected = $4, error = $5
		WHERE id = $1`, id, status, collected, rejected, errVal)
	if err != nil {
		return fmt.Errorf("complete collection: %w", err)
	}
	return nil
}

// GetCollection loads one history row.
func (s *Store) GetCollection(ctx context.Context, id uuid.UUID) (*CollectionRecord, error) {
	var rec CollectionRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM collection_history WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "collection %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &rec, nil
}

// ListCollections returns recent history for one customer, newest first.
func (s *Store) ListCollections(ctx context.Context, customerID uuid.UUID, limit int) ([]CollectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []CollectionRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM collection_history
		WHERE customer_id = $1
		ORDER BY started_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return recs, nil
}

// LastSuccessfulCollection returns the completion time of the newest
// success or partial attempt covering (customer, provider, data type).
// The scheduler starts the next window there.
func (s *Store) LastSuccessfulCollection(ctx context.Context, customerID uuid.UUID, provider, dataType string) (*time.Time, error) {
	var completed time.Time
	err := s.db.GetContext(ctx, &completed, `
		SELECT completed_at FROM collection_history
		WHERE customer_id = $1 AND provider = $2 AND $3 = ANY(data_types)
		  AND status IN ('success', 'partial') AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`, customerID, provider, dataType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last successful collection: %w", err)
	}
	return &completed, nil
}

// SaveCursor persists adapter pagination state for the next run.
func (s *Store) SaveCursor(ctx context.Context, customerID uuid.UUID, provider, dataType, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_cursors (customer_id, provider, data_type, cursor, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (customer_id, provider, data_type)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`,
		customerID, provider, dataType, cursor)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// GetCursor loads the persisted cursor, empty when none exists.
func (s *Store) GetCursor(ctx context.Context, customerID uuid.UUID, provider, dataType string) (string, error) {
	var cursor string
	err := s.db.GetContext(ctx, &cursor, `
		SELECT cursor FROM collection_cursors
		WHERE customer_id = $1 AND provider = $2 AND data_type = $3`,
		customerID, provider, dataType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// EventRecord is one row of the durable events log. Rows are append-only.
type EventRecord struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	EventType  string     `db:"event_type" json:"event_type"`
	Source     string     `db:"source" json:"source"`
	CustomerID *uuid.UUID `db:"customer_id" json:"customer_id,omitempty"`
	Payload    JSONMap    `db:"payload" json:"payload"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// InsertEvent appends one durable event.
func (s *Store) InsertEvent(ctx context.Context, rec *EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, source, customer_id, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.EventType, rec.Source, rec.CustomerID, rec.Payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns recent events of one type, newest first.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []EventRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM events WHERE event_type = $1
		ORDER BY created_at DESC LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return recs, nil
}
