package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestCostLatestPicksNewestPerInstanceAndType(t *testing.T) {
	store, mock := newMockStore(t)
	customerID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT DISTINCT ON \(instance_id, cost_type\) \* FROM cost_metrics`).
		WithArgs(customerID, "aws").
		WillReturnRows(sqlmock.NewRows([]string{
			"timestamp", "customer_id", "provider", "instance_id", "cost_type", "amount",
		}).
			AddRow(now, customerID, "aws", "i-1", "compute", 1.25).
			AddRow(now.Add(-time.Minute), customerID, "aws", "i-1", "storage", 0.4).
			AddRow(now, customerID, "aws", "i-2", "compute", 2.5))

	rows, err := store.CostLatest(context.Background(), customerID, "aws")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "i-1", rows[0].InstanceID)
	assert.Equal(t, "compute", rows[0].CostType)
	assert.InDelta(t, 1.25, rows[0].Amount, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostLatestQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	customerID := uuid.New()

	mock.ExpectQuery(`SELECT DISTINCT ON \(instance_id, cost_type\) \* FROM cost_metrics`).
		WithArgs(customerID, "gcp").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.CostLatest(context.Background(), customerID, "gcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost latest")
}
