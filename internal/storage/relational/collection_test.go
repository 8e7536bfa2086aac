package relational

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestStartCollectionInsertsRunningRow(t *testing.T) {
	store, mock := newMockStore(t)
	rec := &CollectionRecord{
		ID:          uuid.New(),
		CustomerID:  uuid.New(),
		Provider:    "demo",
		DataTypes:   pq.StringArray{"cost"},
		TriggerKind: TriggerScheduled,
		StartedAt:   time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO collection_history`).
		WithArgs(rec.ID, rec.CustomerID, rec.Provider, rec.DataTypes,
			CollectionRunning, rec.TriggerKind, rec.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.StartCollection(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCollectionWritesTerminalStatus(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE collection_history`).
		WithArgs(id, CollectionPartial, 42, 3, "row 7: non-finite amount").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CompleteCollection(context.Background(), id,
		CollectionPartial, 42, 3, "row 7: non-finite amount")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCollectionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM collection_history`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCollection(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestLastSuccessfulCollectionNoHistory(t *testing.T) {
	store, mock := newMockStore(t)
	customerID := uuid.New()

	mock.ExpectQuery(`SELECT completed_at FROM collection_history`).
		WithArgs(customerID, "aws", "cost").
		WillReturnRows(sqlmock.NewRows([]string{"completed_at"}))

	got, err := store.LastSuccessfulCollection(context.Background(), customerID, "aws", "cost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCursorRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	customerID := uuid.New()

	mock.ExpectExec(`INSERT INTO collection_cursors`).
		WithArgs(customerID, "vultr", "cost", "page-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SaveCursor(context.Background(), customerID, "vultr", "cost", "page-3"))

	mock.ExpectQuery(`SELECT cursor FROM collection_cursors`).
		WithArgs(customerID, "vultr", "cost").
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow("page-3"))

	cursor, err := store.GetCursor(context.Background(), customerID, "vultr", "cost")
	require.NoError(t, err)
	assert.Equal(t, "page-3", cursor)
}

func TestGetCursorMissingIsEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	customerID := uuid.New()

	mock.ExpectQuery(`SELECT cursor FROM collection_cursors`).
		WithArgs(customerID, "gcp", "performance").
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}))

	cursor, err := store.GetCursor(context.Background(), customerID, "gcp", "performance")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}
