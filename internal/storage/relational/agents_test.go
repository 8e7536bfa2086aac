package relational

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

func TestRecordHeartbeatFlipsActive(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE agents`).
		WithArgs(id, AgentStatusActive, AgentStatusTerminated).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(AgentStatusActive))

	status, err := store.RecordHeartbeat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AgentStatusActive, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordHeartbeatTerminatedAgent(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE agents`).
		WithArgs(id, AgentStatusActive, AgentStatusTerminated).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := store.RecordHeartbeat(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestReapStaleAgentsReturnsTransitioned(t *testing.T) {
	store, mock := newMockStore(t)
	staleID := uuid.New()

	mock.ExpectQuery(`UPDATE agents`).
		WithArgs(AgentStatusUnhealthy, AgentStatusActive, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_type", "status"}).
			AddRow(staleID, "cost", AgentStatusUnhealthy))

	reaped, err := store.ReapStaleAgents(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, staleID, reaped[0].ID)
	assert.Equal(t, AgentStatusUnhealthy, reaped[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReapStaleAgentsNoneStale(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE agents`).
		WithArgs(AgentStatusUnhealthy, AgentStatusActive, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_type", "status"}))

	reaped, err := store.ReapStaleAgents(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, reaped)
}

func TestTerminateAgentMissing(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE agents SET status`).
		WithArgs(id, AgentStatusTerminated).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TerminateAgent(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestActiveAgentByTypeNoneActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM agents`).
		WithArgs("performance", AgentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.ActiveAgentByType(context.Background(), "performance")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
