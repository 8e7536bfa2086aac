package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := relational.NewStore(sqlx.NewDb(db, "pgx"))
	rec := events.NewRecorder(events.NewBus(8), store, nil)
	return New(&config.Config{}, store, nil, nil, Readers{}, nil, rec), mock
}

func TestRegisterAgentRoute(t *testing.T) {
	s, mock := newTestServer(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO agents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO agent_states`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM agents`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_type", "status"}))

	body := `{"type":"cost","endpoint":"http://cost-agent:9001"}`
	req := httptest.NewRequest(http.MethodPost, "/agents/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var agent relational.Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agent))
	assert.Equal(t, "cost", agent.AgentType)
	assert.NotEqual(t, uuid.Nil, agent.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterAgentRejectsMissingType(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"endpoint":"http://cost-agent:9001"}`
	req := httptest.NewRequest(http.MethodPost, "/agents/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCollectionRoute(t *testing.T) {
	s, mock := newTestServer(t)
	id := uuid.New()
	customerID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM collection_history WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "customer_id", "provider", "status", "metrics_collected",
		}).AddRow(id, customerID, "aws", relational.CollectionSuccess, 120))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collect/"+id.String(), nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec relational.CollectionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, relational.CollectionSuccess, rec.Status)
	assert.Equal(t, 120, rec.MetricsCollected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardRequiresCustomerQueryParam(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialListRequiresCustomerQueryParam(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credentials", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
