package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// stubWorkflowStore keeps engine state in maps; just enough for driving
// one optimize request end to end.
type stubWorkflowStore struct {
	mu    sync.Mutex
	opts  map[uuid.UUID]*relational.Optimization
	recs  map[uuid.UUID]*relational.Recommendation
	execs map[uuid.UUID]*relational.WorkflowExecution
}

func newStubWorkflowStore() *stubWorkflowStore {
	return &stubWorkflowStore{
		opts:  make(map[uuid.UUID]*relational.Optimization),
		recs:  make(map[uuid.UUID]*relational.Recommendation),
		execs: make(map[uuid.UUID]*relational.WorkflowExecution),
	}
}

func (s *stubWorkflowStore) CreateProposal(_ context.Context, opt *relational.Optimization, rec *relational.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opt.RecommendationID = &rec.ID
	s.opts[opt.ID] = opt
	s.recs[rec.ID] = rec
	return nil
}

func (s *stubWorkflowStore) GetOptimization(_ context.Context, id uuid.UUID) (*relational.Optimization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts[id], nil
}

func (s *stubWorkflowStore) SetOptimizationStatus(_ context.Context, id uuid.UUID, status string, _ relational.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts[id].Status = status
	return nil
}

func (s *stubWorkflowStore) SetRecommendationStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id].Status = status
	return nil
}

func (s *stubWorkflowStore) RecordApproval(context.Context, *relational.Approval) error { return nil }

func (s *stubWorkflowStore) ListApprovals(context.Context, uuid.UUID) ([]relational.Approval, error) {
	return nil, nil
}

func (s *stubWorkflowStore) CreateWorkflowExecution(_ context.Context, exec *relational.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[exec.ID] = exec
	return nil
}

func (s *stubWorkflowStore) ListResumableExecutions(context.Context, string) ([]relational.WorkflowExecution, error) {
	return nil, nil
}

func (s *stubWorkflowStore) TransitionWorkflow(_ context.Context, id uuid.UUID, toStatus, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec, ok := s.execs[id]; ok {
		exec.Status = toStatus
	}
	return nil
}

func (s *stubWorkflowStore) CheckpointWorkflow(context.Context, uuid.UUID, string, relational.JSONMap) error {
	return nil
}

func (s *stubWorkflowStore) StartWorkflowStep(context.Context, *relational.WorkflowStep) error {
	return nil
}

func (s *stubWorkflowStore) CompleteWorkflowStep(context.Context, uuid.UUID, string, relational.JSONMap, string) error {
	return nil
}

func (s *stubWorkflowStore) SaveWorkflowArtifact(context.Context, *relational.WorkflowArtifact) error {
	return nil
}

func (s *stubWorkflowStore) AcquireResourceLock(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

func (s *stubWorkflowStore) ReleaseResourceLock(context.Context, uuid.UUID, string) error {
	return nil
}

func testEngine(store *stubWorkflowStore, approver workflow.Approver) *workflow.Engine {
	registry := workflow.NewRegistry()
	workflow.RegisterBuiltins(registry)
	cfg := config.WorkflowConfig{
		RolloutPhases:     []int{50, 100},
		ApprovalThreshold: 0.7,
		StepTimeout:       time.Second,
		LockRetryInterval: time.Millisecond,
		LockMaxWait:       10 * time.Millisecond,
	}
	rec := events.NewRecorder(events.NewBus(16), nil, nil)
	return workflow.NewEngine(cfg, store, registry, approver, nil,
		workflow.NewNotifier(config.SMTPConfig{}), nil, rec)
}

func approveAll() workflow.Approver {
	return workflow.ApproverFunc(func(context.Context, *relational.Recommendation) ([]workflow.Vote, error) {
		return []workflow.Vote{{AgentType: "performance", Approved: true, Confidence: 0.9}}, nil
	})
}

func TestOptimizeEndpointDrivesWorkflow(t *testing.T) {
	store := newStubWorkflowStore()
	engine := testEngine(store, approveAll())
	srv := NewServer(config.AgentConfig{}, NewCostDomain(nil, engine, nil), engine, nil, nil)

	body := `{
		"customer_id": "` + uuid.NewString() + `",
		"workflow": "spot_migration",
		"resource_id": "asg-web",
		"title": "migrate web tier to spot",
		"estimated_savings": 300,
		"confidence": 0.8,
		"provider": "aws",
		"input": {"target_instances": 10}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/costs/optimize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		RecommendationID uuid.UUID `json:"recommendation_id"`
		ExecutionID      uuid.UUID `json:"execution_id"`
		Status           string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, relational.WorkflowCompleted, resp.Status)
	assert.Equal(t, relational.RecommendationApproved, store.recs[resp.RecommendationID].Status)
	assert.Equal(t, relational.WorkflowCompleted, store.execs[resp.ExecutionID].Status)
}

func TestOptimizeEndpointPausesOnLowConfidenceVotes(t *testing.T) {
	store := newStubWorkflowStore()
	lowConfidence := workflow.ApproverFunc(func(context.Context, *relational.Recommendation) ([]workflow.Vote, error) {
		return []workflow.Vote{{AgentType: "resource", Approved: true, Confidence: 0.2}}, nil
	})
	engine := testEngine(store, lowConfidence)
	srv := NewServer(config.AgentConfig{}, NewCostDomain(nil, engine, nil), engine, nil, nil)

	body := `{
		"customer_id": "` + uuid.NewString() + `",
		"workflow": "spot_migration",
		"resource_id": "asg-web",
		"input": {"target_instances": 4}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/costs/optimize", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, relational.WorkflowWaitingApproval, resp.Status)
}

func TestOptimizeEndpointValidatesRequest(t *testing.T) {
	engine := testEngine(newStubWorkflowStore(), approveAll())
	srv := NewServer(config.AgentConfig{}, NewCostDomain(nil, engine, nil), engine, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/costs/optimize", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveMountedAtRoot(t *testing.T) {
	srv := NewServer(config.AgentConfig{}, NewCostDomain(nil, nil, nil), nil, nil, nil)

	body := `{"customer_id":"` + uuid.NewString() + `","title":"scale down","estimated_savings":10}`
	req := httptest.NewRequest(http.MethodPost, "/costs/approve", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vote workflow.Vote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vote))
	assert.Equal(t, "cost", vote.AgentType)
	assert.True(t, vote.Approved)
}
