package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/memory"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// fakeStore keeps engine state in maps so lifecycle tests can assert on
// every durable write.
type fakeStore struct {
	mu          sync.Mutex
	opts        map[uuid.UUID]*relational.Optimization
	recs        map[uuid.UUID]*relational.Recommendation
	execs       map[uuid.UUID]*relational.WorkflowExecution
	approvals   map[uuid.UUID][]relational.Approval
	steps       []relational.WorkflowStep
	artifacts   []relational.WorkflowArtifact
	transitions []string
	locks       map[string]uuid.UUID
	resumable   []relational.WorkflowExecution
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		opts:      make(map[uuid.UUID]*relational.Optimization),
		recs:      make(map[uuid.UUID]*relational.Recommendation),
		execs:     make(map[uuid.UUID]*relational.WorkflowExecution),
		approvals: make(map[uuid.UUID][]relational.Approval),
		locks:     make(map[string]uuid.UUID),
	}
}

func (f *fakeStore) CreateProposal(_ context.Context, opt *relational.Optimization, rec *relational.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	opt.Status = relational.OptimizationProposed
	opt.RecommendationID = &rec.ID
	rec.Status = relational.RecommendationPending
	f.opts[opt.ID] = opt
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetOptimization(_ context.Context, id uuid.UUID) (*relational.Optimization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[id], nil
}

func (f *fakeStore) SetOptimizationStatus(_ context.Context, id uuid.UUID, status string, outcome relational.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts[id].Status = status
	if outcome != nil {
		f.opts[id].Outcome = outcome
	}
	return nil
}

func (f *fakeStore) SetRecommendationStatus(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id].Status = status
	return nil
}

func (f *fakeStore) RecordApproval(_ context.Context, a *relational.Approval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals[a.RecommendationID] = append(f.approvals[a.RecommendationID], *a)
	return nil
}

func (f *fakeStore) ListApprovals(_ context.Context, recommendationID uuid.UUID) ([]relational.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[recommendationID], nil
}

func (f *fakeStore) CreateWorkflowExecution(_ context.Context, exec *relational.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[exec.ID] = exec
	return nil
}

func (f *fakeStore) ListResumableExecutions(_ context.Context, _ string) ([]relational.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumable, nil
}

func (f *fakeStore) TransitionWorkflow(_ context.Context, id uuid.UUID, toStatus, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, toStatus)
	if exec, ok := f.execs[id]; ok {
		exec.Status = toStatus
	}
	return nil
}

func (f *fakeStore) CheckpointWorkflow(_ context.Context, id uuid.UUID, currentStep string, state relational.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exec, ok := f.execs[id]; ok {
		exec.CurrentStep = currentStep
		exec.State = state
	}
	return nil
}

func (f *fakeStore) StartWorkflowStep(_ context.Context, step *relational.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	step.Status = relational.StepRunning
	f.steps = append(f.steps, *step)
	return nil
}

func (f *fakeStore) CompleteWorkflowStep(_ context.Context, stepID uuid.UUID, status string, output relational.JSONMap, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.steps {
		if f.steps[i].ID == stepID {
			f.steps[i].Status = status
			f.steps[i].Output = output
		}
	}
	return nil
}

func (f *fakeStore) SaveWorkflowArtifact(_ context.Context, a *relational.WorkflowArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, *a)
	return nil
}

func (f *fakeStore) AcquireResourceLock(_ context.Context, agentID uuid.UUID, resource string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder, ok := f.locks[resource]; ok && holder != agentID {
		return false, nil
	}
	f.locks[resource] = agentID
	return true, nil
}

func (f *fakeStore) ReleaseResourceLock(_ context.Context, _ uuid.UUID, resource string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, resource)
	return nil
}

func (f *fakeStore) artifactTypes() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, a := range f.artifacts {
		out[a.ArtifactType]++
	}
	return out
}

func (f *fakeStore) stepNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.steps))
	for _, s := range f.steps {
		names = append(names, s.StepName)
	}
	return names
}

// fakeQuality hands out scores in sequence, repeating the last one.
type fakeQuality struct {
	mu     sync.Mutex
	scores []float64
	idx    int
}

func (q *fakeQuality) AvgScore(context.Context, uuid.UUID, string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	score := q.scores[q.idx]
	if q.idx < len(q.scores)-1 {
		q.idx++
	}
	return score, nil
}

func cannedVotes(votes ...Vote) Approver {
	return ApproverFunc(func(context.Context, *relational.Recommendation) ([]Vote, error) {
		return votes, nil
	})
}

func testMemory(t *testing.T) *memory.Memory {
	t.Helper()
	mem, err := memory.New(context.Background(), memory.NewLocalStore(), memory.NewDeterministicEmbedder(64))
	require.NoError(t, err)
	return mem
}

func lifecycleEngine(store *fakeStore, approver Approver, quality QualityChecker, mem *memory.Memory) *Engine {
	registry := NewRegistry()
	RegisterBuiltins(registry)
	cfg := config.WorkflowConfig{
		RolloutPhases:              []int{50, 100},
		ApprovalThreshold:          0.7,
		QualityRegressionThreshold: 0.1,
		StepTimeout:                time.Second,
		MaxStepRetries:             1,
		LockRetryInterval:          time.Millisecond,
		LockMaxWait:                50 * time.Millisecond,
	}
	rec := events.NewRecorder(events.NewBus(64), nil, nil)
	return NewEngine(cfg, store, registry, approver, quality, NewNotifier(config.SMTPConfig{}), mem, rec)
}

func spotProposal(t *testing.T, e *Engine, customerID uuid.UUID) *relational.Recommendation {
	t.Helper()
	rec, err := e.Propose(context.Background(), Proposal{
		CustomerID:       customerID,
		AgentType:        "cost",
		ActionType:       "spot_migration",
		ResourceID:       "asg-web-prod",
		Title:            "migrate web tier to spot",
		Description:      "on-demand web tier is spot-eligible",
		Action:           relational.JSONMap{"target": "spot"},
		EstimatedSavings: 1200,
		Confidence:       0.9,
	})
	require.NoError(t, err)
	return rec
}

func TestExecuteApprovedRunsToCompletion(t *testing.T) {
	store := newFakeStore()
	mem := testMemory(t)
	approver := cannedVotes(
		Vote{AgentType: "performance", Approved: true, Confidence: 0.9},
		Vote{AgentType: "resource", Approved: true, Confidence: 0.8},
	)
	e := lifecycleEngine(store, approver, &fakeQuality{scores: []float64{0.95}}, mem)

	customerID := uuid.New()
	rec := spotProposal(t, e, customerID)
	agentID := uuid.New()

	exec, err := e.Execute(context.Background(), ExecuteRequest{
		WorkflowName:   WorkflowSpotMigration,
		Recommendation: rec,
		AgentID:        &agentID,
		Provider:       "aws",
		Input:          relational.JSONMap{"target_instances": float64(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, relational.WorkflowCompleted, exec.Status)

	assert.Equal(t, relational.RecommendationApproved, store.recs[rec.ID].Status)
	assert.Equal(t, relational.OptimizationCompleted, store.opts[rec.OptimizationID].Status)
	assert.Equal(t, []string{
		relational.WorkflowRunning,
		relational.WorkflowCompleted,
	}, store.transitions)

	types := store.artifactTypes()
	assert.Equal(t, 1, types[relational.ArtifactSnapshotBefore])
	assert.Equal(t, 1, types[relational.ArtifactSnapshotAfter])
	assert.Equal(t, 1, types[relational.ArtifactDiff])
	assert.Empty(t, store.locks, "resource lock must be released")

	matches, err := mem.SearchCostKnowledge(context.Background(), memory.Query{
		Text:   "spot_migration asg-web-prod",
		Filter: memory.Filter{"outcome": memory.OutcomeSuccess},
	})
	require.NoError(t, err)
	require.NotEmpty(t, matches, "completion must land in semantic memory")
	assert.Equal(t, rec.OptimizationID.String(), matches[0].Knowledge.OptimizationID)
	assert.Equal(t, "aws", matches[0].Knowledge.CloudProvider)
}

func TestExecuteRejectionPausesForHuman(t *testing.T) {
	store := newFakeStore()
	approver := cannedVotes(Vote{
		AgentType:  "resource",
		Approved:   false,
		Confidence: 0.9,
		Rationale:  "resource is pinned by a migration freeze",
	})
	e := lifecycleEngine(store, approver, nil, nil)

	rec := spotProposal(t, e, uuid.New())
	exec, err := e.Execute(context.Background(), ExecuteRequest{
		WorkflowName:   WorkflowSpotMigration,
		Recommendation: rec,
		Input:          relational.JSONMap{"target_instances": float64(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, relational.WorkflowWaitingApproval, exec.Status)
	assert.Equal(t, relational.RecommendationWaitingHuman, store.recs[rec.ID].Status)
	assert.Equal(t, relational.OptimizationProposed, store.opts[rec.OptimizationID].Status)
	assert.Empty(t, store.steps, "no step may run before approval")
}

func TestResumeAfterHumanOverrideCompletes(t *testing.T) {
	store := newFakeStore()
	// An approving peer below the confidence threshold pauses the run
	// without a rejection, leaving it eligible for a human override.
	approver := cannedVotes(Vote{AgentType: "performance", Approved: true, Confidence: 0.5})
	e := lifecycleEngine(store, approver, nil, nil)

	rec := spotProposal(t, e, uuid.New())
	exec, err := e.Execute(context.Background(), ExecuteRequest{
		WorkflowName:   WorkflowSpotMigration,
		Recommendation: rec,
		Provider:       "aws",
		Input:          relational.JSONMap{"target_instances": float64(4)},
	})
	require.NoError(t, err)
	require.Equal(t, relational.WorkflowWaitingApproval, exec.Status)

	require.NoError(t, store.RecordApproval(context.Background(), &relational.Approval{
		ID:                 uuid.New(),
		RecommendationID:   rec.ID,
		ApprovingAgentType: "human",
		Approved:           true,
		Confidence:         1.0,
		Rationale:          "reviewed and safe",
	}))
	store.resumable = []relational.WorkflowExecution{*store.execs[exec.ID]}

	require.NoError(t, e.Resume(context.Background(), "cost"))
	assert.Equal(t, relational.WorkflowCompleted, store.execs[exec.ID].Status)
	assert.Equal(t, relational.RecommendationApproved, store.recs[rec.ID].Status)
	assert.Equal(t, relational.OptimizationCompleted, store.opts[rec.OptimizationID].Status)
}

func TestQualityRegressionRollsBack(t *testing.T) {
	store := newFakeStore()
	mem := testMemory(t)
	approver := cannedVotes(Vote{AgentType: "application", Approved: true, Confidence: 0.9})
	// Baseline 1.0, then 0.6 after the first phase: a 40% drop against a
	// 10% threshold.
	quality := &fakeQuality{scores: []float64{1.0, 0.6}}
	e := lifecycleEngine(store, approver, quality, mem)

	rec := spotProposal(t, e, uuid.New())
	exec, err := e.Execute(context.Background(), ExecuteRequest{
		WorkflowName:   WorkflowSpotMigration,
		Recommendation: rec,
		Provider:       "aws",
		Input:          relational.JSONMap{"target_instances": float64(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, relational.WorkflowRolledBack, exec.Status)
	assert.Equal(t, relational.OptimizationRolledBack, store.opts[rec.OptimizationID].Status)

	types := store.artifactTypes()
	assert.GreaterOrEqual(t, types[relational.ArtifactUndo], 1, "rollback must record undo artifacts")

	rolledBack := 0
	store.mu.Lock()
	for _, s := range store.steps {
		if s.Status == relational.StepRolledBack {
			rolledBack++
		}
	}
	store.mu.Unlock()
	assert.GreaterOrEqual(t, rolledBack, 1)

	matches, err := mem.SearchCostKnowledge(context.Background(), memory.Query{
		Text:   "spot_migration asg-web-prod",
		Filter: memory.Filter{"outcome": memory.OutcomeFailed},
	})
	require.NoError(t, err)
	require.NotEmpty(t, matches, "rollback must land in semantic memory")
	assert.Contains(t, matches[0].Knowledge.LessonsLearned, "quality regression")
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	store := newFakeStore()
	e := lifecycleEngine(store, cannedVotes(), nil, nil)

	rec := spotProposal(t, e, uuid.New())
	opt := store.opts[rec.OptimizationID]
	opt.Status = relational.OptimizationExecuting

	exec := &relational.WorkflowExecution{
		ID:             uuid.New(),
		WorkflowName:   WorkflowSpotMigration,
		AgentType:      "cost",
		CustomerID:     rec.CustomerID,
		OptimizationID: &opt.ID,
		ResourceID:     opt.ResourceID,
		Status:         relational.WorkflowRunning,
		CurrentStep:    "migrate_to_spot_phase_50",
		State: relational.JSONMap{
			"provider":        "aws",
			"input":           map[string]interface{}{"target_instances": float64(10)},
			"completed_steps": []interface{}{"capture_baseline", "migrate_to_spot_phase_50"},
			"outputs":         map[string]interface{}{},
		},
	}
	require.NoError(t, store.CreateWorkflowExecution(context.Background(), exec))
	store.resumable = []relational.WorkflowExecution{*exec}

	require.NoError(t, e.Resume(context.Background(), "cost"))
	assert.Equal(t, relational.WorkflowCompleted, store.execs[exec.ID].Status)
	assert.Equal(t, []string{"migrate_to_spot_phase_100", "verify_migration"}, store.stepNames(),
		"already-checkpointed steps must not run again")
}
