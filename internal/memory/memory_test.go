package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedderIsDeterministic(t *testing.T) {
	e := NewDeterministicEmbedder(64)
	a, err := e.Embed(context.Background(), "spot migration on aws g5 instances")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "spot migration on aws g5 instances")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeterministicEmbedderUnitLength(t *testing.T) {
	e := NewDeterministicEmbedder(64)
	vec, err := e.Embed(context.Background(), "rightsizing overprovisioned gpu workers")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestDeterministicEmbedderEmptyText(t *testing.T) {
	e := NewDeterministicEmbedder(16)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := New(context.Background(), NewLocalStore(), NewDeterministicEmbedder(128))
	require.NoError(t, err)
	return m
}

func TestRecallOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	_, err := m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-1",
		CustomerID:     "cust-1",
		Type:           "spot_migration",
		Context:        "migrated gpu training workers to spot instances on aws",
		Outcome:        OutcomeSuccess,
		SavingsPercent: 62,
		CloudProvider:  "aws",
	})
	require.NoError(t, err)
	_, err = m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-2",
		CustomerID:     "cust-1",
		Type:           "storage_cleanup",
		Context:        "deleted orphaned block storage volumes on digitalocean",
		Outcome:        OutcomeSuccess,
		SavingsPercent: 8,
		CloudProvider:  "digitalocean",
	})
	require.NoError(t, err)

	matches, err := m.SearchCostKnowledge(ctx, Query{
		Text: "spot instances for gpu training on aws",
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "opt-1", matches[0].Knowledge.OptimizationID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestRecallHonorsFilter(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	_, err := m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-good",
		Type:           "spot_migration",
		Context:        "spot migration went smoothly",
		Outcome:        OutcomeSuccess,
	})
	require.NoError(t, err)
	_, err = m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-bad",
		Type:           "spot_migration",
		Context:        "spot migration interrupted training jobs",
		Outcome:        OutcomeFailed,
		LessonsLearned: "checkpoint before preemption",
	})
	require.NoError(t, err)

	matches, err := m.SearchCostKnowledge(ctx, Query{
		Text:   "spot migration",
		Filter: Filter{"outcome": OutcomeFailed},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "opt-bad", matches[0].Knowledge.OptimizationID)
	assert.Equal(t, "checkpoint before preemption", matches[0].Knowledge.LessonsLearned)
}

func TestRecallFiltersOutcomeAndRanksCloser(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	_, err := m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-etl",
		Type:           "spot_migration",
		Context:        "migrate batch etl workers to spot with checkpointing enabled",
		Outcome:        OutcomeSuccess,
	})
	require.NoError(t, err)
	_, err = m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-db",
		Type:           "rightsizing",
		Context:        "downsized overprovisioned database replicas",
		Outcome:        OutcomeSuccess,
	})
	require.NoError(t, err)
	_, err = m.RecordCostKnowledge(ctx, CostKnowledge{
		OptimizationID: "opt-crash",
		Type:           "spot_migration",
		Context:        "spot preemption killed etl jobs mid-run",
		Outcome:        OutcomeFailed,
	})
	require.NoError(t, err)

	matches, err := m.SearchCostKnowledge(ctx, Query{
		Text:   "migrate batch etl to spot with checkpointing",
		Filter: Filter{"outcome": OutcomeSuccess},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "opt-etl", matches[0].Knowledge.OptimizationID)
	assert.Equal(t, "opt-db", matches[1].Knowledge.OptimizationID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestRecordStampsRecordedAt(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	_, err := m.RecordCustomerContext(ctx, CustomerContext{
		CustomerID:  "cust-1",
		ContextType: "preference",
		Topic:       "maintenance window",
		Content:     "no changes on weekends",
		Confidence:  0.9,
	})
	require.NoError(t, err)

	matches, err := m.SearchCustomerContext(ctx, Query{Text: "maintenance window"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.NotEmpty(t, matches[0].Context.RecordedAt)
}

func TestSearchRequiresText(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.SearchPerformancePatterns(context.Background(), Query{})
	assert.Error(t, err)
}

func TestSearchCapsAtTopK(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	for i := 0; i < 8; i++ {
		_, err := m.RecordPerformancePattern(ctx, PerformancePattern{
			OptimizationID:      "opt",
			ServiceType:         "inference",
			ProblemDescription:  "slow p99 latency under load",
			SolutionDescription: "enabled batching",
			ImprovementFactor:   2,
		})
		require.NoError(t, err)
	}

	matches, err := m.SearchPerformancePatterns(ctx, Query{
		Text: "latency batching",
		TopK: 3,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestLocalStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore()
	require.NoError(t, s.EnsureCollection(ctx, "c", 4))

	err := s.Upsert(ctx, "c", Point{ID: "p", Vector: []float32{1, 2}})
	assert.Error(t, err)

	err = s.EnsureCollection(ctx, "c", 8)
	assert.Error(t, err)

	require.NoError(t, s.EnsureCollection(ctx, "c", 4))
}
