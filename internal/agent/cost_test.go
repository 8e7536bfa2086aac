package agent

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/memory"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

func testMemory(t *testing.T) *memory.Memory {
	t.Helper()
	m, err := memory.New(context.Background(), memory.NewLocalStore(), memory.NewDeterministicEmbedder(128))
	require.NoError(t, err)
	return m
}

func TestCostApproveRejectsNegativeSavings(t *testing.T) {
	d := NewCostDomain(nil, nil, nil)

	vote := d.Approve(context.Background(), &relational.Recommendation{
		CustomerID:       uuid.New(),
		Title:            "move to larger instances",
		EstimatedSavings: -120,
	})

	assert.False(t, vote.Approved)
	assert.Equal(t, "cost", vote.AgentType)
	assert.InDelta(t, 0.3, vote.Confidence, 1e-9)
}

func TestCostApproveLowersConfidenceOnFailedHistory(t *testing.T) {
	ctx := context.Background()
	mem := testMemory(t)
	customerID := uuid.New()

	_, err := mem.RecordCostKnowledge(ctx, memory.CostKnowledge{
		OptimizationID: "opt-1",
		CustomerID:     customerID.String(),
		Type:           "spot_migration",
		Context:        "migrate gpu training workers to spot instances",
		Outcome:        memory.OutcomeFailed,
		LessonsLearned: "checkpoint before preemption",
	})
	require.NoError(t, err)

	d := NewCostDomain(nil, nil, mem)
	vote := d.Approve(ctx, &relational.Recommendation{
		CustomerID:       customerID,
		Title:            "spot_migration migrate gpu training workers to spot instances",
		Description:      "checkpoint before preemption",
		EstimatedSavings: 400,
	})

	assert.True(t, vote.Approved)
	assert.InDelta(t, 0.6, vote.Confidence, 1e-9)
	assert.Contains(t, vote.Rationale, "preemption")
}

func TestCostApproveCleanHistory(t *testing.T) {
	d := NewCostDomain(nil, nil, testMemory(t))

	vote := d.Approve(context.Background(), &relational.Recommendation{
		CustomerID:       uuid.New(),
		Title:            "delete orphaned volumes",
		EstimatedSavings: 55,
	})

	assert.True(t, vote.Approved)
	assert.InDelta(t, 0.85, vote.Confidence, 1e-9)
}
