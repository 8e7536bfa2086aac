package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		votes        []Vote
		threshold    float64
		wantApproved bool
		wantMean     float64
	}{
		{
			name:      "no votes is not approval",
			votes:     nil,
			threshold: 0.75,
		},
		{
			name: "unanimous confident approval",
			votes: []Vote{
				{AgentType: "performance", Approved: true, Confidence: 0.9},
				{AgentType: "resource", Approved: true, Confidence: 0.8},
			},
			threshold:    0.75,
			wantApproved: true,
			wantMean:     0.85,
		},
		{
			name: "single rejection vetoes",
			votes: []Vote{
				{AgentType: "performance", Approved: true, Confidence: 0.95},
				{AgentType: "resource", Approved: false, Confidence: 0.9},
				{AgentType: "application", Approved: true, Confidence: 0.95},
			},
			threshold: 0.75,
			wantMean:  0.9333333333333332,
		},
		{
			name: "mean confidence below threshold",
			votes: []Vote{
				{AgentType: "performance", Approved: true, Confidence: 0.6},
				{AgentType: "resource", Approved: true, Confidence: 0.7},
			},
			threshold: 0.75,
			wantMean:  0.65,
		},
		{
			name: "mean exactly at threshold passes",
			votes: []Vote{
				{AgentType: "performance", Approved: true, Confidence: 0.75},
			},
			threshold:    0.75,
			wantApproved: true,
			wantMean:     0.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.votes, tt.threshold)
			assert.Equal(t, tt.wantApproved, d.Approved)
			assert.InDelta(t, tt.wantMean, d.MeanConfidence, 1e-9)
		})
	}
}

func TestDecisionReason(t *testing.T) {
	assert.Contains(t, Decision{Approved: true, MeanConfidence: 0.9}.Reason(), "approved")
	assert.Contains(t, Decision{Rejections: []string{"resource"}}.Reason(), "rejected by resource")
	assert.Contains(t, Decision{MeanConfidence: 0.4}.Reason(), "below threshold")
}
