package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Vote is one peer agent's decision on a recommendation.
type Vote struct {
	AgentType  string  `json:"agent_type"`
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Approver collects peer votes for a recommendation. The orchestrator
// implements it by fanning out to peer agents' /approve endpoints; tests
// implement it with canned votes.
type Approver interface {
	RequestVotes(ctx context.Context, rec *relational.Recommendation) ([]Vote, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, rec *relational.Recommendation) ([]Vote, error)

func (f ApproverFunc) RequestVotes(ctx context.Context, rec *relational.Recommendation) ([]Vote, error) {
	return f(ctx, rec)
}

// Decision is the evaluated approval outcome.
type Decision struct {
	Approved       bool     `json:"approved"`
	MeanConfidence float64  `json:"mean_confidence"`
	Rejections     []string `json:"rejections,omitempty"`
}

// Reason renders the decision for transition logs and escalation mail.
func (d Decision) Reason() string {
	if d.Approved {
		return fmt.Sprintf("approved, mean confidence %.2f", d.MeanConfidence)
	}
	if len(d.Rejections) > 0 {
		return fmt.Sprintf("rejected by %s", strings.Join(d.Rejections, ", "))
	}
	return fmt.Sprintf("mean confidence %.2f below threshold", d.MeanConfidence)
}

// Evaluate applies the approval policy: proceed only when at least one
// vote exists, no peer rejects, and mean confidence meets the threshold.
func Evaluate(votes []Vote, threshold float64) Decision {
	d := Decision{}
	if len(votes) == 0 {
		return d
	}

	var sum float64
	for _, v := range votes {
		sum += v.Confidence
		if !v.Approved {
			d.Rejections = append(d.Rejections, v.AgentType)
		}
	}
	d.MeanConfidence = sum / float64(len(votes))
	d.Approved = len(d.Rejections) == 0 && d.MeanConfidence >= threshold
	return d
}
