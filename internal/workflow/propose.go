package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Proposal is one agent-produced optimization candidate.
type Proposal struct {
	CustomerID       uuid.UUID          `json:"customer_id"`
	AgentType        string             `json:"agent_type"`
	ActionType       string             `json:"action_type"`
	ResourceID       string             `json:"resource_id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	Action           relational.JSONMap `json:"action"`
	EstimatedSavings float64            `json:"estimated_savings"`
	Confidence       float64            `json:"confidence"`
}

// Propose records the optimization and its recommendation, returning the
// recommendation ready for the approval gate.
func (e *Engine) Propose(ctx context.Context, p Proposal) (*relational.Recommendation, error) {
	opt := &relational.Optimization{
		ID:         uuid.New(),
		CustomerID: p.CustomerID,
		AgentType:  p.AgentType,
		ActionType: p.ActionType,
		ResourceID: p.ResourceID,
		Outcome:    relational.JSONMap{},
	}
	rec := &relational.Recommendation{
		ID:               uuid.New(),
		OptimizationID:   opt.ID,
		CustomerID:       p.CustomerID,
		AgentType:        p.AgentType,
		Title:            p.Title,
		Description:      p.Description,
		Action:           p.Action,
		EstimatedSavings: p.EstimatedSavings,
		Confidence:       p.Confidence,
	}
	if err := e.store.CreateProposal(ctx, opt, rec); err != nil {
		return nil, err
	}

	e.rec.Record(ctx, events.New(events.RecommendationCreated, "workflow", map[string]interface{}{
		"recommendation_id": rec.ID.String(),
		"optimization_id":   opt.ID.String(),
		"agent_type":        p.AgentType,
		"title":             p.Title,
	}).ForCustomer(p.CustomerID))
	return rec, nil
}
