package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// Optimization statuses.
const (
	OptimizationProposed   = "proposed"
	OptimizationApproved   = "approved"
	OptimizationRejected   = "rejected"
	OptimizationExecuting  = "executing"
	OptimizationCompleted  = "completed"
	OptimizationFailed     = "failed"
	OptimizationRolledBack = "rolled_back"
)

// Recommendation statuses.
const (
	RecommendationPending      = "pending"
	RecommendationApproved     = "approved"
	RecommendationDenied       = "denied"
	RecommendationWaitingHuman = "waiting_human"
)

// Optimization is one row of optimizations: a proposed or executed action.
type Optimization struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	CustomerID       uuid.UUID  `db:"customer_id" json:"customer_id"`
	AgentType        string     `db:"agent_type" json:"agent_type"`
	ActionType       string     `db:"action_type" json:"action_type"`
	ResourceID       string     `db:"resource_id" json:"resource_id"`
	Status           string     `db:"status" json:"status"`
	RecommendationID *uuid.UUID `db:"recommendation_id" json:"recommendation_id,omitempty"`
	Outcome          JSONMap    `db:"outcome" json:"outcome"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExecutedAt       *time.Time `db:"executed_at" json:"executed_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Recommendation is one agent-produced proposal awaiting approval.
type Recommendation struct {
	ID               uuid.UUID `db:"id" json:"id"`
	OptimizationID   uuid.UUID `db:"optimization_id" json:"optimization_id"`
	CustomerID       uuid.UUID `db:"customer_id" json:"customer_id"`
	AgentType        string    `db:"agent_type" json:"agent_type"`
	Title            string    `db:"title" json:"title"`
	Description      string    `db:"description" json:"description"`
	Action           JSONMap   `db:"action" json:"action"`
	EstimatedSavings float64   `db:"estimated_savings" json:"estimated_savings"`
	Confidence       float64   `db:"confidence" json:"confidence"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Approval is one peer agent's recorded vote on a recommendation.
type Approval struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	RecommendationID   uuid.UUID `db:"recommendation_id" json:"recommendation_id"`
	ApprovingAgentType string    `db:"approving_agent_type" json:"approving_agent_type"`
	Approved           bool      `db:"approved" json:"approved"`
	Confidence         float64   `db:"confidence" json:"confidence"`
	Rationale          string    `db:"rationale" json:"rationale"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// CreateProposal inserts the optimization and its recommendation in one
// transaction, linking them both ways.
func (s *Store) CreateProposal(ctx context.Context, opt *Optimization, rec *Recommendation) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO optimizations (id, customer_id, agent_type, action_type, resource_id, status, outcome)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			opt.ID, opt.CustomerID, opt.AgentType, opt.ActionType, opt.ResourceID,
			OptimizationProposed, opt.Outcome)
		if err != nil {
			return fmt.Errorf("insert optimization: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO recommendations
				(id, optimization_id, customer_id, agent_type, title, description, action, estimated_savings, confidence, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, opt.ID, rec.CustomerID, rec.AgentType, rec.Title, rec.Description,
			rec.Action, rec.EstimatedSavings, rec.Confidence, RecommendationPending)
		if err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE optimizations SET recommendation_id = $2 WHERE id = $1`, opt.ID, rec.ID)
		if err != nil {
			return fmt.Errorf("link recommendation: %w", err)
		}
		return nil
	})
}

// GetRecommendation loads one recommendation.
func (s *Store) GetRecommendation(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	var rec Recommendation
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM recommendations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "recommendation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return &rec, nil
}

// ListRecommendations returns recent recommendations for a customer.
func (s *Store) ListRecommendations(ctx context.Context, customerID uuid.UUID, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []Recommendation
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM recommendations WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	return recs, nil
}

// SetRecommendationStatus moves the recommendation through the approval
// lifecycle.
func (s *Store) SetRecommendationStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set recommendation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational", "recommendation %s not found", id)
	}
	return nil
}

// RecordApproval stores one peer vote; a repeat vote from the same agent
// type overwrites the previous decision.
func (s *Store) RecordApproval(ctx context.Context, a *Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, recommendation_id, approving_agent_type, approved, confidence, rationale)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recommendation_id, approving_agent_type)
		DO UPDATE SET approved = EXCLUDED.approved, confidence = EXCLUDED.confidence,
		              rationale = EXCLUDED.rationale, created_at = now()`,
		a.ID, a.RecommendationID, a.ApprovingAgentType, a.Approved, a.Confidence, a.Rationale)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// ListApprovals returns all votes for one recommendation.
func (s *Store) ListApprovals(ctx context.Context, recommendationID uuid.UUID) ([]Approval, error) {
	var out []Approval
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM approvals WHERE recommendation_id = $1
		ORDER BY approving_agent_type`, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return out, nil
}

// SetOptimizationStatus moves an optimization through its lifecycle,
// stamping executed_at/completed_at at the matching transitions.
func (s *Store) SetOptimizationStatus(ctx context.Context, id uuid.UUID, status string, outcome JSONMap) error {
	query := `UPDATE optimizations SET status = $2`
	args := []interface{}{id, status}
	if outcome != nil {
		query += `, outcome = $3`
		args = append(args, outcome)
	}
	switch status {
	case OptimizationExecuting:
		query += `, executed_at = now()`
	case OptimizationCompleted, OptimizationFailed, OptimizationRolledBack:
		query += `, completed_at = now()`
	}
	query += ` WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set optimization status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational", "optimization %s not found", id)
	}
	return nil
}

// GetOptimization loads one optimization.
func (s *Store) GetOptimization(ctx context.Context, id uuid.UUID) (*Optimization, error) {
	var opt Optimization
	err := s.db.GetContext(ctx, &opt, `SELECT * FROM optimizations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "optimization %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get optimization: %w", err)
	}
	return &opt, nil
}
