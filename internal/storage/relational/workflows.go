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

// Workflow execution statuses.
const (
	WorkflowPending         = "pending"
	WorkflowRunning         = "running"
	WorkflowWaitingApproval = "waiting_approval"
	WorkflowCompleted       = "completed"
	WorkflowFailed          = "failed"
	WorkflowRolledBack      = "rolled_back"
)

// Workflow step statuses.
const (
	StepPending    = "pending"
	StepRunning    = "running"
	StepCompleted  = "completed"
	StepFailed     = "failed"
	StepSkipped    = "skipped"
	StepRolledBack = "rolled_back"
)

// Artifact types stored against a workflow execution.
const (
	ArtifactSnapshotBefore = "snapshot_before"
	ArtifactSnapshotAfter  = "snapshot_after"
	ArtifactDiff           = "diff"
	ArtifactUndo           = "undo"
)

// WorkflowExecution is the durable record of one workflow run.
type WorkflowExecution struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	WorkflowName   string     `db:"workflow_name" json:"workflow_name"`
	AgentID        *uuid.UUID `db:"agent_id" json:"agent_id,omitempty"`
	AgentType      string     `db:"agent_type" json:"agent_type"`
	CustomerID     uuid.UUID  `db:"customer_id" json:"customer_id"`
	OptimizationID *uuid.UUID `db:"optimization_id" json:"optimization_id,omitempty"`
	ResourceID     string     `db:"resource_id" json:"resource_id"`
	Status         string     `db:"status" json:"status"`
	CurrentStep    string     `db:"current_step" json:"current_step"`
	State          JSONMap    `db:"state" json:"state"`
	Error          *string    `db:"error" json:"error,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// WorkflowStep is one node execution within a run.
type WorkflowStep struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ExecutionID uuid.UUID  `db:"execution_id" json:"execution_id"`
	StepName    string     `db:"step_name" json:"step_name"`
	Status      string     `db:"status" json:"status"`
	Attempt     int        `db:"attempt" json:"attempt"`
	Input       JSONMap    `db:"input" json:"input"`
	Output      JSONMap    `db:"output" json:"output"`
	Error       *string    `db:"error" json:"error,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// WorkflowTransition is one append-only status change record.
type WorkflowTransition struct {
	ID          int64     `db:"id" json:"id"`
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`
	StepName    string    `db:"step_name" json:"step_name"`
	FromStatus  string    `db:"from_status" json:"from_status"`
	ToStatus    string    `db:"to_status" json:"to_status"`
	Reason      string    `db:"reason" json:"reason"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// WorkflowArtifact is one durable artifact (snapshot, diff, undo).
type WorkflowArtifact struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ExecutionID  uuid.UUID `db:"execution_id" json:"execution_id"`
	StepName     string    `db:"step_name" json:"step_name"`
	ArtifactType string    `db:"artifact_type" json:"artifact_type"`
	Content      JSONMap   `db:"content" json:"content"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CreateWorkflowExecution inserts the execution row and its initial
// transition.
func (s *Store) CreateWorkflowExecution(ctx context.Context, exec *WorkflowExecution) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_executions
				(id, workflow_name, agent_id, agent_type, customer_id, optimization_id, resource_id, status, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			exec.ID, exec.WorkflowName, exec.AgentID, exec.AgentType, exec.CustomerID,
			exec.OptimizationID, exec.ResourceID, WorkflowPending, exec.State)
		if err != nil {
			return fmt.Errorf("insert workflow execution: %w", err)
		}
		return insertTransition(ctx, tx, exec.ID, "", "", WorkflowPending, "created")
	})
}

// GetWorkflowExecution loads one run.
func (s *Store) GetWorkflowExecution(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	err := s.db.GetContext(ctx, &exec, `SELECT * FROM workflow_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "workflow execution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow execution: %w", err)
	}
	return &exec, nil
}

// ListResumableExecutions returns runs interrupted mid-flight, the set a
// restarted engine offers to resume.
func (s *Store) ListResumableExecutions(ctx context.Context, agentType string) ([]WorkflowExecution, error) {
	var out []WorkflowExecution
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM workflow_executions
		WHERE agent_type = $1 AND status IN ('running', 'waiting_approval')
		ORDER BY started_at`, agentType)
	if err != nil {
		return nil, fmt.Errorf("list resumable executions: %w", err)
	}
	return out, nil
}

// TransitionWorkflow moves the execution status and appends the
// transition record atomically.
func (s *Store) TransitionWorkflow(ctx context.Context, id uuid.UUID, toStatus, reason string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var fromStatus string
		err := tx.GetContext(ctx, &fromStatus, `
			SELECT status FROM workflow_executions WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Newf(apperrors.KindNotFound, "relational", "workflow execution %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("lock workflow execution: %w", err)
		}

		query := `UPDATE workflow_executions SET status = $2`
		switch toStatus {
		case WorkflowCompleted, WorkflowFailed, WorkflowRolledBack:
			query += `, completed_at = now()`
		}
		if toStatus == WorkflowFailed && reason != "" {
			query += `, error = $3 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, query, id, toStatus, reason); err != nil {
				return fmt.Errorf("update workflow status: %w", err)
			}
		} else {
			query += ` WHERE id = $1`
			if _, err := tx.ExecContext(ctx, query, id, toStatus); err != nil {
				return fmt.Errorf("update workflow status: %w", err)
			}
		}
		return insertTransition(ctx, tx, id, "", fromStatus, toStatus, reason)
	})
}

// CheckpointWorkflow persists the engine state and current step so a
// restarted engine resumes from the last completed step.
func (s *Store) CheckpointWorkflow(ctx context.Context, id uuid.UUID, currentStep string, state JSONMap) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET current_step = $2, state = $3 WHERE id = $1`,
		id, currentStep, state)
	if err != nil {
		return fmt.Errorf("checkpoint workflow: %w", err)
	}
	return nil
}

// StartWorkflowStep appends the step row in running state plus its
// transition.
func (s *Store) StartWorkflowStep(ctx context.Context, step *WorkflowStep) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (id, execution_id, step_name, status, attempt, input)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			step.ID, step.ExecutionID, step.StepName, StepRunning, step.Attempt, step.Input)
		if err != nil {
			return fmt.Errorf("insert workflow step: %w", err)
		}
		return insertTransition(ctx, tx, step.ExecutionID, step.StepName, StepPending, StepRunning, "")
	})
}

// CompleteWorkflowStep records the step outcome plus its transition.
func (s *Store) CompleteWorkflowStep(ctx context.Context, stepID uuid.UUID, status string, output JSONMap, errMsg string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var step WorkflowStep
		err := tx.GetContext(ctx, &step, `
			SELECT * FROM workflow_steps WHERE id = $1 FOR UPDATE`, stepID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Newf(apperrors.KindNotFound, "relational", "workflow step %s not found", stepID)
		}
		if err != nil {
			return fmt.Errorf("lock workflow step: %w", err)
		}

		var errVal *string
		if errMsg != "" {
			errVal = &errMsg
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE workflow_steps
			SET status = $2, output = $3, error = $4, completed_at = now()
			WHERE id = $1`, stepID, status, output, errVal)
		if err != nil {
			return fmt.Errorf("complete workflow step: %w", err)
		}
		return insertTransition(ctx, tx, step.ExecutionID, step.StepName, step.Status, status, errMsg)
	})
}

// ListWorkflowSteps returns all step rows for one run in execution order.
func (s *Store) ListWorkflowSteps(ctx context.Context, executionID uuid.UUID) ([]WorkflowStep, error) {
	var out []WorkflowStep
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM workflow_steps WHERE execution_id = $1
		ORDER BY started_at, attempt`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	return out, nil
}

// ListWorkflowTransitions returns the full transition log for one run.
func (s *Store) ListWorkflowTransitions(ctx context.Context, executionID uuid.UUID) ([]WorkflowTransition, error) {
	var out []WorkflowTransition
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM workflow_state_transitions WHERE execution_id = $1 ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list workflow transitions: %w", err)
	}
	return out, nil
}

// SaveWorkflowArtifact stores one snapshot, diff, or undo record.
func (s *Store) SaveWorkflowArtifact(ctx context.Context, a *WorkflowArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_artifacts (id, execution_id, step_name, artifact_type, content)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.ExecutionID, a.StepName, a.ArtifactType, a.Content)
	if err != nil {
		return fmt.Errorf("save workflow artifact: %w", err)
	}
	return nil
}

// ListWorkflowArtifacts returns artifacts for one run, oldest first.
func (s *Store) ListWorkflowArtifacts(ctx context.Context, executionID uuid.UUID) ([]WorkflowArtifact, error) {
	var out []WorkflowArtifact
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM workflow_artifacts WHERE execution_id = $1 ORDER BY created_at`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list workflow artifacts: %w", err)
	}
	return out, nil
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, executionID uuid.UUID, stepName, from, to, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_state_transitions (execution_id, step_name, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4, $5)`, executionID, stepName, from, to, reason)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}
