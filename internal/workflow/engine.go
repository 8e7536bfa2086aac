package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/memory"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

// QualityChecker reads the current application quality score for the
// between-phase regression check. The application reader implements it.
type QualityChecker interface {
	AvgScore(ctx context.Context, customerID uuid.UUID, provider string) (float64, error)
}

// Store is the durable state the engine needs. *relational.Store
// implements it.
type Store interface {
	CreateProposal(ctx context.Context, opt *relational.Optimization, rec *relational.Recommendation) error
	GetOptimization(ctx context.Context, id uuid.UUID) (*relational.Optimization, error)
	SetOptimizationStatus(ctx context.Context, id uuid.UUID, status string, outcome relational.JSONMap) error
	SetRecommendationStatus(ctx context.Context, id uuid.UUID, status string) error
	RecordApproval(ctx context.Context, a *relational.Approval) error
	ListApprovals(ctx context.Context, recommendationID uuid.UUID) ([]relational.Approval, error)
	CreateWorkflowExecution(ctx context.Context, exec *relational.WorkflowExecution) error
	ListResumableExecutions(ctx context.Context, agentType string) ([]relational.WorkflowExecution, error)
	TransitionWorkflow(ctx context.Context, id uuid.UUID, toStatus, reason string) error
	CheckpointWorkflow(ctx context.Context, id uuid.UUID, currentStep string, state relational.JSONMap) error
	StartWorkflowStep(ctx context.Context, step *relational.WorkflowStep) error
	CompleteWorkflowStep(ctx context.Context, stepID uuid.UUID, status string, output relational.JSONMap, errMsg string) error
	SaveWorkflowArtifact(ctx context.Context, a *relational.WorkflowArtifact) error
	AcquireResourceLock(ctx context.Context, agentID uuid.UUID, resource string) (bool, error)
	ReleaseResourceLock(ctx context.Context, agentID uuid.UUID, resource string) error
}

// Engine executes workflow definitions durably: every run, step, and
// status change lands in the relational store before the next move.
type Engine struct {
	cfg      config.WorkflowConfig
	store    Store
	registry *Registry
	approver Approver
	quality  QualityChecker
	notifier Notifier
	mem      *memory.Memory
	rec      *events.Recorder

	log    logger.Logger
	tracer trace.Tracer
}

// NewEngine wires the executor. quality may be nil to disable the
// between-phase regression check; mem may be nil to disable the
// semantic write-back of run outcomes.
func NewEngine(cfg config.WorkflowConfig, store Store, registry *Registry, approver Approver, quality QualityChecker, notifier Notifier, mem *memory.Memory, rec *events.Recorder) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: registry,
		approver: approver,
		quality:  quality,
		notifier: notifier,
		mem:      mem,
		rec:      rec,
		log:      logger.New("workflow"),
		tracer:   telemetry.Tracer("workflow"),
	}
}

// ExecuteRequest starts one workflow run for an approved-or-pending
// recommendation.
type ExecuteRequest struct {
	WorkflowName   string
	Recommendation *relational.Recommendation
	AgentID        *uuid.UUID
	Provider       string
	Input          relational.JSONMap
}

// Execute creates the durable execution, runs the approval gate, and on
// approval drives the step graph to a terminal status. A run paused for
// human approval returns with status waiting_approval and no error.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*relational.WorkflowExecution, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(attribute.String("workflow", req.WorkflowName)))
	defer span.End()

	def, err := e.registry.Get(req.WorkflowName)
	if err != nil {
		return nil, err
	}
	rec := req.Recommendation
	opt, err := e.store.GetOptimization(ctx, rec.OptimizationID)
	if err != nil {
		return nil, err
	}

	state := relational.JSONMap{
		"provider":        req.Provider,
		"input":           map[string]interface{}(req.Input),
		"completed_steps": []interface{}{},
		"outputs":         map[string]interface{}{},
	}
	exec := &relational.WorkflowExecution{
		ID:             uuid.New(),
		WorkflowName:   req.WorkflowName,
		AgentID:        req.AgentID,
		AgentType:      rec.AgentType,
		CustomerID:     rec.CustomerID,
		OptimizationID: &opt.ID,
		ResourceID:     opt.ResourceID,
		Status:         relational.WorkflowPending,
		State:          state,
	}
	if err := e.store.CreateWorkflowExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.publish(events.WorkflowStarted, exec, nil)

	decision, votes, err := e.gate(ctx, rec)
	if err != nil {
		e.fail(ctx, exec, opt, fmt.Sprintf("approval gate: %v", err))
		return exec, err
	}
	if !decision.Approved {
		return exec, e.pause(ctx, exec, rec, decision, votes)
	}

	if err := e.store.SetRecommendationStatus(ctx, rec.ID, relational.RecommendationApproved); err != nil {
		return exec, err
	}
	e.publish(events.OptimizationApproved, exec, map[string]interface{}{
		"recommendation_id": rec.ID.String(),
		"mean_confidence":   decision.MeanConfidence,
	})

	return exec, e.drive(ctx, def, exec, opt, decision.Reason())
}

// Resume picks up executions interrupted mid-flight: running ones
// continue from the checkpointed step, paused ones re-evaluate the
// stored votes in case a human recorded an override.
func (e *Engine) Resume(ctx context.Context, agentType string) error {
	execs, err := e.store.ListResumableExecutions(ctx, agentType)
	if err != nil {
		return err
	}

	for i := range execs {
		exec := &execs[i]
		if err := e.resumeOne(ctx, exec); err != nil {
			e.log.Error("resume failed",
				logger.String("execution_id", exec.ID.String()),
				logger.Error(err))
		}
	}
	return nil
}

func (e *Engine) resumeOne(ctx context.Context, exec *relational.WorkflowExecution) error {
	def, err := e.registry.Get(exec.WorkflowName)
	if err != nil {
		return err
	}
	if exec.OptimizationID == nil {
		return apperrors.Newf(apperrors.KindInternal, "workflow",
			"execution %s has no optimization", exec.ID)
	}
	opt, err := e.store.GetOptimization(ctx, *exec.OptimizationID)
	if err != nil {
		return err
	}

	if exec.Status == relational.WorkflowWaitingApproval {
		if opt.RecommendationID == nil {
			return nil
		}
		approvals, err := e.store.ListApprovals(ctx, *opt.RecommendationID)
		if err != nil {
			return err
		}
		votes := make([]Vote, 0, len(approvals))
		for _, a := range approvals {
			votes = append(votes, Vote{
				AgentType:  a.ApprovingAgentType,
				Approved:   a.Approved,
				Confidence: a.Confidence,
				Rationale:  a.Rationale,
			})
		}
		decision := Evaluate(votes, e.cfg.ApprovalThreshold)
		if !decision.Approved {
			return nil
		}
		if err := e.store.SetRecommendationStatus(ctx, *opt.RecommendationID, relational.RecommendationApproved); err != nil {
			return err
		}
		return e.drive(ctx, def, exec, opt, decision.Reason())
	}

	e.log.Info("resuming interrupted workflow",
		logger.String("execution_id", exec.ID.String()),
		logger.String("current_step", exec.CurrentStep))
	return e.run(ctx, def, exec, opt)
}

// gate collects and records peer votes, then evaluates the policy.
func (e *Engine) gate(ctx context.Context, rec *relational.Recommendation) (Decision, []Vote, error) {
	votes, err := e.approver.RequestVotes(ctx, rec)
	if err != nil {
		return Decision{}, nil, err
	}
	for _, v := range votes {
		decision := "denied"
		if v.Approved {
			decision = "approved"
		}
		telemetry.ApprovalVotes.WithLabelValues(v.AgentType, decision).Inc()
		if err := e.store.RecordApproval(ctx, &relational.Approval{
			ID:                 uuid.New(),
			RecommendationID:   rec.ID,
			ApprovingAgentType: v.AgentType,
			Approved:           v.Approved,
			Confidence:         v.Confidence,
			Rationale:          v.Rationale,
		}); err != nil {
			return Decision{}, nil, err
		}
	}
	return Evaluate(votes, e.cfg.ApprovalThreshold), votes, nil
}

// pause parks the run for a human, surfacing it through the notifier.
func (e *Engine) pause(ctx context.Context, exec *relational.WorkflowExecution, rec *relational.Recommendation, decision Decision, votes []Vote) error {
	if err := e.store.SetRecommendationStatus(ctx, rec.ID, relational.RecommendationWaitingHuman); err != nil {
		return err
	}
	if err := e.store.TransitionWorkflow(ctx, exec.ID, relational.WorkflowWaitingApproval, decision.Reason()); err != nil {
		return err
	}
	exec.Status = relational.WorkflowWaitingApproval

	if len(decision.Rejections) > 0 {
		e.publish(events.OptimizationDenied, exec, map[string]interface{}{
			"recommendation_id": rec.ID.String(),
			"rejections":        decision.Rejections,
		})
	}
	e.publish(events.WorkflowWaitingApproval, exec, map[string]interface{}{
		"recommendation_id": rec.ID.String(),
		"reason":            decision.Reason(),
	})

	if err := e.notifier.EscalateToHuman(ctx, rec, decision, votes); err != nil {
		e.log.Error("escalation failed", logger.Error(err))
	}
	return nil
}

// drive moves an approved run into running and executes it.
func (e *Engine) drive(ctx context.Context, def *Definition, exec *relational.WorkflowExecution, opt *relational.Optimization, reason string) error {
	if err := e.store.TransitionWorkflow(ctx, exec.ID, relational.WorkflowRunning, reason); err != nil {
		return err
	}
	exec.Status = relational.WorkflowRunning
	if err := e.store.SetOptimizationStatus(ctx, opt.ID, relational.OptimizationExecuting, nil); err != nil {
		return err
	}
	return e.run(ctx, def, exec, opt)
}

// run executes the step graph under the resource lock and finalizes.
func (e *Engine) run(ctx context.Context, def *Definition, exec *relational.WorkflowExecution, opt *relational.Optimization) error {
	unlock, err := e.lock(ctx, exec)
	if err != nil {
		e.fail(ctx, exec, opt, err.Error())
		return err
	}
	defer unlock()

	status, reason := e.runSteps(ctx, def, exec)
	switch status {
	case relational.WorkflowCompleted:
		if err := e.store.TransitionWorkflow(ctx, exec.ID, relational.WorkflowCompleted, reason); err != nil {
			return err
		}
		exec.Status = relational.WorkflowCompleted
		outcome := relational.JSONMap{"outputs": exec.State["outputs"]}
		if err := e.store.SetOptimizationStatus(ctx, opt.ID, relational.OptimizationCompleted, outcome); err != nil {
			return err
		}
		telemetry.WorkflowsTotal.WithLabelValues(exec.AgentType, status).Inc()
		e.publish(events.WorkflowCompleted, exec, nil)
		e.publish(events.OptimizationCompleted, exec, map[string]interface{}{
			"optimization_id": opt.ID.String(),
		})
		e.recordOutcome(ctx, exec, opt, memory.OutcomeSuccess, reason)
		return nil

	case relational.WorkflowRolledBack:
		if err := e.store.TransitionWorkflow(ctx, exec.ID, relational.WorkflowRolledBack, reason); err != nil {
			return err
		}
		exec.Status = relational.WorkflowRolledBack
		if err := e.store.SetOptimizationStatus(ctx, opt.ID, relational.OptimizationRolledBack,
			relational.JSONMap{"reason": reason}); err != nil {
			return err
		}
		telemetry.WorkflowsTotal.WithLabelValues(exec.AgentType, status).Inc()
		e.publish(events.WorkflowRolledBack, exec, map[string]interface{}{"reason": reason})
		e.recordOutcome(ctx, exec, opt, memory.OutcomeFailed, reason)
		return nil

	default:
		e.fail(ctx, exec, opt, reason)
		return apperrors.Newf(apperrors.KindInternal, "workflow", "workflow %s failed: %s", exec.ID, reason)
	}
}

func (e *Engine) fail(ctx context.Context, exec *relational.WorkflowExecution, opt *relational.Optimization, reason string) {
	if err := e.store.TransitionWorkflow(ctx, exec.ID, relational.WorkflowFailed, reason); err != nil {
		e.log.Error("record failure failed", logger.Error(err))
	}
	exec.Status = relational.WorkflowFailed
	if err := e.store.SetOptimizationStatus(ctx, opt.ID, relational.OptimizationFailed,
		relational.JSONMap{"error": reason}); err != nil {
		e.log.Error("record optimization failure failed", logger.Error(err))
	}
	telemetry.WorkflowsTotal.WithLabelValues(exec.AgentType, relational.WorkflowFailed).Inc()
	e.publish(events.WorkflowFailed, exec, map[string]interface{}{"error": reason})
	e.recordOutcome(ctx, exec, opt, memory.OutcomeFailed, reason)
}

// recordOutcome writes the run's result into semantic memory so future
// recall can rank similar optimizations by how they actually ended.
func (e *Engine) recordOutcome(ctx context.Context, exec *relational.WorkflowExecution, opt *relational.Optimization, outcome, detail string) {
	if e.mem == nil {
		return
	}
	if _, err := e.mem.RecordCostKnowledge(ctx, memory.CostKnowledge{
		OptimizationID: opt.ID.String(),
		CustomerID:     exec.CustomerID.String(),
		Type:           opt.ActionType,
		Context:        fmt.Sprintf("%s on %s", exec.WorkflowName, exec.ResourceID),
		Outcome:        outcome,
		CloudProvider:  stateString(exec.State, "provider"),
		LessonsLearned: detail,
	}); err != nil {
		e.log.Warn("memory write-back failed",
			logger.String("execution_id", exec.ID.String()),
			logger.Error(err))
	}
}

// lock serializes workflows touching the same resource, retrying until
// the configured wait ceiling.
func (e *Engine) lock(ctx context.Context, exec *relational.WorkflowExecution) (func(), error) {
	if exec.ResourceID == "" || exec.AgentID == nil {
		return func() {}, nil
	}
	agentID := *exec.AgentID

	deadline := time.Now().Add(e.cfg.LockMaxWait)
	for {
		acquired, err := e.store.AcquireResourceLock(ctx, agentID, exec.ResourceID)
		if err != nil {
			return nil, err
		}
		if acquired {
			return func() {
				if err := e.store.ReleaseResourceLock(context.Background(), agentID, exec.ResourceID); err != nil {
					e.log.Error("release lock failed", logger.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, apperrors.Newf(apperrors.KindConflict, "workflow",
				"resource %s is locked by another workflow", exec.ResourceID)
		}
		select {
		case <-time.After(e.cfg.LockRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) publish(t events.Type, exec *relational.WorkflowExecution, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["execution_id"] = exec.ID.String()
	data["workflow"] = exec.WorkflowName
	e.rec.Record(context.Background(), events.New(t, "workflow", data).ForCustomer(exec.CustomerID))
}
