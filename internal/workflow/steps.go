package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// stepInstance is one executable unit: a plain step, or one phase of a
// phased step.
type stepInstance struct {
	Step
	instanceName string
	phasePercent int
	lastPhase    bool
}

// instances expands the definition: phased steps become one instance per
// configured rollout percentage.
func (e *Engine) instances(def *Definition) []stepInstance {
	var out []stepInstance
	for _, step := range def.Steps {
		if !step.Phased {
			out = append(out, stepInstance{Step: step, instanceName: step.Name})
			continue
		}
		phases := e.cfg.RolloutPhases
		for i, pct := range phases {
			out = append(out, stepInstance{
				Step:         step,
				instanceName: fmt.Sprintf("%s_phase_%d", step.Name, pct),
				phasePercent: pct,
				lastPhase:    i == len(phases)-1,
			})
		}
	}
	return out
}

// runSteps drives every not-yet-completed instance in order, returning
// the terminal workflow status and a reason.
func (e *Engine) runSteps(ctx context.Context, def *Definition, exec *relational.WorkflowExecution) (string, string) {
	run := &Run{
		Exec:  exec,
		State: exec.State,
		artifact: func(ctx context.Context, stepName, artifactType string, content relational.JSONMap) error {
			return e.store.SaveWorkflowArtifact(ctx, &relational.WorkflowArtifact{
				ID:           uuid.New(),
				ExecutionID:  exec.ID,
				StepName:     stepName,
				ArtifactType: artifactType,
				Content:      content,
			})
		},
	}
	completed := completedSet(run.State)
	var executed []stepInstance
	for _, inst := range e.instances(def) {
		if completed[inst.instanceName] {
			executed = append(executed, inst)
			continue
		}

		if inst.Phased && inst.phasePercent == e.cfg.RolloutPhases[0] {
			e.captureQualityBaseline(ctx, run)
		}

		run.stepName = inst.instanceName
		run.PhasePercent = inst.phasePercent
		output, err := e.executeStep(ctx, run, inst)
		if err != nil {
			return relational.WorkflowFailed, fmt.Sprintf("step %s: %v", inst.instanceName, err)
		}

		markCompleted(run.State, inst.instanceName, output)
		executed = append(executed, inst)
		if err := e.store.CheckpointWorkflow(ctx, exec.ID, inst.instanceName, run.State); err != nil {
			return relational.WorkflowFailed, fmt.Sprintf("checkpoint after %s: %v", inst.instanceName, err)
		}

		if inst.Phased {
			e.publish(events.WorkflowPhaseCompleted, exec, map[string]interface{}{
				"step":          inst.Name,
				"phase_percent": inst.phasePercent,
			})
			if regressed, regression := e.qualityRegressed(ctx, run); regressed {
				reason := fmt.Sprintf("quality regression %.1f%% after %d%% phase exceeds %.1f%% threshold",
					regression*100, inst.phasePercent, e.cfg.QualityRegressionThreshold*100)
				if err := e.rollback(ctx, run, executed); err != nil {
					return relational.WorkflowFailed, fmt.Sprintf("%s; rollback failed: %v", reason, err)
				}
				return relational.WorkflowRolledBack, reason
			}
		}
	}
	return relational.WorkflowCompleted, "all steps completed"
}

// executeStep records the step row, runs the node under the step
// deadline, and retries transient failures.
func (e *Engine) executeStep(ctx context.Context, run *Run, inst stepInstance) (relational.JSONMap, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxStepRetries+1; attempt++ {
		row := &relational.WorkflowStep{
			ID:          uuid.New(),
			ExecutionID: run.Exec.ID,
			StepName:    inst.instanceName,
			Attempt:     attempt,
			Input: relational.JSONMap{
				"phase_percent": inst.phasePercent,
			},
		}
		if err := e.store.StartWorkflowStep(ctx, row); err != nil {
			return nil, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		output, err := inst.Run(stepCtx, run)
		cancel()

		if err == nil {
			if cerr := e.store.CompleteWorkflowStep(ctx, row.ID, relational.StepCompleted, output, ""); cerr != nil {
				return nil, cerr
			}
			return output, nil
		}

		lastErr = err
		if cerr := e.store.CompleteWorkflowStep(ctx, row.ID, relational.StepFailed, nil, err.Error()); cerr != nil {
			return nil, cerr
		}
		if !apperrors.IsTransient(err) || ctx.Err() != nil {
			break
		}
		e.log.Warn("step failed, retrying",
			logger.String("step", inst.instanceName),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}
	return nil, lastErr
}

// rollback reverses completed instances newest-first via their undo
// operations, recording an undo artifact for each.
func (e *Engine) rollback(ctx context.Context, run *Run, executed []stepInstance) error {
	for i := len(executed) - 1; i >= 0; i-- {
		inst := executed[i]
		if inst.Undo == nil {
			continue
		}
		run.stepName = inst.instanceName
		run.PhasePercent = inst.phasePercent

		row := &relational.WorkflowStep{
			ID:          uuid.New(),
			ExecutionID: run.Exec.ID,
			StepName:    inst.instanceName,
			Attempt:     1,
			Input:       relational.JSONMap{"undo": true, "phase_percent": inst.phasePercent},
		}
		if err := e.store.StartWorkflowStep(ctx, row); err != nil {
			return err
		}
		if err := inst.Undo(ctx, run); err != nil {
			_ = e.store.CompleteWorkflowStep(ctx, row.ID, relational.StepFailed, nil, err.Error())
			return fmt.Errorf("undo %s: %w", inst.instanceName, err)
		}
		if err := e.store.CompleteWorkflowStep(ctx, row.ID, relational.StepRolledBack, nil, ""); err != nil {
			return err
		}
		if err := run.Artifact(ctx, relational.ArtifactUndo, relational.JSONMap{
			"step":          inst.Name,
			"phase_percent": inst.phasePercent,
			"undone_at":     time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return nil
}

// captureQualityBaseline reads the pre-rollout quality score once.
func (e *Engine) captureQualityBaseline(ctx context.Context, run *Run) {
	if e.quality == nil {
		return
	}
	if _, ok := run.State["quality_baseline"]; ok {
		return
	}
	score, err := e.quality.AvgScore(ctx, run.Exec.CustomerID, stateString(run.State, "provider"))
	if err != nil {
		e.log.Warn("quality baseline read failed", logger.Error(err))
		return
	}
	run.State["quality_baseline"] = score
}

// qualityRegressed compares the current score against the baseline.
func (e *Engine) qualityRegressed(ctx context.Context, run *Run) (bool, float64) {
	if e.quality == nil {
		return false, 0
	}
	baseline, ok := stateFloat(run.State, "quality_baseline")
	if !ok || baseline <= 0 {
		return false, 0
	}
	current, err := e.quality.AvgScore(ctx, run.Exec.CustomerID, stateString(run.State, "provider"))
	if err != nil {
		e.log.Warn("quality check read failed", logger.Error(err))
		return false, 0
	}
	regression := (baseline - current) / baseline
	return regression > e.cfg.QualityRegressionThreshold, regression
}

func completedSet(state relational.JSONMap) map[string]bool {
	out := make(map[string]bool)
	if raw, ok := state["completed_steps"].([]interface{}); ok {
		for _, item := range raw {
			if name, ok := item.(string); ok {
				out[name] = true
			}
		}
	}
	return out
}

func markCompleted(state relational.JSONMap, name string, output relational.JSONMap) {
	raw, _ := state["completed_steps"].([]interface{})
	state["completed_steps"] = append(raw, name)

	outputs, _ := state["outputs"].(map[string]interface{})
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	if output != nil {
		outputs[name] = map[string]interface{}(output)
	}
	state["outputs"] = outputs
}

func stateString(state relational.JSONMap, key string) string {
	s, _ := state[key].(string)
	return s
}

func stateFloat(state relational.JSONMap, key string) (float64, bool) {
	switch v := state[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
