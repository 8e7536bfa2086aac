// Package workflow is the directed-step executor behind agent actions:
// durable executions with checkpointing, a peer approval gate, gradual
// rollout with quality-regression rollback, and resource-lock
// serialization for workflows touching the same resource.
package workflow

import (
	"context"
	"sync"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// StepFunc executes one node and returns its output.
type StepFunc func(ctx context.Context, run *Run) (relational.JSONMap, error)

// UndoFunc reverses a completed node during rollback.
type UndoFunc func(ctx context.Context, run *Run) error

// Step is one node in a workflow definition. Phased steps execute once
// per configured rollout percentage with a quality check between phases.
type Step struct {
	Name   string
	Phased bool
	Run    StepFunc
	Undo   UndoFunc
}

// Definition is a named, ordered step graph.
type Definition struct {
	Name  string
	Steps []Step
}

// Run is the in-flight view a step sees: the durable execution row, the
// mutable state map carried across checkpoints, and the current rollout
// phase for phased steps.
type Run struct {
	Exec         *relational.WorkflowExecution
	State        relational.JSONMap
	PhasePercent int

	artifact func(ctx context.Context, stepName, artifactType string, content relational.JSONMap) error
	stepName string
}

// Artifact stores a durable artifact against the current step.
func (r *Run) Artifact(ctx context.Context, artifactType string, content relational.JSONMap) error {
	return r.artifact(ctx, r.stepName, artifactType, content)
}

// Registry maps workflow names to definitions so a restarted engine can
// resume interrupted executions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry builds an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Get resolves a definition by name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "workflow",
			"no workflow definition named %q", name)
	}
	return def, nil
}

// Names lists registered definitions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
