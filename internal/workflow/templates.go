package workflow

import (
	"context"
	"time"

	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Built-in workflow names, one per agent action family.
const (
	WorkflowSpotMigration = "spot_migration"
	WorkflowRightSizing   = "right_sizing"
	WorkflowLatencyTune   = "latency_tune"
	WorkflowScaleDown     = "scale_down"
)

// RegisterBuiltins loads the standard definitions into the registry.
func RegisterBuiltins(r *Registry) {
	r.Register(SpotMigration())
	r.Register(RightSizing())
	r.Register(LatencyTune())
	r.Register(ScaleDown())
}

// SpotMigration moves eligible workloads to spot capacity in phases.
func SpotMigration() *Definition {
	return &Definition{
		Name: WorkflowSpotMigration,
		Steps: []Step{
			snapshotStep("capture_baseline"),
			{
				Name:   "migrate_to_spot",
				Phased: true,
				Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
					migrated := phaseShare(run, "target_instances")
					run.State["migrated_percent"] = run.PhasePercent
					return relational.JSONMap{
						"phase_percent":      run.PhasePercent,
						"instances_migrated": migrated,
					}, nil
				},
				Undo: func(ctx context.Context, run *Run) error {
					run.State["migrated_percent"] = 0
					return nil
				},
			},
			verifyStep("verify_migration", "migrated_percent"),
		},
	}
}

// RightSizing shrinks over-provisioned instances in phases.
func RightSizing() *Definition {
	return &Definition{
		Name: WorkflowRightSizing,
		Steps: []Step{
			snapshotStep("capture_current_sizes"),
			{
				Name:   "resize_instances",
				Phased: true,
				Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
					resized := phaseShare(run, "target_instances")
					run.State["resized_percent"] = run.PhasePercent
					return relational.JSONMap{
						"phase_percent":     run.PhasePercent,
						"instances_resized": resized,
					}, nil
				},
				Undo: func(ctx context.Context, run *Run) error {
					run.State["resized_percent"] = 0
					return nil
				},
			},
			verifyStep("verify_sizing", "resized_percent"),
		},
	}
}

// LatencyTune applies configuration changes to reduce serving latency.
func LatencyTune() *Definition {
	return &Definition{
		Name: WorkflowLatencyTune,
		Steps: []Step{
			snapshotStep("capture_config"),
			{
				Name:   "apply_tuning",
				Phased: true,
				Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
					run.State["tuned_percent"] = run.PhasePercent
					return relational.JSONMap{
						"phase_percent": run.PhasePercent,
						"changes":       stateValue(run, "config_changes"),
					}, nil
				},
				Undo: func(ctx context.Context, run *Run) error {
					run.State["tuned_percent"] = 0
					return nil
				},
			},
			verifyStep("verify_latency", "tuned_percent"),
		},
	}
}

// ScaleDown retires idle resources in phases.
func ScaleDown() *Definition {
	return &Definition{
		Name: WorkflowScaleDown,
		Steps: []Step{
			snapshotStep("capture_inventory"),
			{
				Name:   "retire_idle",
				Phased: true,
				Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
					retired := phaseShare(run, "idle_resources")
					run.State["retired_percent"] = run.PhasePercent
					return relational.JSONMap{
						"phase_percent":     run.PhasePercent,
						"resources_retired": retired,
					}, nil
				},
				Undo: func(ctx context.Context, run *Run) error {
					run.State["retired_percent"] = 0
					return nil
				},
			},
			verifyStep("verify_scale_down", "retired_percent"),
		},
	}
}

// snapshotStep stores the pre-execution state as a snapshot artifact.
func snapshotStep(name string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
			snapshot := relational.JSONMap{
				"resource_id": run.Exec.ResourceID,
				"input":       stateValue(run, "input"),
				"captured_at": time.Now().UTC().Format(time.RFC3339),
			}
			if err := run.Artifact(ctx, relational.ArtifactSnapshotBefore, snapshot); err != nil {
				return nil, err
			}
			return relational.JSONMap{"snapshot": true}, nil
		},
	}
}

// verifyStep records the post-execution snapshot and the diff against
// the baseline.
func verifyStep(name, progressKey string) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context, run *Run) (relational.JSONMap, error) {
			after := relational.JSONMap{
				"resource_id": run.Exec.ResourceID,
				progressKey:   run.State[progressKey],
				"captured_at": time.Now().UTC().Format(time.RFC3339),
			}
			if err := run.Artifact(ctx, relational.ArtifactSnapshotAfter, after); err != nil {
				return nil, err
			}
			diff := relational.JSONMap{
				"field":  progressKey,
				"before": 0,
				"after":  run.State[progressKey],
			}
			if err := run.Artifact(ctx, relational.ArtifactDiff, diff); err != nil {
				return nil, err
			}
			return relational.JSONMap{"verified": true}, nil
		},
	}
}

// phaseShare computes how many of the targeted items this phase covers.
func phaseShare(run *Run, key string) int {
	input, _ := stateValue(run, "input").(map[string]interface{})
	total := 0
	if input != nil {
		if v, ok := input[key].(float64); ok {
			total = int(v)
		}
	}
	return total * run.PhasePercent / 100
}

func stateValue(run *Run, key string) interface{} {
	return run.State[key]
}
