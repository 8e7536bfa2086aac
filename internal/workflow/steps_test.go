package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

func testEngine(phases []int) *Engine {
	return &Engine{
		cfg: config.WorkflowConfig{RolloutPhases: phases},
		log: logger.New("workflow-test"),
	}
}

func TestInstancesExpandPhasedSteps(t *testing.T) {
	e := testEngine([]int{10, 50, 100})
	def := SpotMigration()

	instances := e.instances(def)
	require.Len(t, instances, 5)

	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		names = append(names, inst.instanceName)
	}
	assert.Equal(t, []string{
		"capture_baseline",
		"migrate_to_spot_phase_10",
		"migrate_to_spot_phase_50",
		"migrate_to_spot_phase_100",
		"verify_migration",
	}, names)

	assert.Equal(t, 10, instances[1].phasePercent)
	assert.False(t, instances[1].lastPhase)
	assert.True(t, instances[3].lastPhase)
	assert.Zero(t, instances[0].phasePercent)
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	for _, name := range []string{
		WorkflowSpotMigration,
		WorkflowRightSizing,
		WorkflowLatencyTune,
		WorkflowScaleDown,
	} {
		def, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.Steps)
	}

	_, err := r.Get("teleport_to_cheaper_region")
	assert.Error(t, err)
}

func TestPhaseShare(t *testing.T) {
	run := &Run{
		State: relational.JSONMap{
			"input": map[string]interface{}{"target_instances": float64(40)},
		},
		PhasePercent: 50,
	}
	assert.Equal(t, 20, phaseShare(run, "target_instances"))

	run.PhasePercent = 10
	assert.Equal(t, 4, phaseShare(run, "target_instances"))

	empty := &Run{State: relational.JSONMap{}, PhasePercent: 100}
	assert.Zero(t, phaseShare(empty, "target_instances"))
}

func TestPhasedStepRunAndUndo(t *testing.T) {
	def := SpotMigration()
	var step Step
	for _, s := range def.Steps {
		if s.Name == "migrate_to_spot" {
			step = s
		}
	}
	require.NotNil(t, step.Run)

	run := &Run{
		Exec: &relational.WorkflowExecution{},
		State: relational.JSONMap{
			"input": map[string]interface{}{"target_instances": float64(10)},
		},
		PhasePercent: 50,
	}

	out, err := step.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 50, out["phase_percent"])
	assert.Equal(t, 5, out["instances_migrated"])
	assert.Equal(t, 50, run.State["migrated_percent"])

	require.NoError(t, step.Undo(context.Background(), run))
	assert.Equal(t, 0, run.State["migrated_percent"])
}
