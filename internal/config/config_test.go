package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DefaultInterval)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.MaxLookback)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Agent.GraceFactor)
	assert.Equal(t, []int{10, 50, 100}, cfg.Workflow.RolloutPhases)
	assert.Equal(t, 0.75, cfg.Workflow.ApprovalThreshold)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Adapter)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Reader)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Approval)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Embedding)
	assert.Equal(t, "deterministic", cfg.Memory.Embedder)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optiinfra.yaml")
	data := `
server:
  port: 9090
database:
  host: db.internal
  name: telemetry
scheduler:
  default_interval: 5m
  interval_overrides:
    - provider: aws
      data_type: cost
      interval: 1h
workflow:
  rollout_phases: [25, 100]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "telemetry", cfg.Database.Name)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DefaultInterval)
	assert.Equal(t, []int{25, 100}, cfg.Workflow.RolloutPhases)

	// Per-tuple override wins; everything else falls back.
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval("aws", "cost"))
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval("aws", "performance"))
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval("vultr", "cost"))
}

func TestEnvironmentOverridesWin(t *testing.T) {
	t.Setenv("OPTIINFRA_DB_HOST", "env-db")
	t.Setenv("OPTIINFRA_SCHEDULER_INTERVAL", "30m")
	t.Setenv("OPTIINFRA_APPROVAL_THRESHOLD", "0.9")
	t.Setenv("OPTIINFRA_ROLLOUT_PHASES", "20, 60, 100")
	t.Setenv("OPTIINFRA_CREDENTIAL_KEY", "test-master-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.DefaultInterval)
	assert.Equal(t, 0.9, cfg.Workflow.ApprovalThreshold)
	assert.Equal(t, []int{20, 60, 100}, cfg.Workflow.RolloutPhases)
	assert.Equal(t, "test-master-key", cfg.Credentials.EncryptionKey)
}

func TestValidateRejectsBadPhases(t *testing.T) {
	tests := []struct {
		name   string
		phases []int
	}{
		{"not increasing", []int{50, 10, 100}},
		{"not ending at 100", []int{10, 50}},
		{"duplicate", []int{10, 10, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Workflow.RolloutPhases = tt.phases
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateRemoteEmbedderNeedsEndpoint(t *testing.T) {
	cfg := defaultConfig()
	cfg.Memory.Embedder = "remote"
	assert.Error(t, Validate(cfg))

	cfg.Memory.Endpoint = "http://embedder.internal/v1"
	assert.NoError(t, Validate(cfg))
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "opti", Password: "secret",
		Name: "optiinfra", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://opti:secret@db:5432/optiinfra?sslmode=disable", d.DSN())
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optiinfra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Stop()

	changed := make(chan *Config, 1)
	m.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0644))

	select {
	case c := <-changed:
		assert.Equal(t, 9999, c.Server.Port)
		assert.Equal(t, 9999, m.Get().Server.Port)
	case <-time.After(3 * time.Second):
		t.Skip("fsnotify event not delivered on this filesystem")
	}
}
