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

// Agent lifecycle statuses.
const (
	AgentStatusRegistered = "registered"
	AgentStatusActive     = "active"
	AgentStatusUnhealthy  = "unhealthy"
	AgentStatusTerminated = "terminated"
)

// Agent working-state statuses.
const (
	StateIdle       = "idle"
	StateBusy       = "busy"
	StateProcessing = "processing"
	StateWaiting    = "waiting"
	StateError      = "error"
)

// Agent is one row of the agents table.
type Agent struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	AgentType          string         `db:"agent_type" json:"agent_type"`
	Status             string         `db:"status" json:"status"`
	Endpoint           string         `db:"endpoint" json:"endpoint"`
	Capabilities       CapabilityList `db:"capabilities" json:"capabilities"`
	HeartbeatIntervalS int            `db:"heartbeat_interval_s" json:"heartbeat_interval_s"`
	LastHeartbeatAt    *time.Time     `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	RegisteredAt       time.Time      `db:"registered_at" json:"registered_at"`
	TerminatedAt       *time.Time     `db:"terminated_at" json:"terminated_at,omitempty"`
}

// AgentState is the one-to-one working state of an agent.
type AgentState struct {
	AgentID           uuid.UUID  `db:"agent_id" json:"agent_id"`
	CurrentStatus     string     `db:"current_status" json:"current_status"`
	ActiveWorkflowIDs StringList `db:"active_workflow_ids" json:"active_workflow_ids"`
	HeldResourceLocks StringList `db:"held_resource_locks" json:"held_resource_locks"`
	State             JSONMap    `db:"state" json:"state"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// AgentConfig is one typed config entry.
type AgentConfig struct {
	AgentID   uuid.UUID `db:"agent_id" json:"agent_id"`
	ConfigKey string    `db:"config_key" json:"config_key"`
	ValueType string    `db:"value_type" json:"value_type"`
	Value     JSONMap   `db:"value" json:"value"`
}

// RegisterAgent inserts the agent row plus its idle state row.
func (s *Store) RegisterAgent(ctx context.Context, agent *Agent) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, agent_type, status, endpoint, capabilities, heartbeat_interval_s, registered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			agent.ID, agent.AgentType, AgentStatusRegistered, agent.Endpoint,
			agent.Capabilities, agent.HeartbeatIntervalS, agent.RegisteredAt)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_states (agent_id, current_status) VALUES ($1, $2)`,
			agent.ID, StateIdle)
		if err != nil {
			return fmt.Errorf("insert agent state: %w", err)
		}

		for _, c := range agent.Capabilities {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO agent_capabilities (agent_id, capability_name, version, enabled)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (agent_id, capability_name, version) DO UPDATE SET enabled = EXCLUDED.enabled`,
				agent.ID, c.Name, c.Version, c.Enabled)
			if err != nil {
				return fmt.Errorf("insert capability %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// GetAgent loads one agent by id.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	var agent Agent
	err := s.db.GetContext(ctx, &agent, `SELECT * FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "agent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns all non-terminated agents.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	err := s.db.SelectContext(ctx, &agents, `
		SELECT * FROM agents WHERE status != $1 ORDER BY registered_at`, AgentStatusTerminated)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// ActiveAgentByType returns the most recently registered active agent of a
// type. Used by the orchestrator for routing and approval fan-out.
func (s *Store) ActiveAgentByType(ctx context.Context, agentType string) (*Agent, error) {
	var agent Agent
	err := s.db.GetContext(ctx, &agent, `
		SELECT * FROM agents
		WHERE agent_type = $1 AND status = $2
		ORDER BY registered_at DESC LIMIT 1`, agentType, AgentStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "no active %s agent", agentType)
	}
	if err != nil {
		return nil, fmt.Errorf("agent by type: %w", err)
	}
	return &agent, nil
}

// RecordHeartbeat stamps last_heartbeat_at and flips the agent to active.
// Terminated agents reject heartbeats.
func (s *Store) RecordHeartbeat(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `
		UPDATE agents
		SET last_heartbeat_at = now(), status = $2
		WHERE id = $1 AND status != $3
		RETURNING status`, id, AgentStatusActive, AgentStatusTerminated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.Newf(apperrors.KindNotFound, "relational", "agent %s not found or terminated", id)
	}
	if err != nil {
		return "", fmt.Errorf("record heartbeat: %w", err)
	}
	return status, nil
}

// ReapStaleAgents marks active agents unhealthy once their last heartbeat
// is older than graceFactor times their own interval. Returns the agents
// it transitioned.
func (s *Store) ReapStaleAgents(ctx context.Context, graceFactor int) ([]Agent, error) {
	var reaped []Agent
	err := s.db.SelectContext(ctx, &reaped, `
		UPDATE agents
		SET status = $1
		WHERE status = $2
		  AND last_heartbeat_at IS NOT NULL
		  AND last_heartbeat_at < now() - (heartbeat_interval_s * $3) * interval '1 second'
		RETURNING *`, AgentStatusUnhealthy, AgentStatusActive, graceFactor)
	if err != nil {
		return nil, fmt.Errorf("reap stale agents: %w", err)
	}
	return reaped, nil
}

// TerminateAgent marks the agent terminated on unregister.
func (s *Store) TerminateAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = $2, terminated_at = now() WHERE id = $1`,
		id, AgentStatusTerminated)
	if err != nil {
		return fmt.Errorf("terminate agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational", "agent %s not found", id)
	}
	return nil
}

// DeleteAgent hard-deletes an agent; satellite rows cascade.
func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// GetAgentState loads the working state row.
func (s *Store) GetAgentState(ctx context.Context, agentID uuid.UUID) (*AgentState, error) {
	var state AgentState
	err := s.db.GetContext(ctx, &state, `SELECT * FROM agent_states WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "state for agent %s not found", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent state: %w", err)
	}
	return &state, nil
}

// UpdateAgentStateStatus moves current_status and merges workflow ids.
func (s *Store) UpdateAgentStateStatus(ctx context.Context, agentID uuid.UUID, status string, activeWorkflowIDs StringList) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_states
		SET current_status = $2, active_workflow_ids = $3, updated_at = now()
		WHERE agent_id = $1`, agentID, status, activeWorkflowIDs)
	if err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	return nil
}

// AcquireResourceLock serializes same-resource workflows. The advisory
// transaction lock orders the check-and-set; the JSONB column records the
// holder durably. Returns false when another agent holds the resource.
func (s *Store) AcquireResourceLock(ctx context.Context, agentID uuid.UUID, resource string) (bool, error) {
	acquired := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resource); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var holder uuid.UUID
		err := tx.GetContext(ctx, &holder, `
			SELECT agent_id FROM agent_states
			WHERE held_resource_locks @> jsonb_build_array($1::text)
			LIMIT 1`, resource)
		if err == nil {
			acquired = holder == agentID
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check lock holder: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE agent_states
			SET held_resource_locks = held_resource_locks || jsonb_build_array($2::text), updated_at = now()
			WHERE agent_id = $1`, agentID, resource)
		if err != nil {
			return fmt.Errorf("record lock: %w", err)
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseResourceLock removes the resource from the holder's lock list.
func (s *Store) ReleaseResourceLock(ctx context.Context, agentID uuid.UUID, resource string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_states
		SET held_resource_locks = held_resource_locks - $2, updated_at = now()
		WHERE agent_id = $1`, agentID, resource)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// UpsertAgentConfig stores one typed config value.
func (s *Store) UpsertAgentConfig(ctx context.Context, cfg *AgentConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_configs (agent_id, config_key, value_type, value, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_id, config_key)
		DO UPDATE SET value_type = EXCLUDED.value_type, value = EXCLUDED.value, updated_at = now()`,
		cfg.AgentID, cfg.ConfigKey, cfg.ValueType, cfg.Value)
	if err != nil {
		return fmt.Errorf("upsert agent config: %w", err)
	}
	return nil
}

// ListAgentConfigs returns all config entries for an agent.
func (s *Store) ListAgentConfigs(ctx context.Context, agentID uuid.UUID) ([]AgentConfig, error) {
	var configs []AgentConfig
	err := s.db.SelectContext(ctx, &configs, `
		SELECT agent_id, config_key, value_type, value
		FROM agent_configs WHERE agent_id = $1 ORDER BY config_key`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent configs: %w", err)
	}
	return configs, nil
}

// InsertAgentMetric appends one runtime metric sample.
func (s *Store) InsertAgentMetric(ctx context.Context, agentID uuid.UUID, name, kind string, value float64, tags JSONMap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_metrics (agent_id, metric_name, metric_kind, value, tags)
		VALUES ($1, $2, $3, $4, $5)`, agentID, name, kind, value, tags)
	if err != nil {
		return fmt.Errorf("insert agent metric: %w", err)
	}
	return nil
}
