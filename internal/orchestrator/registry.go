package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

type registerAgentRequest struct {
	AgentType         string                  `json:"type"`
	Endpoint          string                  `json:"endpoint"`
	Capabilities      []relational.Capability `json:"capabilities"`
	HeartbeatInterval int                     `json:"heartbeat_interval_s"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AgentType == "" || req.Endpoint == "" {
		writeError(w, apperrors.New(apperrors.KindValidation, "orchestrator",
			"type and endpoint are required"))
		return
	}
	if req.HeartbeatInterval <= 0 {
		req.HeartbeatInterval = 30
	}

	agent := &relational.Agent{
		ID:                 uuid.New(),
		AgentType:          req.AgentType,
		Endpoint:           req.Endpoint,
		Capabilities:       relational.CapabilityList(req.Capabilities),
		HeartbeatIntervalS: req.HeartbeatInterval,
		RegisteredAt:       time.Now().UTC(),
	}
	if err := s.store.RegisterAgent(r.Context(), agent); err != nil {
		writeError(w, err)
		return
	}

	s.rec.Record(r.Context(), events.New(events.AgentRegistered, "orchestrator", map[string]interface{}{
		"agent_id":   agent.ID.String(),
		"agent_type": agent.AgentType,
		"endpoint":   agent.Endpoint,
	}))
	s.refreshAgentGauges(r.Context())
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "orchestrator", "invalid agent id"))
		return
	}

	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	wasUnhealthy := agent.Status == relational.AgentStatusUnhealthy

	status, err := s.store.RecordHeartbeat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.HeartbeatsTotal.WithLabelValues(agent.AgentType).Inc()

	if wasUnhealthy {
		s.rec.Record(r.Context(), events.New(events.AgentRecovered, "orchestrator", map[string]interface{}{
			"agent_id":   id.String(),
			"agent_type": agent.AgentType,
		}))
		s.refreshAgentGauges(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "orchestrator", "invalid agent id"))
		return
	}
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.TerminateAgent(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	s.rec.Record(r.Context(), events.New(events.AgentUnregistered, "orchestrator", map[string]interface{}{
		"agent_id":   id.String(),
		"agent_type": agent.AgentType,
	}))
	s.refreshAgentGauges(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// runReaper periodically marks agents that missed heartbeats past the
// grace factor as unhealthy.
func (s *Server) runReaper(ctx context.Context) {
	interval := s.cfg.Agent.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reapOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) reapOnce(ctx context.Context) {
	reaped, err := s.store.ReapStaleAgents(ctx, s.cfg.Agent.GraceFactor)
	if err != nil {
		s.log.Error("reap stale agents failed", logger.Error(err))
		return
	}
	for _, agent := range reaped {
		s.log.Warn("agent missed heartbeats",
			logger.String("agent_id", agent.ID.String()),
			logger.String("agent_type", agent.AgentType))
		s.rec.Record(ctx, events.New(events.AgentUnhealthy, "orchestrator", map[string]interface{}{
			"agent_id":   agent.ID.String(),
			"agent_type": agent.AgentType,
		}))
	}
	if len(reaped) > 0 {
		s.refreshAgentGauges(ctx)
	}
}

func (s *Server) refreshAgentGauges(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return
	}
	counts := map[string]float64{
		relational.AgentStatusRegistered: 0,
		relational.AgentStatusActive:     0,
		relational.AgentStatusUnhealthy:  0,
	}
	for _, a := range agents {
		counts[a.Status]++
	}
	for status, n := range counts {
		telemetry.AgentsByStatus.WithLabelValues(status).Set(n)
	}
}
