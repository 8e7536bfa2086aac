package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Runtime drives the agent lifecycle: register with the orchestrator,
// heartbeat on the agreed interval, unregister on shutdown.
type Runtime struct {
	cfg    config.AgentConfig
	client *OrchestratorClient
	caps   []relational.Capability

	mu      sync.RWMutex
	agentID uuid.UUID

	log logger.Logger
}

// NewRuntime builds the lifecycle runtime for one agent process.
func NewRuntime(cfg config.AgentConfig, client *OrchestratorClient, caps []relational.Capability) *Runtime {
	return &Runtime{
		cfg:    cfg,
		client: client,
		caps:   caps,
		log:    logger.New("agent"),
	}
}

// AgentID returns the registered id, or uuid.Nil before registration.
func (r *Runtime) AgentID() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentID
}

// Start registers with exponential backoff, then heartbeats until ctx
// ends, and unregisters on the way out.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		return err
	}
	go r.heartbeatLoop(ctx)
	return nil
}

func (r *Runtime) register(ctx context.Context) error {
	req := RegisterRequest{
		AgentType:         r.cfg.Type,
		Endpoint:          r.cfg.Endpoint(),
		Capabilities:      r.caps,
		HeartbeatInterval: int(r.cfg.HeartbeatInterval.Seconds()),
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		id, err := r.client.Register(ctx, req)
		if err != nil {
			r.log.Warn("registration attempt failed", logger.Error(err))
			return err
		}
		r.mu.Lock()
		r.agentID = id
		r.mu.Unlock()
		r.log.Info("agent registered",
			logger.String("agent_id", id.String()),
			logger.String("agent_type", r.cfg.Type))
		return nil
	}, policy)
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.client.Heartbeat(hbCtx, r.AgentID())
			cancel()
			if err != nil {
				r.log.Warn("heartbeat failed", logger.Error(err))
			}
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *Runtime) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Unregister(ctx, r.AgentID()); err != nil {
		r.log.Warn("unregister failed", logger.Error(err))
		return
	}
	r.log.Info("agent unregistered", logger.String("agent_id", r.AgentID().String()))
}
