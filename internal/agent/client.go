// Package agent is the shared runtime every agent binary embeds:
// orchestrator registration with retry, the heartbeat loop, and the
// gin HTTP surface scoped to the agent's domain.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// OrchestratorClient is the agent-side view of the orchestrator's
// registry and collection APIs.
type OrchestratorClient struct {
	baseURL string
	httpc   *http.Client
}

// NewOrchestratorClient builds a client for the given orchestrator base
// URL.
func NewOrchestratorClient(baseURL string) *OrchestratorClient {
	return &OrchestratorClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	AgentType         string                  `json:"type"`
	Endpoint          string                  `json:"endpoint"`
	Capabilities      []relational.Capability `json:"capabilities"`
	HeartbeatInterval int                     `json:"heartbeat_interval_s"`
}

// Register announces the agent and returns its assigned id.
func (c *OrchestratorClient) Register(ctx context.Context, req RegisterRequest) (uuid.UUID, error) {
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/agents/register", req, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ID, nil
}

// Heartbeat reports liveness for the agent.
func (c *OrchestratorClient) Heartbeat(ctx context.Context, agentID uuid.UUID) error {
	path := fmt.Sprintf("/agents/%s/heartbeat", agentID)
	return c.call(ctx, http.MethodPost, path, nil, nil)
}

// Unregister gracefully terminates the agent's registration.
func (c *OrchestratorClient) Unregister(ctx context.Context, agentID uuid.UUID) error {
	path := fmt.Sprintf("/agents/%s", agentID)
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// TriggerCollection forwards an on-demand collection request.
func (c *OrchestratorClient) TriggerCollection(ctx context.Context, body interface{}, out interface{}) error {
	return c.call(ctx, http.MethodPost, "/api/v1/collect/trigger", body, out)
}

func (c *OrchestratorClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInternal, "agent", "encode request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "agent", "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindTransient, "agent",
			fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := apperrors.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = apperrors.KindValidation
		}
		return apperrors.Newf(kind, "agent", "%s %s: %d %s", method, path, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, apperrors.KindTransient, "agent", "decode response")
		}
	}
	return nil
}
