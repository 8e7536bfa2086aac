package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// agentPlurals maps agent types to their route segments.
var agentPlurals = map[string]string{
	"cost":        "costs",
	"performance": "performance",
	"resource":    "resources",
	"application": "applications",
}

// PeerApprover fans a recommendation out to the peer agents' /approve
// endpoints under the approval deadline. It implements
// workflow.Approver; the orchestrator owns the fan-out so agents never
// call each other directly.
type PeerApprover struct {
	store   *relational.Store
	timeout time.Duration
	httpc   *http.Client
	log     logger.Logger
}

// NewPeerApprover builds the fan-out approver.
func NewPeerApprover(store *relational.Store, timeout time.Duration) *PeerApprover {
	return &PeerApprover{
		store:   store,
		timeout: timeout,
		httpc:   &http.Client{Timeout: timeout},
		log:     logger.New("approver"),
	}
}

// RequestVotes collects one vote from each active peer agent. A peer
// that cannot be reached simply contributes no vote; the policy decides
// what an empty or thin vote set means.
func (p *PeerApprover) RequestVotes(ctx context.Context, rec *relational.Recommendation) ([]workflow.Vote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var mu sync.Mutex
	var votes []workflow.Vote
	g, ctx := errgroup.WithContext(ctx)

	for agentType, plural := range agentPlurals {
		if agentType == rec.AgentType {
			continue
		}
		agentType, plural := agentType, plural
		g.Go(func() error {
			vote, err := p.requestVote(ctx, agentType, plural, rec)
			if err != nil {
				p.log.Warn("peer vote unavailable",
					logger.String("agent_type", agentType),
					logger.Error(err))
				return nil
			}
			mu.Lock()
			votes = append(votes, *vote)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return votes, nil
}

func (p *PeerApprover) requestVote(ctx context.Context, agentType, plural string, rec *relational.Recommendation) (*workflow.Vote, error) {
	agent, err := p.store.ActiveAgentByType(ctx, agentType)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "orchestrator", "encode recommendation")
	}
	url := fmt.Sprintf("%s/%s/approve", agent.Endpoint, plural)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "orchestrator", "build approve request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "orchestrator",
			fmt.Sprintf("call %s agent", agentType))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindTransient, "orchestrator",
			"%s agent returned %d", agentType, resp.StatusCode)
	}

	var vote workflow.Vote
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "orchestrator", "decode vote")
	}
	if vote.AgentType == "" {
		vote.AgentType = agentType
	}
	return &vote, nil
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := s.store.ListRecommendations(r.Context(), customerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recommendations": recs})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	approvals, err := s.store.ListApprovals(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

// handleHumanApproval records a human override vote on a paused
// recommendation; the owning agent's engine picks it up on resume.
func (s *Server) handleHumanApproval(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Approved   bool    `json:"approved"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, apperrors.New(apperrors.KindValidation, "orchestrator",
			"confidence must be in [0,1]"))
		return
	}

	rec, err := s.store.GetRecommendation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.RecordApproval(r.Context(), &relational.Approval{
		ID:                 uuid.New(),
		RecommendationID:   rec.ID,
		ApprovingAgentType: "human",
		Approved:           req.Approved,
		Confidence:         req.Confidence,
		Rationale:          req.Rationale,
	}); err != nil {
		writeError(w, err)
		return
	}

	status := relational.RecommendationApproved
	if !req.Approved {
		status = relational.RecommendationDenied
	}
	if err := s.store.SetRecommendationStatus(r.Context(), rec.ID, status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleRequestApprovals fans a recommendation out to its peer agents
// and records every vote. Agents call this instead of each other.
func (s *Server) handleRequestApprovals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecommendationID uuid.UUID `json:"recommendation_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RecommendationID == uuid.Nil {
		writeError(w, apperrors.New(apperrors.KindValidation, "orchestrator",
			"recommendation_id is required"))
		return
	}

	rec, err := s.store.GetRecommendation(r.Context(), req.RecommendationID)
	if err != nil {
		writeError(w, err)
		return
	}

	votes, err := s.approver.RequestVotes(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, v := range votes {
		if err := s.store.RecordApproval(r.Context(), &relational.Approval{
			ID:                 uuid.New(),
			RecommendationID:   rec.ID,
			ApprovingAgentType: v.AgentType,
			Approved:           v.Approved,
			Confidence:         v.Confidence,
			Rationale:          v.Rationale,
		}); err != nil {
			writeError(w, err)
			return
		}
	}

	decision := workflow.Evaluate(votes, s.cfg.Workflow.ApprovalThreshold)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendation_id": rec.ID,
		"votes":             votes,
		"decision":          decision,
	})
}
