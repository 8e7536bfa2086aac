package agent

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// Domain is the per-agent-type surface mounted under /api/v2.
type Domain interface {
	Type() string
	Plural() string
	Mount(rg *gin.RouterGroup)
	Approve(ctx context.Context, rec *relational.Recommendation) workflow.Vote
}

// Server is the agent's HTTP edge: health probes, the domain routes, the
// approve and optimize endpoints, and the collection passthrough.
type Server struct {
	cfg     config.AgentConfig
	domain  Domain
	engine  *workflow.Engine
	runtime *Runtime
	client  *OrchestratorClient
	router  *gin.Engine
	log     logger.Logger
}

// NewServer wires the routes for one domain. engine may be nil to serve
// reads only.
func NewServer(cfg config.AgentConfig, domain Domain, engine *workflow.Engine, runtime *Runtime, client *OrchestratorClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		domain:  domain,
		engine:  engine,
		runtime: runtime,
		client:  client,
		router:  gin.New(),
		log:     logger.New(domain.Type() + "-agent"),
	}
	s.router.Use(gin.Recovery(), s.requestLog())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/v1/live", s.handleHealth)
	s.router.POST("/"+domain.Plural()+"/approve", s.handleApprove)

	rg := s.router.Group("/api/v2/" + domain.Plural())
	domain.Mount(rg)
	rg.POST("/optimize", s.handleOptimize)
	rg.POST("/trigger-collection", s.handleTriggerCollection)
	return s
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("agent server listening", logger.String("addr", s.cfg.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"agent_type": s.domain.Type(),
	})
}

// handleApprove lets this agent vote on a peer's recommendation.
func (s *Server) handleApprove(c *gin.Context) {
	var rec relational.Recommendation
	if err := c.ShouldBindJSON(&rec); err != nil {
		abortError(c, apperrors.Wrap(err, apperrors.KindValidation, "agent", "decode recommendation"))
		return
	}
	vote := s.domain.Approve(c.Request.Context(), &rec)
	c.JSON(http.StatusOK, vote)
}

// optimizeRequest describes one optimization to propose and run.
type optimizeRequest struct {
	CustomerID       uuid.UUID          `json:"customer_id"`
	Workflow         string             `json:"workflow"`
	ActionType       string             `json:"action_type"`
	ResourceID       string             `json:"resource_id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	Action           relational.JSONMap `json:"action"`
	EstimatedSavings float64            `json:"estimated_savings"`
	Confidence       float64            `json:"confidence"`
	Provider         string             `json:"provider"`
	Input            relational.JSONMap `json:"input"`
}

// handleOptimize proposes an optimization and drives its workflow. A run
// paused at the approval gate answers 202 with waiting_approval.
func (s *Server) handleOptimize(c *gin.Context) {
	if s.engine == nil {
		abortError(c, apperrors.New(apperrors.KindUnavailable, "agent", "workflow engine not configured"))
		return
	}

	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, apperrors.Wrap(err, apperrors.KindValidation, "agent", "decode optimize request"))
		return
	}
	if req.CustomerID == uuid.Nil || req.Workflow == "" || req.ResourceID == "" {
		abortError(c, apperrors.New(apperrors.KindValidation, "agent",
			"customer_id, workflow and resource_id are required"))
		return
	}
	if req.ActionType == "" {
		req.ActionType = req.Workflow
	}

	rec, err := s.engine.Propose(c.Request.Context(), workflow.Proposal{
		CustomerID:       req.CustomerID,
		AgentType:        s.domain.Type(),
		ActionType:       req.ActionType,
		ResourceID:       req.ResourceID,
		Title:            req.Title,
		Description:      req.Description,
		Action:           req.Action,
		EstimatedSavings: req.EstimatedSavings,
		Confidence:       req.Confidence,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	var agentID *uuid.UUID
	if s.runtime != nil {
		if id := s.runtime.AgentID(); id != uuid.Nil {
			agentID = &id
		}
	}
	exec, err := s.engine.Execute(c.Request.Context(), workflow.ExecuteRequest{
		WorkflowName:   req.Workflow,
		Recommendation: rec,
		AgentID:        agentID,
		Provider:       req.Provider,
		Input:          req.Input,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	status := http.StatusOK
	if exec.Status == relational.WorkflowWaitingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"recommendation_id": rec.ID,
		"execution_id":      exec.ID,
		"status":            exec.Status,
	})
}

// handleTriggerCollection forwards to the orchestrator's collect API so
// clients can drive collection through any agent.
func (s *Server) handleTriggerCollection(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortError(c, apperrors.Wrap(err, apperrors.KindValidation, "agent", "decode trigger request"))
		return
	}
	var out map[string]interface{}
	if err := s.client.TriggerCollection(c.Request.Context(), body, &out); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// pathCustomer parses the customer_id path segment.
func pathCustomer(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("customer_id"))
	if err != nil {
		abortError(c, apperrors.Newf(apperrors.KindValidation, "agent",
			"invalid customer_id %q", c.Param("customer_id")))
		return uuid.Nil, false
	}
	return id, true
}

// queryParams reads the optional hours and limit query knobs.
func queryParams(c *gin.Context) query.Params {
	p := query.Params{}
	if v, err := strconv.Atoi(c.DefaultQuery("hours", "24")); err == nil {
		p.Hours = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		p.Limit = v
	}
	return p
}

func abortError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{
		"error":  http.StatusText(apperrors.HTTPStatus(err)),
		"detail": err.Error(),
	})
}

func respond(c *gin.Context, payload interface{}, err error) {
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}
