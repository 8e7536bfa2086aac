// Package orchestrator is the platform's HTTP front door: the agent
// registry and heartbeat reaper, the dashboard aggregator, the
// credentials CRUD API, collection triggers, approval fan-out, request
// routing to the owning agent, and the websocket event stream.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/optiinfra/optiinfra/internal/cache"
	"github.com/optiinfra/optiinfra/internal/collector"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

// Readers bundles the four domain readers the dashboard merges.
type Readers struct {
	Cost        *query.CostReader
	Performance *query.PerformanceReader
	Resource    *query.ResourceReader
	Application *query.ApplicationReader
}

// Server is the orchestrator process.
type Server struct {
	cfg       *config.Config
	store     *relational.Store
	creds     *credentials.Service
	scheduler *collector.Scheduler
	readers   Readers
	redis     *cache.Redis
	rec       *events.Recorder
	approver  *PeerApprover

	router *mux.Router
	log    logger.Logger
}

// New wires the orchestrator routes. redis may be nil to disable the
// dashboard cache.
func New(cfg *config.Config, store *relational.Store, creds *credentials.Service, scheduler *collector.Scheduler, readers Readers, redis *cache.Redis, rec *events.Recorder) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		creds:     creds,
		scheduler: scheduler,
		readers:   readers,
		redis:     redis,
		rec:       rec,
		approver:  NewPeerApprover(store, cfg.Timeouts.Approval),
		router:    mux.NewRouter(),
		log:       logger.New("orchestrator"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Agent registry.
	s.router.HandleFunc("/agents/register", s.handleRegisterAgent).Methods(http.MethodPost)
	s.router.HandleFunc("/agents/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	s.router.HandleFunc("/agents/{id}", s.handleUnregisterAgent).Methods(http.MethodDelete)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)

	// Customers and credentials.
	v1.HandleFunc("/customers", s.handleCreateCustomer).Methods(http.MethodPost)
	v1.HandleFunc("/customers/{customer_id}", s.handleGetCustomer).Methods(http.MethodGet)
	v1.HandleFunc("/credentials", s.handleCreateCredential).Methods(http.MethodPost)
	v1.HandleFunc("/credentials", s.handleListCredentials).Methods(http.MethodGet)
	v1.HandleFunc("/credentials/{id}", s.handleUpdateCredential).Methods(http.MethodPut)
	v1.HandleFunc("/credentials/{provider}", s.handleGetCredential).Methods(http.MethodGet)
	v1.HandleFunc("/credentials/{provider}", s.handleDeleteCredential).Methods(http.MethodDelete)

	// Collection.
	v1.HandleFunc("/collect/trigger", s.handleTriggerCollection).Methods(http.MethodPost)
	v1.HandleFunc("/collect/history", s.handleListCollections).Methods(http.MethodGet)
	v1.HandleFunc("/collect/{id}", s.handleGetCollection).Methods(http.MethodGet)

	// Dashboard and recommendations.
	v1.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{customer_id}/recommendations", s.handleListRecommendations).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations/{id}/approvals", s.handleListApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations/{id}/approve", s.handleHumanApproval).Methods(http.MethodPost)
	v1.HandleFunc("/approvals/request", s.handleRequestApprovals).Methods(http.MethodPost)

	// Event stream.
	v1.HandleFunc("/events/ws", s.handleEventStream).Methods(http.MethodGet)

	// Domain requests route to the owning agent.
	s.router.PathPrefix("/api/v2/").HandlerFunc(s.handleAgentProxy)
}

// Router exposes the route table; tests drive it through httptest.
func (s *Server) Router() http.Handler { return s.router }

// Run serves until ctx ends; the heartbeat reaper runs alongside.
func (s *Server) Run(ctx context.Context) error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runReaper(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("orchestrator listening", logger.String("addr", s.cfg.Server.Addr()))
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		telemetry.HTTPRequestDuration.
			WithLabelValues(route, fmt.Sprintf("%dxx", rec.status/100)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working through the metrics wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
