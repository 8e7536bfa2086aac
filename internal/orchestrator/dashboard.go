package orchestrator

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

const dashboardCacheTTL = 30 * time.Second

// Dashboard is the merged cross-domain view. Components that failed to
// load are named in Errors; the rest of the response still renders.
type Dashboard struct {
	CustomerID      string                      `json:"customer_id"`
	Provider        string                      `json:"provider,omitempty"`
	Hours           int                         `json:"hours"`
	Summary         DashboardSummary            `json:"summary"`
	Agents          []relational.Agent          `json:"agents"`
	CostTrend       []timeseries.TrendPoint     `json:"cost_trend,omitempty"`
	CostByType      []timeseries.NameValue      `json:"cost_by_type,omitempty"`
	Performance     []timeseries.NameValue      `json:"performance_metrics,omitempty"`
	Quality         []timeseries.TrendPoint     `json:"quality_trend,omitempty"`
	Recommendations []relational.Recommendation `json:"recommendations"`
	Errors          map[string]string           `json:"errors,omitempty"`
}

// DashboardSummary is the headline numbers row.
type DashboardSummary struct {
	TotalCost         float64  `json:"total_cost"`
	TotalInstances    int      `json:"total_instances"`
	Providers         []string `json:"providers"`
	AvgCPUUtilization float64  `json:"avg_cpu_utilization"`
	MaxCPUUtilization float64  `json:"max_cpu_utilization"`
}

// handleDashboard fans out to the four readers in parallel and merges;
// component failures degrade the response instead of failing it.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryUUID(r, "customer_id")
	if err != nil {
		writeError(w, err)
		return
	}
	provider := r.URL.Query().Get("provider")
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	if hours <= 0 {
		hours = 24
	}

	cacheKey := fmt.Sprintf("dashboard:%s:%s:%d", customerID, provider, hours)
	if s.redis != nil {
		var cached Dashboard
		if ok, _ := s.redis.GetJSON(r.Context(), cacheKey, &cached); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	dash := s.buildDashboard(r, customerID, provider, hours)
	if s.redis != nil && len(dash.Errors) == 0 {
		if err := s.redis.SetJSON(r.Context(), cacheKey, dash, dashboardCacheTTL); err != nil {
			s.log.Warn("dashboard cache write failed", logger.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) buildDashboard(r *http.Request, customerID uuid.UUID, provider string, hours int) *Dashboard {
	dash := &Dashboard{
		CustomerID: customerID.String(),
		Provider:   provider,
		Hours:      hours,
	}
	params := query.Params{Hours: hours}

	var mu sync.Mutex
	componentErr := func(component string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if dash.Errors == nil {
			dash.Errors = make(map[string]string)
		}
		dash.Errors[component] = err.Error()
	}

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		total, err := s.readers.Cost.Total(ctx, customerID, provider, params)
		if err != nil {
			componentErr("total_cost", err)
			return nil
		}
		dash.Summary.TotalCost = total
		return nil
	})
	g.Go(func() error {
		trend, err := s.readers.Cost.Trend(ctx, customerID, provider, params)
		if err != nil {
			componentErr("cost_trend", err)
			return nil
		}
		dash.CostTrend = trend
		return nil
	})
	g.Go(func() error {
		byType, err := s.readers.Cost.Summary(ctx, customerID, provider, params)
		if err != nil {
			componentErr("cost_by_type", err)
			return nil
		}
		dash.CostByType = byType
		return nil
	})
	g.Go(func() error {
		providers, err := s.readers.Cost.Providers(ctx, customerID, params)
		if err != nil {
			componentErr("providers", err)
			return nil
		}
		if providers == nil {
			providers = []string{}
		}
		dash.Summary.Providers = providers
		return nil
	})
	g.Go(func() error {
		util, err := s.readers.Resource.Utilization(ctx, customerID, provider, params)
		if err != nil {
			componentErr("utilization", err)
			return nil
		}
		dash.Summary.TotalInstances = util.InstanceCount
		dash.Summary.AvgCPUUtilization = util.AvgCPUUtilization
		dash.Summary.MaxCPUUtilization = util.MaxCPUUtilization
		return nil
	})
	g.Go(func() error {
		quality, err := s.readers.Application.Trend(ctx, customerID, provider, "quality", params)
		if err != nil {
			componentErr("quality_trend", err)
			return nil
		}
		dash.Quality = quality
		return nil
	})
	g.Go(func() error {
		perf, err := s.readers.Performance.Summary(ctx, customerID, provider, params)
		if err != nil {
			componentErr("performance_metrics", err)
			return nil
		}
		dash.Performance = perf
		return nil
	})
	g.Go(func() error {
		agents, err := s.store.ListAgents(ctx)
		if err != nil {
			componentErr("agents", err)
			return nil
		}
		dash.Agents = agents
		return nil
	})
	g.Go(func() error {
		recs, err := s.store.ListRecommendations(ctx, customerID, 10)
		if err != nil {
			componentErr("recommendations", err)
			return nil
		}
		dash.Recommendations = recs
		return nil
	})

	_ = g.Wait()
	if dash.Summary.Providers == nil {
		dash.Summary.Providers = []string{}
	}
	if dash.Agents == nil {
		dash.Agents = []relational.Agent{}
	}
	if dash.Recommendations == nil {
		dash.Recommendations = []relational.Recommendation{}
	}
	return dash
}
