package agent

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// PerformanceDomain serves latency/utilization reads and guards peer
// recommendations against already-saturated infrastructure.
type PerformanceDomain struct {
	reader *query.PerformanceReader
	engine *workflow.Engine
	log    logger.Logger
}

// NewPerformanceDomain wires the performance agent surface.
func NewPerformanceDomain(reader *query.PerformanceReader, engine *workflow.Engine) *PerformanceDomain {
	return &PerformanceDomain{reader: reader, engine: engine, log: logger.New("performance-domain")}
}

func (d *PerformanceDomain) Type() string   { return "performance" }
func (d *PerformanceDomain) Plural() string { return "performance" }

func (d *PerformanceDomain) Mount(rg *gin.RouterGroup) {
	rg.GET("/:customer_id/:provider/metrics", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		rows, err := d.reader.Metrics(c.Request.Context(), customerID, c.Param("provider"),
			c.Query("metric"), queryParams(c))
		respond(c, gin.H{"metrics": rows}, err)
	})
	rg.GET("/:customer_id/:provider/latest", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		rows, err := d.reader.Latest(c.Request.Context(), customerID, c.Param("provider"))
		respond(c, gin.H{"latest": rows}, err)
	})
	rg.GET("/:customer_id/:provider/trends", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		points, err := d.reader.Trend(c.Request.Context(), customerID, c.Param("provider"),
			c.DefaultQuery("metric", "cpu_utilization"), queryParams(c))
		respond(c, gin.H{"trend": points}, err)
	})
	rg.GET("/:customer_id/:provider/summary", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		items, err := d.reader.Summary(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, gin.H{"summary": items}, err)
	})
}

// Approve rejects actions against infrastructure already running hot.
func (d *PerformanceDomain) Approve(ctx context.Context, rec *relational.Recommendation) workflow.Vote {
	vote := workflow.Vote{AgentType: d.Type(), Approved: true, Confidence: 0.85}

	provider, _ := rec.Action["provider"].(string)
	if provider == "" {
		vote.Confidence = 0.75
		vote.Rationale = "no provider context, approving on recommendation confidence"
		return vote
	}

	summary, err := d.reader.Summary(ctx, rec.CustomerID, provider, query.Params{Hours: 6})
	if err != nil {
		d.log.Warn("utilization read failed", logger.Error(err))
		vote.Confidence = 0.75
		vote.Rationale = "utilization unavailable"
		return vote
	}
	for _, item := range summary {
		if item.Name == "cpu_utilization" && item.Value > 90 {
			vote.Approved = false
			vote.Confidence = 0.4
			vote.Rationale = fmt.Sprintf("cpu utilization %.1f%% over the last 6h, change is risky", item.Value)
			return vote
		}
	}
	vote.Rationale = "utilization headroom is adequate"
	return vote
}
