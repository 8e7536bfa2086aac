package agent

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// ApplicationDomain serves quality-score reads and vetoes actions when
// application quality is already degraded.
type ApplicationDomain struct {
	reader *query.ApplicationReader
	engine *workflow.Engine
	log    logger.Logger
}

// NewApplicationDomain wires the application agent surface.
func NewApplicationDomain(reader *query.ApplicationReader, engine *workflow.Engine) *ApplicationDomain {
	return &ApplicationDomain{reader: reader, engine: engine, log: logger.New("application-domain")}
}

func (d *ApplicationDomain) Type() string   { return "application" }
func (d *ApplicationDomain) Plural() string { return "applications" }

func (d *ApplicationDomain) Mount(rg *gin.RouterGroup) {
	rg.GET("/:customer_id/:provider/metrics", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		rows, err := d.reader.Metrics(c.Request.Context(), customerID, c.Param("provider"),
			c.Query("metric_type"), queryParams(c))
		respond(c, gin.H{"metrics": rows}, err)
	})
	rg.GET("/:customer_id/:provider/trends", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		points, err := d.reader.Trend(c.Request.Context(), customerID, c.Param("provider"),
			c.DefaultQuery("metric_type", "quality"), queryParams(c))
		respond(c, gin.H{"trend": points}, err)
	})
	rg.GET("/:customer_id/:provider/summary", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		avg, err := d.reader.AvgScore(c.Request.Context(), customerID, c.Param("provider"),
			c.DefaultQuery("metric_type", "quality"), queryParams(c))
		respond(c, gin.H{"avg_score": avg}, err)
	})
}

// AvgScore satisfies workflow.QualityChecker so the engine can run its
// between-phase regression check through this domain.
func (d *ApplicationDomain) AvgScore(ctx context.Context, customerID uuid.UUID, provider string) (float64, error) {
	return d.reader.AvgScore(ctx, customerID, provider, "quality", query.Params{Hours: 1})
}

// Approve vetoes changes while quality is already below par.
func (d *ApplicationDomain) Approve(ctx context.Context, rec *relational.Recommendation) workflow.Vote {
	vote := workflow.Vote{AgentType: d.Type(), Approved: true, Confidence: 0.85}

	provider, _ := rec.Action["provider"].(string)
	if provider == "" {
		vote.Confidence = 0.75
		vote.Rationale = "no provider context"
		return vote
	}

	avg, err := d.reader.AvgScore(ctx, rec.CustomerID, provider, "quality", query.Params{Hours: 6})
	if err != nil {
		d.log.Warn("quality read failed", logger.Error(err))
		vote.Confidence = 0.75
		vote.Rationale = "quality score unavailable"
		return vote
	}
	if avg > 0 && avg < 0.7 {
		vote.Approved = false
		vote.Confidence = 0.4
		vote.Rationale = fmt.Sprintf("quality score %.2f already degraded", avg)
		return vote
	}
	vote.Rationale = fmt.Sprintf("quality score %.2f is healthy", avg)
	return vote
}
