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

// ResourceDomain serves inventory/utilization reads and votes based on
// whether the targeted resource is actually present.
type ResourceDomain struct {
	reader *query.ResourceReader
	engine *workflow.Engine
	log    logger.Logger
}

// NewResourceDomain wires the resource agent surface.
func NewResourceDomain(reader *query.ResourceReader, engine *workflow.Engine) *ResourceDomain {
	return &ResourceDomain{reader: reader, engine: engine, log: logger.New("resource-domain")}
}

func (d *ResourceDomain) Type() string   { return "resource" }
func (d *ResourceDomain) Plural() string { return "resources" }

func (d *ResourceDomain) Mount(rg *gin.RouterGroup) {
	rg.GET("/:customer_id/:provider/metrics", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		rows, err := d.reader.Metrics(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, gin.H{"metrics": rows}, err)
	})
	rg.GET("/:customer_id/:provider/total", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		total, err := d.reader.Total(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, gin.H{"total": total}, err)
	})
	rg.GET("/:customer_id/:provider/utilization", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		util, err := d.reader.Utilization(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, util, err)
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

// Approve checks that the customer still has inventory with the named
// provider before blessing an action against it.
func (d *ResourceDomain) Approve(ctx context.Context, rec *relational.Recommendation) workflow.Vote {
	vote := workflow.Vote{AgentType: d.Type(), Approved: true, Confidence: 0.85}

	provider, _ := rec.Action["provider"].(string)
	if provider == "" {
		vote.Confidence = 0.75
		vote.Rationale = "no provider context"
		return vote
	}

	count, err := d.reader.Total(ctx, rec.CustomerID, provider, query.Params{Hours: 24})
	if err != nil {
		d.log.Warn("inventory read failed", logger.Error(err))
		vote.Confidence = 0.75
		vote.Rationale = "inventory unavailable"
		return vote
	}
	if count == 0 {
		vote.Approved = false
		vote.Confidence = 0.5
		vote.Rationale = fmt.Sprintf("no resources observed for %s in the last 24h", provider)
		return vote
	}
	vote.Rationale = fmt.Sprintf("%d resources present", count)
	return vote
}
