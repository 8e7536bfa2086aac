package agent

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/memory"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

// CostDomain serves spend reads and votes on peer recommendations using
// recalled past outcomes.
type CostDomain struct {
	reader *query.CostReader
	engine *workflow.Engine
	mem    *memory.Memory
	log    logger.Logger
}

// NewCostDomain wires the cost agent surface. mem may be nil.
func NewCostDomain(reader *query.CostReader, engine *workflow.Engine, mem *memory.Memory) *CostDomain {
	return &CostDomain{reader: reader, engine: engine, mem: mem, log: logger.New("cost-domain")}
}

func (d *CostDomain) Type() string   { return "cost" }
func (d *CostDomain) Plural() string { return "costs" }

func (d *CostDomain) Mount(rg *gin.RouterGroup) {
	rg.GET("/:customer_id/providers", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		providers, err := d.reader.Providers(c.Request.Context(), customerID, queryParams(c))
		respond(c, gin.H{"providers": providers}, err)
	})
	rg.GET("/:customer_id/:provider/metrics", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		rows, err := d.reader.Metrics(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
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
		points, err := d.reader.Trend(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, gin.H{"trend": points}, err)
	})
	rg.GET("/:customer_id/:provider/total", func(c *gin.Context) {
		customerID, ok := pathCustomer(c)
		if !ok {
			return
		}
		total, err := d.reader.Total(c.Request.Context(), customerID, c.Param("provider"), queryParams(c))
		respond(c, gin.H{"total": total}, err)
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

// Approve votes on a peer recommendation. Past failed outcomes for
// similar actions recalled from memory lower the confidence.
func (d *CostDomain) Approve(ctx context.Context, rec *relational.Recommendation) workflow.Vote {
	vote := workflow.Vote{AgentType: d.Type(), Approved: true, Confidence: 0.85}

	if rec.EstimatedSavings < 0 {
		vote.Approved = false
		vote.Confidence = 0.3
		vote.Rationale = "estimated savings is negative"
		return vote
	}

	if d.mem != nil {
		matches, err := d.mem.SearchCostKnowledge(ctx, memory.Query{
			Text:   rec.Title + " " + rec.Description,
			Filter: memory.Filter{"customer_id": rec.CustomerID.String(), "outcome": memory.OutcomeFailed},
			TopK:   3,
		})
		if err != nil {
			d.log.Warn("memory recall failed", logger.Error(err))
		} else if len(matches) > 0 && matches[0].Score > 0.8 {
			vote.Confidence = 0.6
			vote.Rationale = fmt.Sprintf("similar action previously failed: %s",
				matches[0].Knowledge.LessonsLearned)
			return vote
		}
	}

	vote.Rationale = fmt.Sprintf("estimated savings %.2f, no conflicting history", rec.EstimatedSavings)
	return vote
}
