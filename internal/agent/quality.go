package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/query"
)

// QualityProbe adapts the application reader to workflow.QualityChecker
// for agent processes that do not host the application domain.
type QualityProbe struct {
	reader *query.ApplicationReader
}

// NewQualityProbe builds the probe over the shared time-series store.
func NewQualityProbe(reader *query.ApplicationReader) *QualityProbe {
	return &QualityProbe{reader: reader}
}

// AvgScore reports the mean quality score over the last hour.
func (q *QualityProbe) AvgScore(ctx context.Context, customerID uuid.UUID, provider string) (float64, error) {
	return q.reader.AvgScore(ctx, customerID, provider, "quality", query.Params{Hours: 1})
}
