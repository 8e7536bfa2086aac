// Package providers holds the pull adapters, one per (provider, data
// type), and the build-time registry the scheduler selects from.
// Adapters never write to a store; they produce typed rows, a partial
// flag, and an optional cursor the scheduler persists.
package providers

import (
	"context"
	"time"

	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// Capability names advertised by adapters.
const (
	CapCollectCost        = "collect_cost"
	CapCollectPerformance = "collect_performance"
	CapCollectResource    = "collect_resource"
	CapCollectApplication = "collect_application"
)

// CapabilityFor maps a data type to its capability name.
func CapabilityFor(dataType string) string {
	return "collect_" + dataType
}

// Request is one pull invocation. The credential is opaque to the
// scheduler; the window bounds event time; the cursor, when present,
// resumes provider-side pagination from the previous run.
type Request struct {
	Credential *credentials.Decrypted
	Since      time.Time
	Until      time.Time
	Cursor     string
}

// Result is a structured adapter outcome. Sub-query failures never abort
// the pull: surviving rows land in Batch, Partial flips, and Errors
// carries the summaries.
type Result struct {
	Batch      timeseries.Batch
	Partial    bool
	NextCursor string
	Errors     []string
}

// Adapter pulls one data type from one provider.
type Adapter interface {
	Provider() string
	DataType() string
	Collect(ctx context.Context, req Request) (*Result, error)
}

// addError marks the result partial and records the sub-query failure.
func (r *Result) addError(err error) {
	r.Partial = true
	r.Errors = append(r.Errors, err.Error())
}
