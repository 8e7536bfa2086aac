package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderDemo generates deterministic synthetic rows for every data
// type. It verifies without a network probe and exists so the platform
// runs end to end without live cloud accounts.
const ProviderDemo = "demo"

type demoAdapter struct {
	dataType string
}

func newDemoAdapters() []Adapter {
	out := make([]Adapter, 0, len(timeseries.DataTypes))
	for _, dt := range timeseries.DataTypes {
		out = append(out, &demoAdapter{dataType: dt})
	}
	return out
}

func (d *demoAdapter) Provider() string { return ProviderDemo }
func (d *demoAdapter) DataType() string { return d.dataType }

func (d *demoAdapter) Collect(_ context.Context, req Request) (*Result, error) {
	res := &Result{Batch: timeseries.Batch{DataType: d.dataType}}
	cust := req.Credential.CustomerID

	// One sample per resource per hour, values derived from a hash of
	// (customer, resource, hour) so repeated collections are idempotent.
	for ts := req.Since.Truncate(time.Hour); !ts.After(req.Until); ts = ts.Add(time.Hour) {
		for i := 0; i < 3; i++ {
			resource := fmt.Sprintf("demo-node-%d", i)
			v := demoValue(cust.String(), resource, ts)

			switch d.dataType {
			case timeseries.DataTypeCost:
				res.Batch.Cost = append(res.Batch.Cost, timeseries.CostRow{
					Timestamp:    ts,
					CustomerID:   cust,
					Provider:     ProviderDemo,
					InstanceID:   resource,
					CostType:     "compute",
					Amount:       0.5 + v*2.0,
					Currency:     "USD",
					ResourceType: "vm",
				})
			case timeseries.DataTypePerformance:
				res.Batch.Performance = append(res.Batch.Performance, timeseries.PerformanceRow{
					Timestamp:   ts,
					CustomerID:  cust,
					Provider:    ProviderDemo,
					MetricName:  req.Credential.MetricName("latency_ms"),
					MetricValue: 20 + v*180,
					ResourceID:  resource,
				})
			case timeseries.DataTypeResource:
				res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
					Timestamp:    ts,
					CustomerID:   cust,
					Provider:     ProviderDemo,
					ResourceID:   resource,
					ResourceType: "vm",
					MetricName:   "cpu_utilization",
					MetricValue:  10 + v*80,
				})
			case timeseries.DataTypeApplication:
				res.Batch.Application = append(res.Batch.Application, timeseries.ApplicationRow{
					Timestamp:     ts,
					CustomerID:    cust,
					Provider:      ProviderDemo,
					ApplicationID: resource,
					MetricType:    "quality",
					Score:         0.7 + v*0.3,
					ModelName:     "demo-model",
				})
			}
		}
	}
	return res, nil
}

// demoValue hashes the identity into [0, 1).
func demoValue(parts ...interface{}) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return math.Mod(float64(h.Sum64())/float64(math.MaxUint64), 1.0)
}
