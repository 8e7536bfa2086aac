package providers

import (
	"context"
	"fmt"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	monitoring "google.golang.org/api/monitoring/v3"
	"google.golang.org/api/option"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderGCP pulls performance from Cloud Monitoring and inventory from
// Compute Engine. Billing export is not exposed over a pull API, so GCP
// carries no cost adapter.
const ProviderGCP = "gcp"

func newGCPAdapters() []Adapter {
	return []Adapter{
		&gcpPerformanceAdapter{},
		&gcpResourceAdapter{},
	}
}

func gcpCredentialJSON(cred *credentials.Decrypted) ([]byte, string, error) {
	raw := cred.Payload["service_account_json"]
	project := cred.Payload["project_id"]
	if raw == "" || project == "" {
		return nil, "", apperrors.New(apperrors.KindCredential, "providers",
			"gcp credential requires service_account_json and project_id")
	}
	return []byte(raw), project, nil
}

func verifyGCP(ctx context.Context, cred *credentials.Decrypted) error {
	raw, _, err := gcpCredentialJSON(cred)
	if err != nil {
		return err
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, monitoring.MonitoringReadScope)
	if err != nil {
		return fmt.Errorf("parse service account: %w", err)
	}
	if _, err := creds.TokenSource.Token(); err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	return nil
}

type gcpPerformanceAdapter struct{}

func (a *gcpPerformanceAdapter) Provider() string { return ProviderGCP }
func (a *gcpPerformanceAdapter) DataType() string { return timeseries.DataTypePerformance }

// Collect lists monitoring time series for the instance CPU and network
// metrics; each sub-query failure is recorded and the rest proceed.
func (a *gcpPerformanceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	raw, project, err := gcpCredentialJSON(req.Credential)
	if err != nil {
		return nil, err
	}
	svc, err := monitoring.NewService(ctx, option.WithCredentialsJSON(raw))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindCredential, "providers", "gcp monitoring client")
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypePerformance}}
	metrics := map[string]string{
		"compute.googleapis.com/instance/cpu/utilization":            "cpu_utilization",
		"compute.googleapis.com/instance/network/received_bytes_count": "network_in_bytes",
		"compute.googleapis.com/instance/network/sent_bytes_count":     "network_out_bytes",
	}

	for metricType, canonical := range metrics {
		call := svc.Projects.TimeSeries.List("projects/"+project).
			Filter(fmt.Sprintf(`metric.type="%s"`, metricType)).
			IntervalStartTime(req.Since.Format(time.RFC3339)).
			IntervalEndTime(req.Until.Format(time.RFC3339))

		resp, lerr := call.Context(ctx).Do()
		if lerr != nil {
			res.addError(fmt.Errorf("list %s: %w", metricType, lerr))
			continue
		}
		name := req.Credential.MetricName(canonical)
		for _, series := range resp.TimeSeries {
			resourceID := ""
			if series.Resource != nil {
				resourceID = series.Resource.Labels["instance_id"]
			}
			for _, point := range series.Points {
				if point.Value == nil || point.Value.DoubleValue == nil || point.Interval == nil {
					continue
				}
				ts, perr := time.Parse(time.RFC3339, point.Interval.EndTime)
				if perr != nil {
					continue
				}
				res.Batch.Performance = append(res.Batch.Performance, timeseries.PerformanceRow{
					Timestamp:   ts,
					CustomerID:  req.Credential.CustomerID,
					Provider:    ProviderGCP,
					MetricName:  name,
					MetricValue: *point.Value.DoubleValue,
					ResourceID:  resourceID,
				})
			}
		}
	}
	return res, nil
}

type gcpResourceAdapter struct{}

func (a *gcpResourceAdapter) Provider() string { return ProviderGCP }
func (a *gcpResourceAdapter) DataType() string { return timeseries.DataTypeResource }

// Collect inventories Compute Engine instances across all zones.
func (a *gcpResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	raw, project, err := gcpCredentialJSON(req.Credential)
	if err != nil {
		return nil, err
	}
	client, err := compute.NewInstancesRESTClient(ctx, option.WithCredentialsJSON(raw))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindCredential, "providers", "gcp compute client")
	}
	defer client.Close()

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()

	it := client.AggregatedList(ctx, &computepb.AggregatedListInstancesRequest{Project: project})
	for {
		pair, ierr := it.Next()
		if ierr == iterator.Done {
			break
		}
		if ierr != nil {
			return nil, apperrors.Wrap(ierr, apperrors.KindTransient, "providers", "gcp aggregated list")
		}
		if pair.Value == nil {
			continue
		}
		for _, inst := range pair.Value.Instances {
			running := 0.0
			if inst.GetStatus() == "RUNNING" {
				running = 1.0
			}
			res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
				Timestamp:    now,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderGCP,
				ResourceID:   fmt.Sprintf("%d", inst.GetId()),
				ResourceType: machineTypeName(inst.GetMachineType()),
				MetricName:   "instance_running",
				MetricValue:  running,
			})
		}
	}
	return res, nil
}

// machineTypeName trims the zone URL prefix off a machine type.
func machineTypeName(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
