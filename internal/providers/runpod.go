package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderRunPod pulls pod cost and inventory over the RunPod GraphQL
// API, and application-quality samples by querying the customer's own
// Prometheus endpoint named in the credential metadata.
const ProviderRunPod = "runpod"

const runpodGraphQLURL = "https://api.runpod.io/graphql"

func newRunPodAdapters(httpc *httpClient) []Adapter {
	return []Adapter{
		&runpodCostAdapter{httpc: httpc},
		&runpodResourceAdapter{httpc: httpc},
		&runpodApplicationAdapter{httpc: httpc},
	}
}

const runpodPodsQuery = `{"query":"query Pods { myself { pods { id name costPerHr desiredStatus machine { gpuDisplayName } } } }"}`

type runpodPod struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CostPerHr     float64 `json:"costPerHr"`
	DesiredStatus string  `json:"desiredStatus"`
	Machine       struct {
		GPUDisplayName string `json:"gpuDisplayName"`
	} `json:"machine"`
}

func runpodPods(ctx context.Context, httpc *httpClient, cred *credentials.Decrypted) ([]runpodPod, error) {
	key := cred.Payload["api_key"]
	if key == "" {
		return nil, apperrors.New(apperrors.KindCredential, "providers",
			"runpod credential requires api_key")
	}
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + key,
	}
	data, err := httpc.do(ctx, ProviderRunPod, http.MethodPost, runpodGraphQLURL, []byte(runpodPodsQuery), headers)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Myself struct {
				Pods []runpodPod `json:"pods"`
			} `json:"myself"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "providers", "runpod decode")
	}
	if len(payload.Errors) > 0 {
		return nil, apperrors.Newf(apperrors.KindCredential, "providers",
			"runpod graphql: %s", payload.Errors[0].Message)
	}
	return payload.Data.Myself.Pods, nil
}

func verifyRunPod(ctx context.Context, httpc *httpClient, cred *credentials.Decrypted) error {
	_, err := runpodPods(ctx, httpc, cred)
	return err
}

type runpodCostAdapter struct {
	httpc *httpClient
}

func (a *runpodCostAdapter) Provider() string { return ProviderRunPod }
func (a *runpodCostAdapter) DataType() string { return timeseries.DataTypeCost }

// Collect converts each running pod's hourly rate into one spend row per
// hour of the window.
func (a *runpodCostAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	pods, err := runpodPods(ctx, a.httpc, req.Credential)
	if err != nil {
		return nil, err
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeCost}}
	for _, pod := range pods {
		if pod.DesiredStatus != "RUNNING" || pod.CostPerHr <= 0 {
			continue
		}
		for ts := req.Since.Truncate(time.Hour); ts.Before(req.Until); ts = ts.Add(time.Hour) {
			res.Batch.Cost = append(res.Batch.Cost, timeseries.CostRow{
				Timestamp:    ts,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderRunPod,
				InstanceID:   pod.ID,
				CostType:     "gpu_compute",
				Amount:       pod.CostPerHr,
				Currency:     "USD",
				ResourceType: pod.Machine.GPUDisplayName,
			})
		}
	}
	return res, nil
}

type runpodResourceAdapter struct {
	httpc *httpClient
}

func (a *runpodResourceAdapter) Provider() string { return ProviderRunPod }
func (a *runpodResourceAdapter) DataType() string { return timeseries.DataTypeResource }

func (a *runpodResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	pods, err := runpodPods(ctx, a.httpc, req.Credential)
	if err != nil {
		return nil, err
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()
	for _, pod := range pods {
		running := 0.0
		if pod.DesiredStatus == "RUNNING" {
			running = 1.0
		}
		res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
			Timestamp:    now,
			CustomerID:   req.Credential.CustomerID,
			Provider:     ProviderRunPod,
			ResourceID:   pod.ID,
			ResourceType: pod.Machine.GPUDisplayName,
			MetricName:   "pod_running",
			MetricValue:  running,
		})
	}
	return res, nil
}

type runpodApplicationAdapter struct {
	httpc *httpClient
}

func (a *runpodApplicationAdapter) Provider() string { return ProviderRunPod }
func (a *runpodApplicationAdapter) DataType() string { return timeseries.DataTypeApplication }

// Collect queries the customer's Prometheus endpoint (credential
// metadata prometheus_endpoint) for the quality metrics listed in
// metadata quality_metrics; each failed query marks the result partial.
func (a *runpodApplicationAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	endpoint := req.Credential.Endpoint("prometheus_endpoint")
	if endpoint == "" {
		return nil, apperrors.New(apperrors.KindCredential, "providers",
			"runpod application collection requires metadata prometheus_endpoint")
	}

	metricTypes := []string{"quality", "hallucination_rate", "toxicity"}
	if raw, ok := req.Credential.Metadata["quality_metrics"].([]interface{}); ok && len(raw) > 0 {
		metricTypes = metricTypes[:0]
		for _, m := range raw {
			if s, ok := m.(string); ok {
				metricTypes = append(metricTypes, s)
			}
		}
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeApplication}}
	for _, metricType := range metricTypes {
		query := req.Credential.MetricName(metricType)
		rows, err := a.queryPrometheus(ctx, endpoint, query, req)
		if err != nil {
			res.addError(fmt.Errorf("query %s: %w", metricType, err))
			continue
		}
		for i := range rows {
			rows[i].MetricType = metricType
		}
		res.Batch.Application = append(res.Batch.Application, rows...)
	}
	return res, nil
}

func (a *runpodApplicationAdapter) queryPrometheus(ctx context.Context, endpoint, query string, req Request) ([]timeseries.ApplicationRow, error) {
	u := fmt.Sprintf("%s/api/v1/query_range?query=%s&start=%d&end=%d&step=300",
		endpoint, url.QueryEscape(query), req.Since.Unix(), req.Until.Unix())
	data, err := a.httpc.do(ctx, ProviderRunPod, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Metric map[string]string `json:"metric"`
				Values [][2]interface{}  `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("prometheus status %q", payload.Status)
	}

	var rows []timeseries.ApplicationRow
	for _, series := range payload.Data.Result {
		appID := series.Metric["application"]
		if appID == "" {
			appID = series.Metric["job"]
		}
		model := series.Metric["model"]
		for _, pair := range series.Values {
			unix, ok := pair[0].(float64)
			if !ok {
				continue
			}
			raw, ok := pair[1].(string)
			if !ok {
				continue
			}
			score, perr := strconv.ParseFloat(raw, 64)
			if perr != nil {
				continue
			}
			rows = append(rows, timeseries.ApplicationRow{
				Timestamp:     time.Unix(int64(unix), 0).UTC(),
				CustomerID:    req.Credential.CustomerID,
				Provider:      ProviderRunPod,
				ApplicationID: appID,
				Score:         score,
				ModelName:     model,
			})
		}
	}
	return rows, nil
}
