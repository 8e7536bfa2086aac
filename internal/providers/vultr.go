package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderVultr pulls account billing and instance inventory over the
// Vultr v2 REST API through the shared retrying client.
const ProviderVultr = "vultr"

const vultrBaseURL = "https://api.vultr.com/v2"

func newVultrAdapters(httpc *httpClient) []Adapter {
	return []Adapter{
		&vultrCostAdapter{httpc: httpc},
		&vultrResourceAdapter{httpc: httpc},
	}
}

func vultrHeaders(cred *credentials.Decrypted) (map[string]string, error) {
	key := cred.Payload["api_key"]
	if key == "" {
		return nil, apperrors.New(apperrors.KindCredential, "providers",
			"vultr credential requires api_key")
	}
	return map[string]string{"Authorization": "Bearer " + key}, nil
}

func verifyVultr(ctx context.Context, httpc *httpClient, cred *credentials.Decrypted) error {
	headers, err := vultrHeaders(cred)
	if err != nil {
		return err
	}
	_, err = httpc.do(ctx, ProviderVultr, http.MethodGet, vultrBaseURL+"/account", nil, headers)
	return err
}

type vultrCostAdapter struct {
	httpc *httpClient
}

func (a *vultrCostAdapter) Provider() string { return ProviderVultr }
func (a *vultrCostAdapter) DataType() string { return timeseries.DataTypeCost }

// Collect reads the billing feed and keeps entries inside the window.
func (a *vultrCostAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	headers, err := vultrHeaders(req.Credential)
	if err != nil {
		return nil, err
	}

	data, err := a.httpc.do(ctx, ProviderVultr, http.MethodGet, vultrBaseURL+"/billing/history?per_page=500", nil, headers)
	if err != nil {
		return nil, err
	}

	var payload struct {
		BillingHistory []struct {
			ID          int     `json:"id"`
			Date        string  `json:"date"`
			Type        string  `json:"type"`
			Description string  `json:"description"`
			Amount      float64 `json:"amount"`
		} `json:"billing_history"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "providers", "vultr billing decode")
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeCost}}
	for _, item := range payload.BillingHistory {
		ts, perr := time.Parse(time.RFC3339, item.Date)
		if perr != nil {
			res.addError(fmt.Errorf("parse billing date %q: %w", item.Date, perr))
			continue
		}
		if ts.Before(req.Since) || ts.After(req.Until) {
			continue
		}
		res.Batch.Cost = append(res.Batch.Cost, timeseries.CostRow{
			Timestamp:    ts,
			CustomerID:   req.Credential.CustomerID,
			Provider:     ProviderVultr,
			InstanceID:   fmt.Sprintf("%d", item.ID),
			CostType:     item.Type,
			Amount:       item.Amount,
			Currency:     "USD",
			ResourceType: "billing",
		})
	}
	return res, nil
}

type vultrResourceAdapter struct {
	httpc *httpClient
}

func (a *vultrResourceAdapter) Provider() string { return ProviderVultr }
func (a *vultrResourceAdapter) DataType() string { return timeseries.DataTypeResource }

// Collect inventories instances; Vultr's meta cursor is persisted by the
// scheduler for the next pull.
func (a *vultrResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	headers, err := vultrHeaders(req.Credential)
	if err != nil {
		return nil, err
	}

	url := vultrBaseURL + "/instances?per_page=500"
	if req.Cursor != "" {
		url += "&cursor=" + req.Cursor
	}
	data, err := a.httpc.do(ctx, ProviderVultr, http.MethodGet, url, nil, headers)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Instances []struct {
			ID     string `json:"id"`
			Plan   string `json:"plan"`
			Status string `json:"status"`
			VCPUs  int    `json:"vcpu_count"`
			RAM    int    `json:"ram"`
		} `json:"instances"`
		Meta struct {
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "providers", "vultr instances decode")
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()
	for _, inst := range payload.Instances {
		running := 0.0
		if inst.Status == "active" {
			running = 1.0
		}
		res.Batch.Resource = append(res.Batch.Resource,
			timeseries.ResourceRow{
				Timestamp:    now,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderVultr,
				ResourceID:   inst.ID,
				ResourceType: inst.Plan,
				MetricName:   "instance_running",
				MetricValue:  running,
			},
			timeseries.ResourceRow{
				Timestamp:    now,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderVultr,
				ResourceID:   inst.ID,
				ResourceType: inst.Plan,
				MetricName:   "vcpus",
				MetricValue:  float64(inst.VCPUs),
			})
	}
	res.NextCursor = payload.Meta.Links.Next
	return res, nil
}
