package providers

import (
	"context"
	"time"

	"github.com/digitalocean/godo"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderDigitalOcean pulls billing history and droplet inventory.
const ProviderDigitalOcean = "digitalocean"

func newDigitalOceanAdapters() []Adapter {
	return []Adapter{
		&doCostAdapter{},
		&doResourceAdapter{},
	}
}

func doClient(cred *credentials.Decrypted) (*godo.Client, error) {
	token := cred.Payload["api_token"]
	if token == "" {
		return nil, apperrors.New(apperrors.KindCredential, "providers",
			"digitalocean credential requires api_token")
	}
	return godo.NewFromToken(token), nil
}

func verifyDigitalOcean(ctx context.Context, cred *credentials.Decrypted) error {
	client, err := doClient(cred)
	if err != nil {
		return err
	}
	_, _, err = client.Account.Get(ctx)
	return err
}

type doCostAdapter struct{}

func (a *doCostAdapter) Provider() string { return ProviderDigitalOcean }
func (a *doCostAdapter) DataType() string { return timeseries.DataTypeCost }

// Collect reads the billing history feed and keeps entries inside the
// window.
func (a *doCostAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	client, err := doClient(req.Credential)
	if err != nil {
		return nil, err
	}
	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeCost}}

	history, _, err := client.BillingHistory.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "providers", "digitalocean billing history")
	}

	for _, item := range history.BillingHistory {
		if item.Date.Before(req.Since) || item.Date.After(req.Until) {
			continue
		}
		amount, perr := parseAmount(item.Amount)
		if perr != nil {
			res.addError(perr)
			continue
		}
		res.Batch.Cost = append(res.Batch.Cost, timeseries.CostRow{
			Timestamp:    item.Date,
			CustomerID:   req.Credential.CustomerID,
			Provider:     ProviderDigitalOcean,
			CostType:     item.Type,
			Amount:       amount,
			Currency:     "USD",
			ResourceType: "billing",
		})
	}
	return res, nil
}

type doResourceAdapter struct{}

func (a *doResourceAdapter) Provider() string { return ProviderDigitalOcean }
func (a *doResourceAdapter) DataType() string { return timeseries.DataTypeResource }

// Collect inventories droplets; the page number is the cursor.
func (a *doResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	client, err := doClient(req.Credential)
	if err != nil {
		return nil, err
	}
	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()

	opts := &godo.ListOptions{PerPage: 200, Page: cursorPage(req.Cursor)}
	droplets, resp, err := client.Droplets.List(ctx, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "providers", "digitalocean droplet list")
	}

	for _, d := range droplets {
		running := 0.0
		if d.Status == "active" {
			running = 1.0
		}
		res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
			Timestamp:    now,
			CustomerID:   req.Credential.CustomerID,
			Provider:     ProviderDigitalOcean,
			ResourceID:   d.Name,
			ResourceType: d.SizeSlug,
			MetricName:   "instance_running",
			MetricValue:  running,
		})
		res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
			Timestamp:    now,
			CustomerID:   req.Credential.CustomerID,
			Provider:     ProviderDigitalOcean,
			ResourceID:   d.Name,
			ResourceType: d.SizeSlug,
			MetricName:   "vcpus",
			MetricValue:  float64(d.Vcpus),
		})
	}

	if resp != nil && resp.Links != nil && !resp.Links.IsLastPage() {
		page, perr := resp.Links.CurrentPage()
		if perr == nil {
			res.NextCursor = formatPage(page + 1)
		}
	}
	return res, nil
}
