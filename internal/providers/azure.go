package providers

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v4"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// ProviderAzure inventories virtual machines through the compute
// resource manager. Cost Management and Monitor pulls are not wired yet;
// Azure advertises the resource capability only.
const ProviderAzure = "azure"

func newAzureAdapters() []Adapter {
	return []Adapter{&azureResourceAdapter{}}
}

func azureCredential(cred *credentials.Decrypted) (*azidentity.ClientSecretCredential, string, error) {
	tenantID := cred.Payload["tenant_id"]
	clientID := cred.Payload["client_id"]
	secret := cred.Payload["client_secret"]
	subscription := cred.Payload["subscription_id"]
	if tenantID == "" || clientID == "" || secret == "" || subscription == "" {
		return nil, "", apperrors.New(apperrors.KindCredential, "providers",
			"azure credential requires tenant_id, client_id, client_secret, subscription_id")
	}
	ident, err := azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.KindCredential, "providers", "azure identity")
	}
	return ident, subscription, nil
}

func verifyAzure(ctx context.Context, cred *credentials.Decrypted) error {
	ident, _, err := azureCredential(cred)
	if err != nil {
		return err
	}
	_, err = ident.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	return err
}

type azureResourceAdapter struct{}

func (a *azureResourceAdapter) Provider() string { return ProviderAzure }
func (a *azureResourceAdapter) DataType() string { return timeseries.DataTypeResource }

// Collect pages every VM in the subscription.
func (a *azureResourceAdapter) Collect(ctx context.Context, req Request) (*Result, error) {
	ident, subscription, err := azureCredential(req.Credential)
	if err != nil {
		return nil, err
	}
	client, err := armcompute.NewVirtualMachinesClient(subscription, ident, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindCredential, "providers", "azure compute client")
	}

	res := &Result{Batch: timeseries.Batch{DataType: timeseries.DataTypeResource}}
	now := time.Now().UTC()

	pager := client.NewListAllPager(nil)
	for pager.More() {
		page, perr := pager.NextPage(ctx)
		if perr != nil {
			return nil, apperrors.Wrap(perr, apperrors.KindTransient, "providers", "azure vm list")
		}
		for _, vm := range page.Value {
			if vm.ID == nil {
				continue
			}
			size := ""
			if vm.Properties != nil && vm.Properties.HardwareProfile != nil && vm.Properties.HardwareProfile.VMSize != nil {
				size = string(*vm.Properties.HardwareProfile.VMSize)
			}
			res.Batch.Resource = append(res.Batch.Resource, timeseries.ResourceRow{
				Timestamp:    now,
				CustomerID:   req.Credential.CustomerID,
				Provider:     ProviderAzure,
				ResourceID:   *vm.ID,
				ResourceType: size,
				MetricName:   "instance_running",
				MetricValue:  1,
			})
		}
	}
	return res, nil
}
