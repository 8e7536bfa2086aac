package providers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

func TestRegistryCoversEveryProviderDataType(t *testing.T) {
	r := NewRegistry()

	providers := r.Providers()
	assert.Contains(t, providers, ProviderDemo)
	assert.Contains(t, providers, ProviderAWS)
	assert.Contains(t, providers, ProviderVultr)
	assert.Contains(t, providers, ProviderRunPod)

	for _, provider := range providers {
		for _, dt := range r.DataTypes(provider) {
			adapter, err := r.Get(provider, dt)
			require.NoError(t, err)
			assert.Equal(t, provider, adapter.Provider())
			assert.Equal(t, dt, adapter.DataType())
		}
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("oracle", timeseries.DataTypeCost)
	assert.Error(t, err)
	_, err = r.Get(ProviderDemo, "weather")
	assert.Error(t, err)
}

func TestDemoAdapterIsDeterministic(t *testing.T) {
	r := NewRegistry()
	adapter, err := r.Get(ProviderDemo, timeseries.DataTypeCost)
	require.NoError(t, err)

	until := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	req := Request{
		Credential: &credentials.Decrypted{
			CustomerID: uuid.MustParse("a71f84a4-33cc-44a6-9a9e-0e1d2c3b4a59"),
			Provider:   ProviderDemo,
		},
		Since: until.Add(-2 * time.Hour),
		Until: until,
	}

	first, err := adapter.Collect(context.Background(), req)
	require.NoError(t, err)
	second, err := adapter.Collect(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Partial)
	// 3 resources x 3 hourly buckets.
	assert.Len(t, first.Batch.Cost, 9)
	assert.Equal(t, first.Batch.Cost, second.Batch.Cost)
	for _, row := range first.Batch.Cost {
		assert.Equal(t, req.Credential.CustomerID, row.CustomerID)
		assert.Equal(t, ProviderDemo, row.Provider)
		assert.Positive(t, row.Amount)
		assert.False(t, row.Timestamp.Before(req.Since.Truncate(time.Hour)))
		assert.False(t, row.Timestamp.After(req.Until))
	}
}

func TestDemoVerifyAlwaysPasses(t *testing.T) {
	r := NewRegistry()
	err := r.Verify(context.Background(), &credentials.Decrypted{Provider: ProviderDemo})
	assert.NoError(t, err)
}

func TestCapabilityFor(t *testing.T) {
	assert.Equal(t, CapCollectCost, CapabilityFor(timeseries.DataTypeCost))
	assert.Equal(t, CapCollectApplication, CapabilityFor(timeseries.DataTypeApplication))
}
