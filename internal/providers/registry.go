package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/credentials"
)

// VerifyFunc probes a provider with a decrypted credential.
type VerifyFunc func(ctx context.Context, cred *credentials.Decrypted) error

// Registry maps (provider, data type) to its adapter. It is seeded once
// at build time; there is no dynamic plugin discovery.
type Registry struct {
	adapters  map[string]Adapter
	verifiers map[string]VerifyFunc
}

// NewRegistry seeds the registry with every built-in adapter.
func NewRegistry() *Registry {
	r := &Registry{
		adapters:  make(map[string]Adapter),
		verifiers: make(map[string]VerifyFunc),
	}

	httpc := newHTTPClient()

	r.add(newDemoAdapters()...)
	r.verifiers[ProviderDemo] = func(context.Context, *credentials.Decrypted) error { return nil }

	r.add(newAWSAdapters()...)
	r.verifiers[ProviderAWS] = verifyAWS

	r.add(newGCPAdapters()...)
	r.verifiers[ProviderGCP] = verifyGCP

	r.add(newAzureAdapters()...)
	r.verifiers[ProviderAzure] = verifyAzure

	r.add(newDigitalOceanAdapters()...)
	r.verifiers[ProviderDigitalOcean] = verifyDigitalOcean

	r.add(newVultrAdapters(httpc)...)
	r.verifiers[ProviderVultr] = func(ctx context.Context, cred *credentials.Decrypted) error {
		return verifyVultr(ctx, httpc, cred)
	}

	r.add(newRunPodAdapters(httpc)...)
	r.verifiers[ProviderRunPod] = func(ctx context.Context, cred *credentials.Decrypted) error {
		return verifyRunPod(ctx, httpc, cred)
	}

	return r
}

func (r *Registry) add(adapters ...Adapter) {
	for _, a := range adapters {
		r.adapters[key(a.Provider(), a.DataType())] = a
	}
}

func key(provider, dataType string) string {
	return provider + "/" + dataType
}

// Get returns the adapter for one (provider, data type).
func (r *Registry) Get(provider, dataType string) (Adapter, error) {
	a, ok := r.adapters[key(provider, dataType)]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "providers",
			"no adapter for provider %q data type %q", provider, dataType)
	}
	return a, nil
}

// DataTypes lists the data types the provider can collect, sorted.
func (r *Registry) DataTypes(provider string) []string {
	var out []string
	for _, a := range r.adapters {
		if a.Provider() == provider {
			out = append(out, a.DataType())
		}
	}
	sort.Strings(out)
	return out
}

// Providers lists every registered provider, sorted.
func (r *Registry) Providers() []string {
	seen := make(map[string]struct{})
	for _, a := range r.adapters {
		seen[a.Provider()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Verify implements credentials.Verifier by probing the provider.
func (r *Registry) Verify(ctx context.Context, cred *credentials.Decrypted) error {
	verify, ok := r.verifiers[cred.Provider]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "providers",
			"unknown provider %q", cred.Provider)
	}
	if err := verify(ctx, cred); err != nil {
		return apperrors.Wrap(err, apperrors.KindCredential, "providers",
			fmt.Sprintf("%s verification probe failed", cred.Provider))
	}
	return nil
}
