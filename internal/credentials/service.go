package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/cache"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// DemoProvider verifies and collects without any network access.
// Demo-mode is first-class: credential metadata {"demo": true} opts any
// provider into it.
const DemoProvider = "demo"

// Decrypted is a credential with its payload opened. It exists only in
// the scheduler's memory and is never serialized.
type Decrypted struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Provider   string
	Name       string
	Payload    map[string]string
	Metadata   relational.JSONMap
	IsVerified bool
}

// Demo reports whether this credential runs in demo mode.
func (d *Decrypted) Demo() bool {
	if d.Provider == DemoProvider {
		return true
	}
	v, ok := d.Metadata["demo"].(bool)
	return ok && v
}

// Endpoint returns a metadata endpoint override (e.g. a customer's
// prometheus URL), empty when unset.
func (d *Decrypted) Endpoint(key string) string {
	v, _ := d.Metadata[key].(string)
	return v
}

// MetricName maps a provider-specific metric name to the canonical one
// using the metadata metric_names table; unmapped names pass through.
func (d *Decrypted) MetricName(providerName string) string {
	mapping, ok := d.Metadata["metric_names"].(map[string]interface{})
	if !ok {
		return providerName
	}
	if canonical, ok := mapping[providerName].(string); ok && canonical != "" {
		return canonical
	}
	return providerName
}

// Verifier probes a provider with a decrypted credential. The adapter
// registry implements it.
type Verifier interface {
	Verify(ctx context.Context, cred *Decrypted) error
}

// Service is the credential store: encrypted CRUD, verification probes,
// and a short-TTL decrypted cache with invalidation on write.
type Service struct {
	store    *relational.Store
	enc      *Encryptor
	cache    *cache.TTL
	verifier Verifier
	rec      *events.Recorder
	log      logger.Logger
}

// NewService wires the credential store.
func NewService(store *relational.Store, enc *Encryptor, verifier Verifier, rec *events.Recorder, cacheTTL time.Duration) *Service {
	return &Service{
		store:    store,
		enc:      enc,
		cache:    cache.NewTTL("credentials", cacheTTL, 1024),
		verifier: verifier,
		rec:      rec,
		log:      logger.New("credentials"),
	}
}

// CreateRequest carries a new credential.
type CreateRequest struct {
	CustomerID uuid.UUID          `json:"customer_id"`
	Provider   string             `json:"provider"`
	Name       string             `json:"credential_name"`
	Payload    map[string]string  `json:"payload"`
	Metadata   relational.JSONMap `json:"metadata"`
}

// Create encrypts and stores the credential, then runs the verification
// probe. A failed probe still stores the credential, unverified.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*relational.CredentialRow, error) {
	if req.Provider == "" || len(req.Payload) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "credentials", "provider and payload are required")
	}
	if req.Name == "" {
		req.Name = "default"
	}
	if req.Metadata == nil {
		req.Metadata = relational.JSONMap{}
	}

	encrypted, err := s.encryptPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	row := &relational.CredentialRow{
		ID:               uuid.New(),
		CustomerID:       req.CustomerID,
		Provider:         req.Provider,
		CredentialName:   req.Name,
		EncryptedPayload: encrypted,
		Metadata:         req.Metadata,
	}
	if err := s.store.InsertCredential(ctx, row); err != nil {
		return nil, err
	}

	s.rec.Publish(events.New(events.CredentialCreated, "credentials", map[string]interface{}{
		"provider": req.Provider,
	}).ForCustomer(req.CustomerID))

	dec := &Decrypted{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Provider:   row.Provider,
		Name:       row.CredentialName,
		Payload:    req.Payload,
		Metadata:   row.Metadata,
	}
	row.IsVerified = s.probe(ctx, dec)
	return row, nil
}

// Update replaces the payload and metadata, bumps the version, and
// re-verifies.
func (s *Service) Update(ctx context.Context, id uuid.UUID, payload map[string]string, metadata relational.JSONMap) error {
	encrypted, err := s.encryptPayload(payload)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = relational.JSONMap{}
	}
	if err := s.store.UpdateCredentialPayload(ctx, id, encrypted, metadata); err != nil {
		return err
	}
	s.cache.Delete(id.String())

	row, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	dec := &Decrypted{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Provider:   row.Provider,
		Name:       row.CredentialName,
		Payload:    payload,
		Metadata:   metadata,
	}
	s.probe(ctx, dec)
	return nil
}

// Delete soft-deletes the customer's credential for a provider.
func (s *Service) Delete(ctx context.Context, customerID uuid.UUID, provider string) error {
	row, err := s.store.GetCredentialByProvider(ctx, customerID, provider)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteCredential(ctx, customerID, provider); err != nil {
		return err
	}
	s.cache.Delete(row.ID.String())
	s.rec.Publish(events.New(events.CredentialDeleted, "credentials", map[string]interface{}{
		"provider": provider,
	}).ForCustomer(customerID))
	return nil
}

// ListByCustomer returns the customer's credential rows, payloads sealed.
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]relational.CredentialRow, error) {
	return s.store.ListCredentialsByCustomer(ctx, customerID)
}

// GetRow returns the sealed row for one (customer, provider).
func (s *Service) GetRow(ctx context.Context, customerID uuid.UUID, provider string) (*relational.CredentialRow, error) {
	return s.store.GetCredentialByProvider(ctx, customerID, provider)
}

// ListEnabled enumerates every enabled credential for the scheduler.
func (s *Service) ListEnabled(ctx context.Context) ([]relational.CredentialRow, error) {
	return s.store.ListEnabledCredentials(ctx)
}

// Fetch returns the decrypted credential, read through the TTL cache.
func (s *Service) Fetch(ctx context.Context, id uuid.UUID) (*Decrypted, error) {
	if v, ok := s.cache.Get(id.String()); ok {
		return v.(*Decrypted), nil
	}

	row, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	dec, err := s.open(row)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id.String(), dec)
	return dec, nil
}

// FetchByProvider returns the decrypted credential for one
// (customer, provider).
func (s *Service) FetchByProvider(ctx context.Context, customerID uuid.UUID, provider string) (*Decrypted, error) {
	row, err := s.store.GetCredentialByProvider(ctx, customerID, provider)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, row.ID)
}

// MarkInvalid flips is_verified off after an auth refusal and raises the
// visible event. Collection for this credential stops until an operator
// intervenes.
func (s *Service) MarkInvalid(ctx context.Context, id uuid.UUID, cause error) {
	if err := s.store.SetCredentialVerified(ctx, id, false); err != nil {
		s.log.Error("mark credential invalid failed", logger.Error(err))
		return
	}
	s.cache.Delete(id.String())

	row, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return
	}
	s.rec.Record(ctx, events.New(events.CredentialInvalid, "credentials", map[string]interface{}{
		"provider": row.Provider,
		"cause":    cause.Error(),
	}).ForCustomer(row.CustomerID))
}

// probe verifies the credential against the provider and records the
// outcome. Demo credentials verify without a network round-trip.
func (s *Service) probe(ctx context.Context, dec *Decrypted) bool {
	var err error
	if !dec.Demo() && s.verifier != nil {
		err = s.verifier.Verify(ctx, dec)
	}
	verified := err == nil

	if serr := s.store.SetCredentialVerified(ctx, dec.ID, verified); serr != nil {
		s.log.Error("set credential verified failed", logger.Error(serr))
	}
	if verified {
		s.rec.Publish(events.New(events.CredentialVerified, "credentials", map[string]interface{}{
			"provider": dec.Provider,
		}).ForCustomer(dec.CustomerID))
	} else {
		s.log.Warn("credential verification failed",
			logger.String("provider", dec.Provider),
			logger.Error(err))
		s.rec.Record(ctx, events.New(events.CredentialInvalid, "credentials", map[string]interface{}{
			"provider": dec.Provider,
			"cause":    err.Error(),
		}).ForCustomer(dec.CustomerID))
	}
	return verified
}

func (s *Service) encryptPayload(payload map[string]string) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	encrypted, err := s.enc.Encrypt(plain)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInternal, "credentials", "encrypt payload")
	}
	return encrypted, nil
}

func (s *Service) open(row *relational.CredentialRow) (*Decrypted, error) {
	plain, err := s.enc.Decrypt(row.EncryptedPayload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "credentials", "decrypt payload")
	}
	payload := map[string]string{}
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &Decrypted{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Provider:   row.Provider,
		Name:       row.CredentialName,
		Payload:    payload,
		Metadata:   row.Metadata,
		IsVerified: row.IsVerified,
	}, nil
}
