package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// CredentialRow is one row of cloud_credentials. The payload is stored
// encrypted; decryption happens in the credentials service, never here.
type CredentialRow struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	CustomerID       uuid.UUID  `db:"customer_id" json:"customer_id"`
	Provider         string     `db:"provider" json:"provider"`
	CredentialName   string     `db:"credential_name" json:"credential_name"`
	EncryptedPayload string     `db:"encrypted_payload" json:"-"`
	Metadata         JSONMap    `db:"metadata" json:"metadata"`
	IsVerified       bool       `db:"is_verified" json:"is_verified"`
	Version          int        `db:"version" json:"version"`
	Enabled          bool       `db:"enabled" json:"enabled"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// InsertCredential stores a new encrypted credential at version 1.
func (s *Store) InsertCredential(ctx context.Context, row *CredentialRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cloud_credentials
			(id, customer_id, provider, credential_name, encrypted_payload, metadata, is_verified, version, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, true)`,
		row.ID, row.CustomerID, row.Provider, row.CredentialName,
		row.EncryptedPayload, row.Metadata, row.IsVerified)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// UpdateCredentialPayload replaces the encrypted payload and metadata,
// bumping the version and resetting verification.
func (s *Store) UpdateCredentialPayload(ctx context.Context, id uuid.UUID, encrypted string, metadata JSONMap) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cloud_credentials
		SET encrypted_payload = $2, metadata = $3, version = version + 1,
		    is_verified = false, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, encrypted, metadata)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational", "credential %s not found", id)
	}
	return nil
}

// SetCredentialVerified flips the verification flag after a probe result.
func (s *Store) SetCredentialVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cloud_credentials SET is_verified = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, verified)
	if err != nil {
		return fmt.Errorf("set credential verified: %w", err)
	}
	return nil
}

// SoftDeleteCredential stamps deleted_at and disables the credential.
func (s *Store) SoftDeleteCredential(ctx context.Context, customerID uuid.UUID, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cloud_credentials
		SET deleted_at = now(), enabled = false, updated_at = now()
		WHERE customer_id = $1 AND provider = $2 AND deleted_at IS NULL`,
		customerID, provider)
	if err != nil {
		return fmt.Errorf("soft delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational",
			"no credential for customer %s provider %s", customerID, provider)
	}
	return nil
}

// GetCredential loads one live credential by id.
func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (*CredentialRow, error) {
	var row CredentialRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM cloud_credentials WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "credential %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &row, nil
}

// GetCredentialByProvider loads the live credential for one
// (customer, provider) pair.
func (s *Store) GetCredentialByProvider(ctx context.Context, customerID uuid.UUID, provider string) (*CredentialRow, error) {
	var row CredentialRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM cloud_credentials
		WHERE customer_id = $1 AND provider = $2 AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`, customerID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational",
			"no credential for customer %s provider %s", customerID, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential by provider: %w", err)
	}
	return &row, nil
}

// ListCredentialsByCustomer returns all live credentials for a customer.
func (s *Store) ListCredentialsByCustomer(ctx context.Context, customerID uuid.UUID) ([]CredentialRow, error) {
	var rows []CredentialRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM cloud_credentials
		WHERE customer_id = $1 AND deleted_at IS NULL
		ORDER BY provider, credential_name`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return rows, nil
}

// ListEnabledCredentials returns every live, enabled credential across
// customers. The scheduler enumerates collection tuples from this set.
func (s *Store) ListEnabledCredentials(ctx context.Context) ([]CredentialRow, error) {
	var rows []CredentialRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM cloud_credentials
		WHERE enabled AND deleted_at IS NULL
		ORDER BY customer_id, provider`)
	if err != nil {
		return nil, fmt.Errorf("list enabled credentials: %w", err)
	}
	return rows, nil
}
