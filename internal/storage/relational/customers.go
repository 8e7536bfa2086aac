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

// Customer is one tenant record. Customers are created externally and
// never hard-deleted.
type Customer struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Status    string     `db:"status" json:"status"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CreateCustomer inserts a tenant row.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, status) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.Status)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// GetCustomer loads one live (not soft-deleted) customer.
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	var c Customer
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM customers WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "relational", "customer %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// ListCustomers returns all live customers.
func (s *Store) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM customers WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return out, nil
}

// SoftDeleteCustomer stamps deleted_at; the row stays for referential
// integrity.
func (s *Store) SoftDeleteCustomer(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "relational", "customer %s not found", id)
	}
	return nil
}
