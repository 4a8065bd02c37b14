package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
)

// TenantDirectory implements impersonation.TenantDirectory on SQLite.
// Read-mostly: tenant CRUD belongs to the dashboard backend; Upsert and
// Remove exist for provisioning and tests.
type TenantDirectory struct {
	db *sql.DB
}

// Lookup returns the tenant by ID.
func (d *TenantDirectory) Lookup(ctx context.Context, tenantID string) (*impersonation.Tenant, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, subdomain, token, disabled FROM tenants WHERE id = ?`, tenantID)

	var t impersonation.Tenant
	var disabled int
	err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &t.Token, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, impersonation.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	t.Disabled = disabled != 0
	return &t, nil
}

// Upsert adds or replaces a tenant.
func (d *TenantDirectory) Upsert(ctx context.Context, t *impersonation.Tenant) error {
	disabled := 0
	if t.Disabled {
		disabled = 1
	}
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, subdomain, token, disabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			subdomain = excluded.subdomain,
			token = excluded.token,
			disabled = excluded.disabled`,
		t.ID, t.Name, t.Subdomain, t.Token, disabled); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// Remove deletes a tenant.
func (d *TenantDirectory) Remove(ctx context.Context, tenantID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, tenantID); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ impersonation.TenantDirectory = (*TenantDirectory)(nil)
