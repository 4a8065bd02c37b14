package memory

import (
	"context"
	"sync"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
)

// TenantDirectory implements impersonation.TenantDirectory with an
// in-memory map. For development and testing; production uses the SQLite
// directory.
type TenantDirectory struct {
	mu      sync.RWMutex
	tenants map[string]*impersonation.Tenant
}

// NewTenantDirectory creates a directory seeded with the given tenants.
func NewTenantDirectory(tenants ...*impersonation.Tenant) *TenantDirectory {
	d := &TenantDirectory{tenants: make(map[string]*impersonation.Tenant)}
	for _, t := range tenants {
		cp := *t
		d.tenants[t.ID] = &cp
	}
	return d
}

// Lookup returns the tenant by ID.
func (d *TenantDirectory) Lookup(ctx context.Context, tenantID string) (*impersonation.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, impersonation.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// Upsert adds or replaces a tenant.
func (d *TenantDirectory) Upsert(t *impersonation.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *t
	d.tenants[t.ID] = &cp
}

// Remove deletes a tenant.
func (d *TenantDirectory) Remove(tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.tenants, tenantID)
}

// SetDisabled flips a tenant's disabled flag. No-op for unknown tenants.
func (d *TenantDirectory) SetDisabled(tenantID string, disabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tenants[tenantID]; ok {
		t.Disabled = disabled
	}
}

// Compile-time interface verification.
var _ impersonation.TenantDirectory = (*TenantDirectory)(nil)
