package transform

import (
	"context"
	"fmt"

	"github.com/hookpipe/hookpipe/internal/entity"
)

// UnmappedPolicy controls what a lookup returns for an unknown code.
type UnmappedPolicy string

// Unmapped-code policies.
const (
	// UnmappedPassthrough returns the code itself.
	UnmappedPassthrough UnmappedPolicy = "passthrough"

	// UnmappedFail makes the lookup (and the transformation) fail.
	UnmappedFail UnmappedPolicy = "fail"

	// UnmappedDefault returns the table's configured default value.
	UnmappedDefault UnmappedPolicy = "default"
)

// LookupTable is a tenant-scoped code mapping table, addressable from both
// declarative mappings and sandboxed scripts.
type LookupTable struct {
	entity.Entity

	// TenantID scopes the table. Lookups never cross tenants.
	TenantID string `json:"tenant_id"`

	// Name identifies the table within the tenant.
	Name string `json:"name"`

	// Entries maps source codes to mapped values.
	Entries map[string]string `json:"entries"`

	// OnUnmapped is the policy for codes absent from Entries.
	OnUnmapped UnmappedPolicy `json:"on_unmapped"`

	// DefaultValue is returned for unknown codes under UnmappedDefault.
	DefaultValue string `json:"default_value,omitempty"`
}

// Resolve maps a code through the table, applying the unmapped policy.
func (t *LookupTable) Resolve(code string) (string, error) {
	if mapped, ok := t.Entries[code]; ok {
		return mapped, nil
	}

	switch t.OnUnmapped {
	case UnmappedPassthrough, "":
		return code, nil
	case UnmappedDefault:
		return t.DefaultValue, nil
	case UnmappedFail:
		return "", fmt.Errorf("lookup table %q: unmapped code %q", t.Name, code)
	default:
		return "", fmt.Errorf("lookup table %q: unknown policy %q", t.Name, t.OnUnmapped)
	}
}

// LookupStore defines the persistence contract for lookup tables.
type LookupStore interface {
	// UpsertLookupTable creates or replaces a table (keyed by tenant+name).
	UpsertLookupTable(ctx context.Context, table *LookupTable) error

	// GetLookupTable returns a table by tenant and name.
	GetLookupTable(ctx context.Context, tenantID, name string) (*LookupTable, error)

	// DeleteLookupTable removes a table.
	DeleteLookupTable(ctx context.Context, tenantID, name string) error
}
