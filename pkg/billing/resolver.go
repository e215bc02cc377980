package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/billsync/pkg/scope"
)

// CustomerLookup finds the scopes whose stored provider customer id matches
type CustomerLookup interface {
	FindByCustomer(ctx context.Context, customerID string) ([]scope.Scope, error)
}

// Resolver maps an event onto the personal account or organization it
// applies to
type Resolver struct {
	customers CustomerLookup
}

// NewResolver creates a resolver. customers may be nil, which disables the
// customer id fallback.
func NewResolver(customers CustomerLookup) *Resolver {
	return &Resolver{customers: customers}
}

// ScopeFromMetadata reads an explicit scope from event metadata.
// organization_id takes precedence over user_id.
func ScopeFromMetadata(metadata map[string]string) (scope.Scope, bool) {
	if id := strings.TrimSpace(metadata[MetadataOrganizationID]); id != "" {
		return scope.Organization(id), true
	}
	if id := strings.TrimSpace(metadata[MetadataUserID]); id != "" {
		return scope.Personal(id), true
	}
	return scope.Scope{}, false
}

// Resolve returns the primary scope of an event
func (r *Resolver) Resolve(ctx context.Context, metadata map[string]string, customerID string) (scope.Scope, error) {
	scopes, err := r.ResolveAll(ctx, metadata, customerID)
	if err != nil {
		return scope.Scope{}, err
	}
	return scopes[0], nil
}

// ResolveAll returns every scope an event applies to. Metadata yields exactly
// one scope. Otherwise every record carrying the customer id matches,
// organizations first. Lookup failures are retryable; no match is
// ErrScopeUnresolvable.
func (r *Resolver) ResolveAll(ctx context.Context, metadata map[string]string, customerID string) ([]scope.Scope, error) {
	if s, ok := ScopeFromMetadata(metadata); ok {
		return []scope.Scope{s}, nil
	}

	customerID = strings.TrimSpace(customerID)
	if customerID == "" || r == nil || r.customers == nil {
		return nil, fmt.Errorf("%w: no metadata and no customer reference", ErrScopeUnresolvable)
	}

	scopes, err := r.customers.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, retryable("resolve customer", err)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: customer %s", ErrScopeUnresolvable, customerID)
	}
	return scopes, nil
}
