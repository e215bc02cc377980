package subscriptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

// MemoryStore is an in-process Store for local runs and tests
type MemoryStore struct {
	mu      sync.RWMutex
	records map[scope.Scope]Record
	owners  map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[scope.Scope]Record),
		owners:  make(map[string]string),
		now:     time.Now,
	}
}

// SetOwner registers the owning user of an organization
func (m *MemoryStore) SetOwner(orgID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[orgID] = userID
}

// Get returns a copy of the stored record
func (m *MemoryStore) Get(_ context.Context, s scope.Scope) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[s]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Upsert creates or overwrites a record
func (m *MemoryStore) Upsert(_ context.Context, r *Record) error {
	if err := r.Scope.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := *r
	if prev, ok := m.records[r.Scope]; ok && next.BillingEmail == "" {
		next.BillingEmail = prev.BillingEmail
	}
	next.UpdatedAt = m.now()
	m.records[r.Scope] = next
	return nil
}

// ApplyPlan updates plan, limits, status and period end
func (m *MemoryStore) ApplyPlan(_ context.Context, s scope.Scope, u PlanUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[s]
	if !ok {
		return ErrNotFound
	}
	r.SetEntitlement(u.Entitlement)
	r.Status = u.Status
	r.CurrentPeriodEnd = u.CurrentPeriodEnd
	if u.SubscriptionID != "" {
		r.SubscriptionID = u.SubscriptionID
	}
	r.UpdatedAt = m.now()
	m.records[s] = r
	return nil
}

// Downgrade cancels the subscription of a scope
func (m *MemoryStore) Downgrade(_ context.Context, s scope.Scope, e plans.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[s]
	if !ok {
		return ErrNotFound
	}
	r.SetEntitlement(e)
	r.SubscriptionID = ""
	r.Status = StatusCanceled
	r.CurrentPeriodEnd = nil
	r.UpdatedAt = m.now()
	m.records[s] = r
	return nil
}

// SetStatusByCustomer updates status on every matching record
func (m *MemoryStore) SetStatusByCustomer(_ context.Context, customerID string, status Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, r := range m.records {
		if r.CustomerID != customerID {
			continue
		}
		r.Status = status
		r.UpdatedAt = m.now()
		m.records[k] = r
		n++
	}
	return n, nil
}

// FindByCustomer returns matching scopes, organizations first
func (m *MemoryStore) FindByCustomer(_ context.Context, customerID string) ([]scope.Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scopes []scope.Scope
	for k, r := range m.records {
		if r.CustomerID == customerID {
			scopes = append(scopes, k)
		}
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].Type != scopes[j].Type {
			return scopes[i].IsOrganization()
		}
		return scopes[i].ID < scopes[j].ID
	})
	return scopes, nil
}

// OwnerOf returns the registered owner of an organization
func (m *MemoryStore) OwnerOf(_ context.Context, orgID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[orgID]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}
