package plans

import (
	"fmt"
	"strings"
	"sync"
)

// Name is a plan identifier
type Name string

const (
	Free       Name = "free"
	Pro        Name = "pro"
	Team       Name = "team"
	Enterprise Name = "enterprise"
)

// DefaultCheckoutPlan is applied when a checkout carries no usable plan metadata
const DefaultCheckoutPlan = Pro

// ParseName parses a plan name. Unknown names are rejected.
func ParseName(raw string) (Name, bool) {
	switch n := Name(strings.ToLower(strings.TrimSpace(raw))); n {
	case Free, Pro, Team, Enterprise:
		return n, true
	default:
		return "", false
	}
}

// Limits are the per-plan caps. A nil field means unlimited.
type Limits struct {
	DocumentLimit      *int64 `yaml:"document_limit" json:"document_limit"`
	StorageLimitMB     *int64 `yaml:"storage_limit_mb" json:"storage_limit_mb"`
	MonthlyAICallLimit *int64 `yaml:"monthly_ai_call_limit" json:"monthly_ai_call_limit"`
	SeatLimit          *int64 `yaml:"seat_limit" json:"seat_limit"`
}

// Entitlement is the plan together with the limits denormalized onto a
// subscription record. It is only ever built from a Table so the plan and its
// limits cannot drift apart.
type Entitlement struct {
	Plan          Name
	SeatLimit     *int64
	DocumentLimit *int64
}

// Limit returns a pointer to n, for building Limits literals
func Limit(n int64) *int64 {
	return &n
}

func defaultPlans() map[Name]Limits {
	return map[Name]Limits{
		Free: {
			DocumentLimit:      Limit(25),
			StorageLimitMB:     Limit(100),
			MonthlyAICallLimit: Limit(20),
			SeatLimit:          Limit(1),
		},
		Pro: {
			DocumentLimit:      Limit(1000),
			StorageLimitMB:     Limit(5120),
			MonthlyAICallLimit: Limit(500),
			SeatLimit:          Limit(1),
		},
		Team: {
			StorageLimitMB:     Limit(51200),
			MonthlyAICallLimit: Limit(5000),
			SeatLimit:          Limit(10),
		},
		Enterprise: {},
	}
}

// Table maps plan names to limits and price ids to plan names.
// It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	plans  map[Name]Limits
	prices map[string]Name
}

// DefaultTable returns the built-in plan table with no price bindings
func DefaultTable() *Table {
	return &Table{
		plans:  defaultPlans(),
		prices: make(map[string]Name),
	}
}

// NewTable builds a table from explicit plans and price bindings.
// Plans missing from the map fall back to the built-in defaults.
func NewTable(plans map[Name]Limits, prices map[string]Name) *Table {
	t := DefaultTable()
	for name, limits := range plans {
		t.plans[name] = limits.clone()
	}
	for price, name := range prices {
		t.prices[price] = name
	}
	return t
}

// Limits returns the limits of a plan
func (t *Table) Limits(name Name) (Limits, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	l, ok := t.plans[name]
	if !ok {
		return Limits{}, false
	}
	return l.clone(), true
}

// Entitlement derives the record-level limits for a plan.
// Unknown plans fall back to free.
func (t *Table) Entitlement(name Name) Entitlement {
	limits, ok := t.Limits(name)
	if !ok {
		name = Free
		limits, _ = t.Limits(Free)
	}
	return Entitlement{
		Plan:          name,
		SeatLimit:     limits.SeatLimit,
		DocumentLimit: limits.DocumentLimit,
	}
}

// PlanForPrice maps a provider price id to a plan
func (t *Table) PlanForPrice(priceID string) (Name, bool) {
	if priceID == "" {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	name, ok := t.prices[priceID]
	return name, ok
}

// BindPrice adds or replaces a price binding
func (t *Table) BindPrice(priceID string, name Name) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[priceID] = name
}

// Replace swaps this table's contents with other's
func (t *Table) Replace(other *Table) {
	other.mu.RLock()
	plans := make(map[Name]Limits, len(other.plans))
	for k, v := range other.plans {
		plans[k] = v.clone()
	}
	prices := make(map[string]Name, len(other.prices))
	for k, v := range other.prices {
		prices[k] = v
	}
	other.mu.RUnlock()

	t.mu.Lock()
	t.plans = plans
	t.prices = prices
	t.mu.Unlock()
}

// Names returns the plans present in the table
func (t *Table) Names() []Name {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]Name, 0, len(t.plans))
	for _, n := range []Name{Free, Pro, Team, Enterprise} {
		if _, ok := t.plans[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

func (l Limits) clone() Limits {
	return Limits{
		DocumentLimit:      clonePtr(l.DocumentLimit),
		StorageLimitMB:     clonePtr(l.StorageLimitMB),
		MonthlyAICallLimit: clonePtr(l.MonthlyAICallLimit),
		SeatLimit:          clonePtr(l.SeatLimit),
	}
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FormatLimit renders a limit for logs
func FormatLimit(p *int64) string {
	if p == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *p)
}
