package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/billsync/pkg/scope"
)

// Outcome tags a quota decision
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFault    Outcome = "fault"
)

// ErrStoreUnavailable is the fault cause when no store is configured
var ErrStoreUnavailable = errors.New("quota store unavailable")

// Result is the outcome of a quota check or consumption
type Result struct {
	Outcome Outcome
	// Calls is the counter after consumption when allowed, or the current
	// counter when rejected. It is zero for unlimited and faulted results.
	Calls int64
	// Limit is nil when unlimited
	Limit     *int64
	Unlimited bool
	Reason    string
	Cause     error
}

// Allowed builds an allowed result
func Allowed(calls int64, limit *int64) Result {
	return Result{Outcome: OutcomeAllowed, Calls: calls, Limit: limit}
}

// Unlimited builds the result of an unlimited bypass
func Unlimited() Result {
	return Result{Outcome: OutcomeAllowed, Unlimited: true}
}

// Rejected builds a rejection
func Rejected(current int64, limit int64, reason string) Result {
	return Result{Outcome: OutcomeRejected, Calls: current, Limit: &limit, Reason: reason}
}

// Fault builds a store-failure result
func Fault(cause error) Result {
	return Result{Outcome: OutcomeFault, Cause: cause}
}

// Permitted reports whether the caller may proceed. Faults are permitted.
func (r Result) Permitted() bool {
	return r.Outcome != OutcomeRejected
}

// Err returns an *ExceededError for rejections and nil otherwise
func (r Result) Err() error {
	if r.Outcome != OutcomeRejected {
		return nil
	}
	var limit int64
	if r.Limit != nil {
		limit = *r.Limit
	}
	return &ExceededError{Reason: r.Reason, Current: r.Calls, Limit: limit}
}

// ExceededError is the user-facing quota rejection
type ExceededError struct {
	Reason  string
	Current int64
	Limit   int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded, upgrade your plan: %s (%d/%d)", e.Reason, e.Current, e.Limit)
}

// IsExceeded reports whether err is a quota rejection
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

// MonthStart returns the first instant of t's month in UTC
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Store persists usage counters
type Store interface {
	// ConsumeIfUnderLimit adds count to the counter of (s, month) only when
	// the new total does not exceed limit. It returns whether the increment
	// happened and the counter value afterwards.
	ConsumeIfUnderLimit(ctx context.Context, s scope.Scope, month time.Time, limit, count int64) (bool, int64, error)

	// Current returns the counter of (s, month), zero when absent
	Current(ctx context.Context, s scope.Scope, month time.Time) (int64, error)

	// Name identifies the backend in logs and metrics
	Name() string
}
