package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/async"
)

// BestEffortConfig configures a BestEffort sink
type BestEffortConfig struct {
	Retry RetryConfig

	// Async hands writes to a background worker pool instead of retrying
	// on the caller's goroutine
	Async     bool
	Workers   int
	QueueSize int
	Timeout   time.Duration

	// OnDrop is called when an entry is given up on
	OnDrop func(entry Entry, err error)
}

// BestEffort wraps a Sink so that writes never surface errors to the caller
type BestEffort struct {
	sink    Sink
	owners  OwnerLookup
	policy  *RetryPolicy
	logger  logrus.FieldLogger
	pool    *async.WorkerPool
	timeout time.Duration
	onDrop  func(Entry, error)
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBestEffort creates a best-effort sink. owners may be nil, in which case
// actors are never resolved.
func NewBestEffort(sink Sink, owners OwnerLookup, logger logrus.FieldLogger, config BestEffortConfig) *BestEffort {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	b := &BestEffort{
		sink:    sink,
		owners:  owners,
		policy:  NewRetryPolicy(config.Retry),
		logger:  logger.WithField("component", "audit"),
		timeout: config.Timeout,
		onDrop:  config.OnDrop,
		sleep:   sleepContext,
	}
	if config.Async {
		b.pool = async.NewWorkerPool(context.Background(), async.PoolOptions{
			Name:      "audit write",
			Workers:   config.Workers,
			QueueSize: config.QueueSize,
			Timeout:   config.Timeout,
		}, b.logger)
	}
	return b
}

// Record resolves the actor and writes the entry. It never returns an error.
func (b *BestEffort) Record(ctx context.Context, entry Entry) {
	if b == nil || b.sink == nil {
		return
	}

	if b.pool != nil {
		// detach from the request so the write outlives it
		err := b.pool.Submit(func(poolCtx context.Context) error {
			b.write(poolCtx, entry)
			return nil
		})
		if err != nil {
			b.drop(entry, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	b.write(ctx, entry)
}

// Close drains pending async writes
func (b *BestEffort) Close(timeout time.Duration) error {
	if b == nil || b.pool == nil {
		return nil
	}
	return b.pool.Shutdown(timeout)
}

func (b *BestEffort) write(ctx context.Context, entry Entry) {
	b.resolveActor(ctx, &entry)

	var err error
	for attempt := 1; ; attempt++ {
		e := entry
		if err = b.sink.Write(ctx, &e); err == nil {
			return
		}
		if !b.policy.ShouldRetry(attempt, err) {
			break
		}
		if sleepErr := b.sleep(ctx, b.policy.NextRetryDelay(attempt)); sleepErr != nil {
			err = errors.Join(err, sleepErr)
			break
		}
	}
	b.drop(entry, err)
}

func (b *BestEffort) resolveActor(ctx context.Context, entry *Entry) {
	if entry.ActorUserID != "" || entry.OrganizationID == "" || b.owners == nil {
		return
	}
	owner, err := b.owners.OwnerOf(ctx, entry.OrganizationID)
	if err != nil {
		b.logger.WithError(err).WithField("organization_id", entry.OrganizationID).
			Debug("Could not resolve organization owner for audit entry")
		return
	}
	entry.ActorUserID = owner
}

func (b *BestEffort) drop(entry Entry, err error) {
	b.logger.WithError(err).WithFields(logrus.Fields{
		"action":          entry.Action,
		"organization_id": entry.OrganizationID,
		"actor_user_id":   entry.ActorUserID,
	}).Warn("Dropping audit entry")
	if b.onDrop != nil {
		b.onDrop(entry, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
