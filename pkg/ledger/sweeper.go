package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/observability"
)

// Sweeper releases processing rows left behind by a crashed claimant so the
// provider's next redelivery can re-claim them
type Sweeper struct {
	ledger     Ledger
	staleAfter time.Duration
	timeout    time.Duration
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
}

// NewSweeper creates a sweeper releasing rows claimed more than staleAfter ago
func NewSweeper(ledger Ledger, staleAfter time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		ledger:     ledger,
		staleAfter: staleAfter,
		timeout:    time.Minute,
		logger:     logger.WithField("component", "ledger_sweeper"),
		metrics:    metrics,
	}
}

// RunOnce releases stale rows and returns how many were released
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.staleAfter <= 0 {
		return 0, fmt.Errorf("stale threshold must be positive, got %s", s.staleAfter)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.ledger.ReleaseStale(ctx, s.staleAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	s.metrics.RecordStaleReleased(n)
	if n > 0 {
		s.logger.WithField("released", n).Warn("Released stale processing claims")
	} else {
		s.logger.Debug("No stale processing claims")
	}
	return n, nil
}

// Schedule registers the sweep on c. Failures are logged and retried on the
// next tick.
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("Ledger sweep failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule ledger sweep %q: %w", spec, err)
	}
	return id, nil
}
