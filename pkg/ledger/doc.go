// Package ledger records every inbound billing event id and the state of its
// processing, so that redelivered events are applied at most once.
//
// # Claim / Finalize
//
// A delivery first claims the event id. Claiming inserts a row in the
// processing state; the unique id is the lock. When the id is already
// present the claim returns false and the caller acknowledges the delivery
// without doing any work.
//
//	claimed, err := l.Claim(ctx, evt.ID, evt.Type, evt.Livemode, snapshot)
//	if err != nil {
//		return err // storage failure, ask the sender to redeliver
//	}
//	if !claimed {
//		return nil // duplicate
//	}
//	defer l.Finalize(ctx, evt.ID, ledger.StatusProcessed, "")
//
// # Re-claiming
//
// processed and ignored rows are terminal. A failed row is claimable again by
// the next delivery of the same id so the failed mutation is retried. A
// processing row older than the reclaim window is also claimable; this
// recovers events whose processor crashed before finalizing. The sweeper
// (cmd/billsync-sweeper) moves such rows to failed on a schedule.
package ledger
