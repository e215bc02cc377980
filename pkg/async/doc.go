// Package async runs background work on a bounded, panic-safe worker pool.
//
// Submit never blocks. A full queue returns ErrQueueFull so the caller can
// drop the work and count it, which is what the audit writer does:
//
//	pool := async.NewWorkerPool(ctx, async.PoolOptions{Name: "audit write", Workers: 2}, logger)
//	defer pool.Shutdown(10 * time.Second)
//
//	if err := pool.Submit(task); err != nil {
//		drop(entry, err)
//	}
package async
