// Package outbox is a small transactional outbox.
//
// Producers call Enqueuer.Enqueue with a JSON-serialisable payload; the
// record is named after the payload's Go type and, with WithKey, inserted at
// most once per key. A Relay polls storage, leases due records and hands them
// to the Handler registered for that name:
//
//	relay, _ := outbox.NewRelay(store, outbox.FromConfig(cfg)...)
//	_ = relay.Register(outbox.NewHandler(func(ctx context.Context, p PlanChange) error {
//		return reconcile(ctx, p)
//	}))
//	g.Go(relay.Run(ctx))
//
// A failed attempt is rescheduled with exponential backoff. Once a record
// has used MaxAttempts it is moved to the dead-letter table, as is any record
// whose name has no registered handler.
//
// MemoryStorage serves tests and single-process development; PostgresStorage
// backs production deployments.
package outbox
