// Package billing turns billing provider webhooks into plan changes.
//
// A Provider (Lemon Squeezy or Paddle) verifies and maps each webhook onto
// a SubscriptionEvent. Service claims the event key in a Deduper and records
// one PlanChange in the outbox. The relay hands the record to Reconciler,
// which updates the profile plan and then the identity provider metadata,
// retrying until both succeed.
package billing
