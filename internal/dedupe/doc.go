// Package dedupe remembers idempotency keys for a bounded window so the
// controller console relays a retried command at most once.
package dedupe
