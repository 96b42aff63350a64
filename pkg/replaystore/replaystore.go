// Package replaystore implements the webhook-replay rule's storage contract
// (spec §4.5, §5): check_and_store(provider, event_id, ttl_seconds) -> bool
// (true means the event was already seen). Backends must make the
// check-and-set atomic against concurrent callers sharing a key.
//
// Named replaystore, not replay, to avoid colliding with the teacher's
// pkg/replay receipt-chain package — a different domain entirely (causal
// hash-chain verification of execution receipts, not idempotency).
package replaystore

import "context"

// Store is the replay-protection contract every backend implements.
type Store interface {
	// CheckAndStore atomically records (provider, eventID) if absent and
	// reports whether it was already present (a replay). ttlSeconds bounds
	// how long the key is remembered.
	CheckAndStore(ctx context.Context, provider, eventID string, ttlSeconds int) (replayed bool, err error)
}
