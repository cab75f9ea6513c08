// Package in declares the interfaces the adapters call into — the driving
// side of the hexagon.
package in

import (
	"context"

	"mailsync/core/domain"
)

// SyncEngine (C4) drives the periodic and on-demand archival of one or more
// accounts' mailboxes. Start/Stop manage the background ticker; Tick,
// SyncOne, MarkDeleted, and Reset are also callable directly, e.g. from the
// listener's webhook handler or an operator endpoint, without waiting for
// the next scheduled tick.
type SyncEngine interface {
	// Start begins the background ticker goroutine, one tick right away and
	// then one per configured interval for every configured account. Start
	// returns once the
	// goroutine is running; it does not block for the ticker's lifetime.
	Start(ctx context.Context) error

	// Stop signals the ticker to exit and waits for any in-flight tick to
	// finish durably persisting before returning.
	Stop(ctx context.Context) error

	// Tick runs one full sync pass for accountID: opens a session, syncs
	// mailboxes then emails in batches, and advances the cursor only after
	// each batch is durably persisted. When the engine's Locker is backed
	// by Redis, Tick is mutually exclusive with itself and with Reset for
	// the same account; without Redis there is no such exclusion. Tick is
	// never exclusive with SyncOne or MarkDeleted.
	Tick(ctx context.Context, accountID string) error

	// SyncOne upserts a single email, identified by its provider id,
	// independent of the batch cursor — the webhook-driven fast path.
	SyncOne(ctx context.Context, accountID, remoteEmailID string) error

	// MarkDeleted soft-deletes (sets IsDeleted on) the local record of an
	// email the provider has deleted, identified by its provider id.
	MarkDeleted(ctx context.Context, accountID, remoteEmailID string) error

	// Reset clears accountID's cursor back to the beginning, or to
	// newState if non-nil, forcing the next tick to resync from there.
	// Reset excludes concurrent Tick for the same account through the same
	// Redis-backed lock, under the same condition as Tick.
	Reset(ctx context.Context, accountID string, newState *string) error

	// Status reports the current cursor for accountID.
	Status(ctx context.Context, accountID string) (*domain.SyncCursor, error)
}
