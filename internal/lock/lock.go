// Package lock provides Redis-backed mutual exclusion and delivery dedup
// for the sync engine and the webhook listener, in the teacher's own
// SETNX+TTL style.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TickLockTTL bounds how long a per-account tick may hold its lock
	// before a crashed worker's lock is reclaimed by the next tick.
	TickLockTTL = 2 * time.Minute

	// IdempotencyTTL is how long a webhook delivery id is remembered, long
	// enough to absorb the provider's own retry window.
	IdempotencyTTL = 5 * time.Minute
)

// Locker acquires/releases the per-account tick lock and checks webhook
// delivery idempotency. A nil *redis.Client degrades every method to a
// no-op that always grants the lock and never reports a duplicate, so
// without Redis there is no tick exclusion and no delivery dedup.
type Locker struct {
	client *redis.Client
}

func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

func tickLockKey(accountID string) string {
	return fmt.Sprintf("mailsync:synclock:%s", accountID)
}

func idempotencyKey(provider, deliveryID string) string {
	return fmt.Sprintf("mailsync:webhook:idempotent:%s:%s", provider, deliveryID)
}

// AcquireTick tries to take accountID's tick lock, returning false if
// another tick already holds it.
func (l *Locker) AcquireTick(ctx context.Context, accountID string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, tickLockKey(accountID), "1", TickLockTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseTick drops accountID's tick lock early, once the tick has
// finished, instead of waiting out TickLockTTL.
func (l *Locker) ReleaseTick(ctx context.Context, accountID string) {
	if l.client == nil {
		return
	}
	l.client.Del(ctx, tickLockKey(accountID))
}

// SeenDelivery reports whether (provider, deliveryID) was already recorded
// within IdempotencyTTL, recording it as seen if not.
func (l *Locker) SeenDelivery(ctx context.Context, provider, deliveryID string) (bool, error) {
	if l.client == nil {
		return false, nil
	}
	ok, err := l.client.SetNX(ctx, idempotencyKey(provider, deliveryID), "1", IdempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
