package lock

import (
	"context"
	"testing"
)

// A nil *redis.Client degrades every Locker method to a no-op that always
// grants the lock, so without Redis there is no tick exclusion at all,
// in-process or cross-instance.
func TestLockerWithNilClientAlwaysGrants(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	acquired, err := l.AcquireTick(ctx, "acct-1")
	if err != nil {
		t.Fatalf("AcquireTick returned error: %v", err)
	}
	if !acquired {
		t.Error("expected AcquireTick to grant the lock with a nil client")
	}

	// A second acquire for the same account must also succeed — there's no
	// shared state to contend over without Redis.
	acquired, err = l.AcquireTick(ctx, "acct-1")
	if err != nil {
		t.Fatalf("second AcquireTick returned error: %v", err)
	}
	if !acquired {
		t.Error("expected second AcquireTick to also grant the lock with a nil client")
	}

	l.ReleaseTick(ctx, "acct-1") // must not panic
}

func TestLockerSeenDeliveryWithNilClientNeverDuplicates(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	seen, err := l.SeenDelivery(ctx, "provider", "delivery-1")
	if err != nil {
		t.Fatalf("SeenDelivery returned error: %v", err)
	}
	if seen {
		t.Error("expected first SeenDelivery to report not-yet-seen")
	}

	seen, err = l.SeenDelivery(ctx, "provider", "delivery-1")
	if err != nil {
		t.Fatalf("second SeenDelivery returned error: %v", err)
	}
	if seen {
		t.Error("expected nil-client SeenDelivery to never report a duplicate")
	}
}
