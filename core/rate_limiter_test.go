package core

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestRegisterBucketIsIdempotent(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	id := OutboundBucketID()

	if err := rl.RegisterBucket(ctx, id, uint256.NewInt(100), time.Hour, uint256.NewInt(100)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := rl.Consume(ctx, id, uint256.NewInt(30)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// Re-registering must not reset consumed capacity.
	if err := rl.RegisterBucket(ctx, id, uint256.NewInt(999), time.Hour, uint256.NewInt(999)); err != nil {
		t.Fatalf("second register: %v", err)
	}
	cap, err := rl.CapacityAt(ctx, id, ctx.now())
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if cap.Cmp(uint256.NewInt(70)) != 0 {
		t.Fatalf("capacity after idempotent re-register = %s, want 70", cap)
	}
}

func TestConsumeRejectsInsufficientCapacity(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	id := OutboundBucketID()
	must(t, rl.RegisterBucket(ctx, id, uint256.NewInt(10), time.Hour, uint256.NewInt(10)))

	if err := rl.Consume(ctx, id, uint256.NewInt(11)); err != ErrInsufficientCapacity {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestFillClampsAtRateLimit(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	id := OutboundBucketID()
	must(t, rl.RegisterBucket(ctx, id, uint256.NewInt(50), 0, uint256.NewInt(40)))

	must(t, rl.Fill(ctx, id, uint256.NewInt(1000)))
	cap, err := rl.CapacityAt(ctx, id, ctx.now())
	must(t, err)
	if cap.Cmp(uint256.NewInt(50)) != 0 {
		t.Fatalf("capacity after over-fill = %s, want clamp to 50", cap)
	}
}

func TestSetRateLimitPreservesConsumedAmountOnIncrease(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	id := OutboundBucketID()
	must(t, rl.RegisterBucket(ctx, id, uint256.NewInt(100), 0, uint256.NewInt(100)))
	must(t, rl.Consume(ctx, id, uint256.NewInt(60))) // capacity now 40, consumed 60

	must(t, rl.SetRateLimit(ctx, id, uint256.NewInt(200)))
	cap, err := rl.CapacityAt(ctx, id, ctx.now())
	must(t, err)
	// consumed amount (60) stays consumed: new capacity = 40 + (200-100) = 140
	if cap.Cmp(uint256.NewInt(140)) != 0 {
		t.Fatalf("capacity after limit increase = %s, want 140", cap)
	}
}

func TestSetRateLimitCapsStoredCapacityOnDecrease(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	id := OutboundBucketID()
	must(t, rl.RegisterBucket(ctx, id, uint256.NewInt(100), 0, uint256.NewInt(100)))

	must(t, rl.SetRateLimit(ctx, id, uint256.NewInt(30)))
	cap, err := rl.CapacityAt(ctx, id, ctx.now())
	must(t, err)
	if cap.Cmp(uint256.NewInt(30)) != 0 {
		t.Fatalf("capacity after limit decrease = %s, want capped at 30", cap)
	}
}

func TestCrossCreditFillIsSilentNoOpForUnregisteredOppositeBucket(t *testing.T) {
	ctx, _ := newTestContext()
	rl := &RateLimiter{}
	// No bucket registered for the opposite direction at all.
	if err := rl.crossCreditFill(ctx, InboundBucketID(7), uint256.NewInt(5)); err != nil {
		t.Fatalf("crossCreditFill on unregistered bucket should be a no-op, got %v", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
