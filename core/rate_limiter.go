package core

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Event topics emitted by the Rate Limiter (spec §6).
const (
	TopicBucketAdded               = "ntt:bucket:added"
	TopicBucketConsumed            = "ntt:bucket:consumed"
	TopicBucketFilled              = "ntt:bucket:filled"
	TopicBucketRateLimitUpdated    = "ntt:bucket:rate_limit_updated"
	TopicBucketRateDurationUpdated = "ntt:bucket:rate_duration_updated"
	TopicOutboundTransferRateLimited = "ntt:transfer:outbound_rate_limited"
	TopicInboundTransferRateLimited  = "ntt:transfer:inbound_rate_limited"
)

// RateLimiter maintains the invariant that total cross-direction flow
// within any rate_duration window does not exceed rate_limit, while
// crediting opposite-direction flow toward the same-direction capacity
// (spec §4.1).
type RateLimiter struct{}

func (rl *RateLimiter) loadBucket(ctx *Context, id BucketID) (*bucket, error) {
	raw, err := ctx.Store.Get(id.key())
	if err != nil {
		return nil, ErrUnknownBucket
	}
	return unmarshalBucket(id, raw)
}

func (rl *RateLimiter) saveBucket(ctx *Context, b *bucket) error {
	raw, err := b.marshal()
	if err != nil {
		return err
	}
	return ctx.Store.Set(b.ID.key(), raw)
}

// RegisterBucket creates a bucket if absent (admin operation). If the
// bucket already exists it returns nil and leaves the stored bucket
// unchanged, whatever parameters are passed.
func (rl *RateLimiter) RegisterBucket(ctx *Context, id BucketID, rateLimit *uint256.Int, rateDuration time.Duration, initialCapacity *uint256.Int) error {
	now := ctx.now()
	if _, err := rl.loadBucket(ctx, id); err == nil {
		return nil
	}
	b := newBucket(rateLimit, initialCapacity, rateDuration, now)
	b.ID = id
	if err := rl.saveBucket(ctx, b); err != nil {
		return err
	}
	raw, _ := json.Marshal(struct {
		BucketID string `json:"bucket_id"`
		Capacity string `json:"capacity"`
	}{id.key2Hex(), b.Capacity.String()})
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicBucketAdded, raw)
	}
	return nil
}

// CapacityAt is a read-only projection, used by introspection
// surfaces, that does not mutate last_updated.
func (rl *RateLimiter) CapacityAt(ctx *Context, id BucketID, t time.Time) (*uint256.Int, error) {
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.capacityAt(t), nil
}

// HasCapacity returns capacity(now) >= amount.
func (rl *RateLimiter) HasCapacity(ctx *Context, id BucketID, amount *uint256.Int) (bool, error) {
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return false, err
	}
	now := ctx.now()
	return b.capacityAt(now).Cmp(amount) >= 0, nil
}

// Consume requires has_capacity and sets capacity <- capacity(now) -
// amount, last_updated <- now. Emits BucketConsumed.
func (rl *RateLimiter) Consume(ctx *Context, id BucketID, amount *uint256.Int) error {
	logger := zap.L().Sugar()
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return err
	}
	now := ctx.now()
	cur := b.capacityAt(now)
	if cur.Cmp(amount) < 0 {
		return ErrInsufficientCapacity
	}
	b.Capacity = new(uint256.Int).Sub(cur, amount)
	b.LastUpdated = now
	if err := rl.saveBucket(ctx, b); err != nil {
		return err
	}
	logger.Infow("bucket consumed", "bucket", id.key2Hex(), "amount", amount.String())
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicBucketConsumed, mustJSON(map[string]string{
			"bucket_id": id.key2Hex(), "amount": amount.String(),
		}))
	}
	return nil
}

// Fill sets capacity <- min(rate_limit, capacity(now) + amount),
// last_updated <- now. Emits BucketFilled(requested, actually filled).
func (rl *RateLimiter) Fill(ctx *Context, id BucketID, amount *uint256.Int) error {
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return err
	}
	now := ctx.now()
	cur := b.capacityAt(now)
	projected := new(uint256.Int).Add(cur, amount)
	filled := new(uint256.Int).Set(amount)
	if projected.Gt(b.RateLimit) {
		filled = new(uint256.Int).Sub(b.RateLimit, cur)
		projected = new(uint256.Int).Set(b.RateLimit)
	}
	b.Capacity = projected
	b.LastUpdated = now
	if err := rl.saveBucket(ctx, b); err != nil {
		return err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicBucketFilled, mustJSON(map[string]string{
			"bucket_id": id.key2Hex(), "amount_requested": amount.String(), "amount_filled": filled.String(),
		}))
	}
	return nil
}

// SetRateLimit refreshes capacity to capacity(now), then preserves the
// physical meaning of "how much is already consumed": increasing the
// limit increases stored capacity by the difference; decreasing caps
// stored capacity at the new limit.
func (rl *RateLimiter) SetRateLimit(ctx *Context, id BucketID, newLimit *uint256.Int) error {
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return err
	}
	now := ctx.now()
	cur := b.capacityAt(now)
	oldLimit := b.RateLimit
	switch {
	case newLimit.Cmp(oldLimit) > 0:
		diff := new(uint256.Int).Sub(newLimit, oldLimit)
		cur = new(uint256.Int).Add(cur, diff)
	case newLimit.Cmp(oldLimit) < 0:
		if cur.Cmp(newLimit) > 0 {
			cur = new(uint256.Int).Set(newLimit)
		}
	}
	b.Capacity = cur
	b.RateLimit = new(uint256.Int).Set(newLimit)
	b.LastUpdated = now
	if err := rl.saveBucket(ctx, b); err != nil {
		return err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicBucketRateLimitUpdated, mustJSON(map[string]string{
			"bucket_id": id.key2Hex(), "new_limit": newLimit.String(),
		}))
	}
	return nil
}

// SetRateDuration refreshes capacity, then sets duration.
func (rl *RateLimiter) SetRateDuration(ctx *Context, id BucketID, newDuration time.Duration) error {
	b, err := rl.loadBucket(ctx, id)
	if err != nil {
		return err
	}
	now := ctx.now()
	b.Capacity = b.capacityAt(now)
	b.LastUpdated = now
	b.RateDuration = newDuration
	if err := rl.saveBucket(ctx, b); err != nil {
		return err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicBucketRateDurationUpdated, mustJSON(map[string]any{
			"bucket_id": id.key2Hex(), "new_duration": int64(newDuration.Seconds()),
		}))
	}
	return nil
}

// crossCreditFill computes min(opposite_rate_limit - opposite_capacity(now), amount),
// discarding any excess, and applies it via Fill.
func (rl *RateLimiter) crossCreditFill(ctx *Context, opposite BucketID, amount *uint256.Int) error {
	b, err := rl.loadBucket(ctx, opposite)
	if err != nil {
		// Cross-crediting a bucket that was never registered (e.g. no
		// inbound bucket yet for a peer chain) is not fatal: there is
		// simply no opposite-direction capacity to credit.
		return nil
	}
	now := ctx.now()
	gap := new(uint256.Int).Sub(b.RateLimit, b.capacityAt(now))
	credit := new(uint256.Int).Set(amount)
	if credit.Cmp(gap) > 0 {
		credit = gap
	}
	if credit.IsZero() {
		return nil
	}
	return rl.Fill(ctx, opposite, credit)
}

func (id BucketID) key2Hex() string { return id.Hex() }

// Hex renders a BucketID as 0x-prefixed hex for events and logs.
func (id BucketID) Hex() string {
	return Address(id).Hex()
}

func mustJSON(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}
