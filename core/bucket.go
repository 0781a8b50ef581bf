package core

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// BucketID identifies a rate-limit bucket: one per direction, plus one
// per peer for inbound (spec §3, "Rate-Limit Bucket").
type BucketID [32]byte

// OutboundBucketID is the single shared outbound bucket.
func OutboundBucketID() BucketID {
	return BucketID{'o', 'u', 't', 'b', 'o', 'u', 'n', 'd'}
}

// InboundBucketID derives the per-peer inbound bucket id.
func InboundBucketID(peerChain uint16) BucketID {
	var id BucketID
	copy(id[:], "inbound:")
	id[30] = byte(peerChain >> 8)
	id[31] = byte(peerChain)
	return id
}

func (b BucketID) key() []byte {
	return append([]byte("ntt:bucket:"), b[:]...)
}

// bucket is the persisted, continuous-refill credit accumulator
// bounding a directional flow (spec §3).
type bucket struct {
	ID           BucketID      `json:"-"`
	Capacity     *uint256.Int  `json:"capacity"`
	RateLimit    *uint256.Int  `json:"rate_limit"`
	RateDuration time.Duration `json:"rate_duration"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// bucketWire is the JSON-safe projection of bucket (uint256.Int
// marshals to a quoted decimal string via its own (Un)MarshalJSON, which this
// type relies on directly).
type bucketWire struct {
	Capacity     *uint256.Int  `json:"capacity"`
	RateLimit    *uint256.Int  `json:"rate_limit"`
	RateDuration time.Duration `json:"rate_duration"`
	LastUpdated  time.Time     `json:"last_updated"`
}

func (b *bucket) marshal() ([]byte, error) {
	return json.Marshal(bucketWire{
		Capacity:     b.Capacity,
		RateLimit:    b.RateLimit,
		RateDuration: b.RateDuration,
		LastUpdated:  b.LastUpdated,
	})
}

func unmarshalBucket(id BucketID, raw []byte) (*bucket, error) {
	var w bucketWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &bucket{
		ID:           id,
		Capacity:     w.Capacity,
		RateLimit:    w.RateLimit,
		RateDuration: w.RateDuration,
		LastUpdated:  w.LastUpdated,
	}, nil
}

// capacityAt projects the clamped continuous refill to wall-time t
// without mutating the bucket (spec §3):
//
//	elapsed = max(0, t - last_updated)
//	capacity(t) = min(rate_limit, capacity_stored + rate_limit*elapsed/rate_duration)
//
// If rate_duration == 0, capacity is frozen at its stored value.
func (b *bucket) capacityAt(t time.Time) *uint256.Int {
	if b.RateDuration == 0 {
		return new(uint256.Int).Set(b.Capacity)
	}
	elapsed := t.Sub(b.LastUpdated)
	if elapsed <= 0 {
		return new(uint256.Int).Set(b.Capacity)
	}

	refill := new(uint256.Int).Mul(b.RateLimit, uint256.NewInt(uint64(elapsed.Seconds())))
	refill.Div(refill, uint256.NewInt(uint64(b.RateDuration.Seconds())))

	projected := new(uint256.Int).Add(b.Capacity, refill)
	if projected.Gt(b.RateLimit) {
		return new(uint256.Int).Set(b.RateLimit)
	}
	return projected
}

func newBucket(rateLimit, initialCapacity *uint256.Int, rateDuration time.Duration, now time.Time) *bucket {
	cap := new(uint256.Int).Set(initialCapacity)
	if cap.Gt(rateLimit) {
		cap = new(uint256.Int).Set(rateLimit)
	}
	return &bucket{
		Capacity:     cap,
		RateLimit:    new(uint256.Int).Set(rateLimit),
		RateDuration: rateDuration,
		LastUpdated:  now,
	}
}

func mustUint256FromUint64(v uint64) *uint256.Int { return uint256.NewInt(v) }
