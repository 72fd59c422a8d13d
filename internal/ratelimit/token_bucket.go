package ratelimit

import (
	"math"
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a rate of X tokens/sec refills X
// nano-tokens per elapsed nanosecond and no float rounding is involved.
const nanoPerToken = int64(time.Second)

// TokenBucket refills at fillRate tokens/sec up to capacity tokens. It starts
// full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacityNano int64
	fillRate     int64

	availableNano int64
	last          time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacityNano := toNano(capacity)
	return &TokenBucket{
		clock:         clock,
		capacityNano:  capacityNano,
		fillRate:      max(fillRate, 0),
		availableNano: capacityNano,
		last:          clock.Now(),
	}
}

// Allow consumes tokens if that many are available. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.availableNano < cost {
		return false
	}
	b.availableNano -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that went backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.fillRate == 0 {
		return
	}

	missing := b.capacityNano - b.availableNano
	if missing <= 0 {
		b.availableNano = b.capacityNano
		return
	}
	// Checking elapsed against the time needed to fill avoids overflowing
	// elapsed*fillRate.
	if elapsed >= missing/b.fillRate {
		b.availableNano = b.capacityNano
		return
	}
	b.availableNano += elapsed * b.fillRate
	if b.availableNano > b.capacityNano {
		b.availableNano = b.capacityNano
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > math.MaxInt64/nanoPerToken {
		return math.MaxInt64
	}
	return tokens * nanoPerToken
}
