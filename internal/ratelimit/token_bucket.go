// Package ratelimit caps how fast a single signaling connection may push
// messages into the relay.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so buckets can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is stored as 1e9 nano-tokens, so a fill rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond and no float rounding creeps in.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate of tokens per second up to a fixed
// capacity. It starts full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      fillRate,
		available: capacity,
		last:      clock.Now(),
	}
}

// NewPerSecond returns a bucket allowing a burst of n and a sustained n/sec.
func NewPerSecond(clock Clock, n int) *TokenBucket {
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if they are available. Non-positive requests always
// succeed.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// Tokens returns the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.available / nanoPerToken
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.available >= b.capacity {
		// A clock that went backwards only moves the reference point.
		return
	}

	missing := b.capacity - b.available
	if elapsed >= missing/b.rate {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
