// Package ratelimit bounds how fast a single connection may push inbound
// messages at the relay.
package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const nanoTokensPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec). Tokens are stored as
// fixed-point nano-tokens, so X tokens/sec adds X nano-tokens per elapsed
// nanosecond and no float rounding is involved.
//
// A nil *TokenBucket allows everything.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacityNano int64
	fillRate     int64

	available int64
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacityNano := toNano(max(capacityTokens, 0))
	return &TokenBucket{
		clock:        clock,
		capacityNano: capacityNano,
		fillRate:     max(fillRate, 0),
		available:    capacityNano,
		last:         clock.Now(),
	}
}

// NewPerSecond returns a bucket allowing perSecond messages per second with a
// one-second burst, or nil (unlimited) when perSecond <= 0.
func NewPerSecond(clock Clock, perSecond int) *TokenBucket {
	if perSecond <= 0 {
		return nil
	}
	return NewTokenBucket(clock, int64(perSecond), int64(perSecond))
}

// Allow consumes tokens if they are available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
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

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that went backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.fillRate <= 0 || b.available >= b.capacityNano {
		return
	}

	// Clamp before multiplying so elapsed*fillRate cannot overflow.
	need := b.capacityNano - b.available
	if elapsed >= need/b.fillRate {
		b.available = b.capacityNano
		return
	}
	b.available = min(b.available+elapsed*b.fillRate, b.capacityNano)
}

func toNano(tokens int64) int64 {
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
