package repository

import (
	"sync"
	"time"
)

// DefaultBreakerCooldown is how long the remote path stays disabled after a
// quota error.
const DefaultBreakerCooldown = 5 * time.Minute

// Breaker disables the remote path for a cooldown period after the store
// reports an exhausted quota. One breaker is shared by every repository of a
// registry because the quota is per project, not per collection.
type Breaker struct {
	mu        sync.Mutex
	cooldown  time.Duration
	openUntil time.Time
	lastTrip  time.Time
}

// NewBreaker returns a closed breaker. A non-positive cooldown selects
// DefaultBreakerCooldown.
func NewBreaker(cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{cooldown: cooldown}
}

// Trip opens the breaker at now.
func (b *Breaker) Trip(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTrip = now
	b.openUntil = now.Add(b.cooldown)
}

// Allow reports whether remote calls may be attempted at now. The breaker
// closes by itself once the cooldown has elapsed.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if !now.Before(b.openUntil) {
		b.openUntil = time.Time{}
		return true
	}
	return false
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	Open       bool
	LastTrip   time.Time
	RetryAfter time.Time
}

// Status reports the breaker state at now.
func (b *Breaker) Status(now time.Time) BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := !b.openUntil.IsZero() && now.Before(b.openUntil)
	st := BreakerStatus{Open: open, LastTrip: b.lastTrip}
	if open {
		st.RetryAfter = b.openUntil
	}
	return st
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openUntil = time.Time{}
}
