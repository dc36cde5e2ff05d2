// Package ratelimit tracks attempts per identifier inside a fixed window and
// escalates to a timed lockout once the window's budget is exhausted.
//
// Each identifier moves through three states: absent, active (counting
// attempts in the current window) and locked. An expired lockout or an
// elapsed window is indistinguishable from absent on the next Check, so
// correctness never depends on Sweep having run.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is the number of attempts allowed per window.
	DefaultMaxAttempts = 5
	// DefaultWindow is the counting window measured from the first attempt.
	DefaultWindow = 60 * time.Second
	// DefaultLockout is how long an identifier stays locked after exceeding
	// the budget.
	DefaultLockout = 15 * time.Minute
)

// Policy bundles the limits applied at one call site.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultPolicy returns 5 attempts per 60 seconds with a 15 minute lockout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
		Lockout:     DefaultLockout,
	}
}

func (p Policy) validate() {
	if p.MaxAttempts < 1 {
		panic(fmt.Sprintf("ratelimit: max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.Window <= 0 {
		panic(fmt.Sprintf("ratelimit: window must be positive, got %s", p.Window))
	}
	if p.Lockout <= 0 {
		panic(fmt.Sprintf("ratelimit: lockout must be positive, got %s", p.Lockout))
	}
}

// Decision is the outcome of a Check. ResetTime is zero unless the
// identifier is locked, in which case it is the lock expiry.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// RetryAfter returns how long until ResetTime relative to now, or zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetTime.IsZero() || !now.Before(d.ResetTime) {
		return 0
	}
	return d.ResetTime.Sub(now)
}

type entry struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	window       time.Duration
	locked       bool
	lockExpiry   time.Time
}

// Limiter is safe for concurrent use. Operations on one identifier are
// serialised by a single mutex.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	lockout time.Duration
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLockout sets the lockout duration used by Check.
func WithLockout(d time.Duration) Option {
	return func(l *Limiter) {
		l.lockout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		lockout: DefaultLockout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.lockout <= 0 {
		l.lockout = DefaultLockout
	}
	return l
}

// Check records an attempt for identifier and reports whether it may
// proceed, using the limiter's lockout duration. It panics if maxAttempts is
// below 1 or window is not positive.
func (l *Limiter) Check(identifier string, maxAttempts int, window time.Duration) Decision {
	return l.CheckPolicy(identifier, Policy{
		MaxAttempts: maxAttempts,
		Window:      window,
		Lockout:     l.lockout,
	})
}

// CheckPolicy is Check with an explicit lockout duration.
func (l *Limiter) CheckPolicy(identifier string, p Policy) Decision {
	p.validate()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identifier]
	if ok && e.locked {
		if now.Before(e.lockExpiry) {
			return Decision{Allowed: false, Remaining: 0, ResetTime: e.lockExpiry}
		}
		ok = false
	}
	if ok && now.Sub(e.firstAttempt) > p.Window {
		ok = false
	}

	if !ok {
		l.entries[identifier] = &entry{
			count:        1,
			firstAttempt: now,
			lastAttempt:  now,
			window:       p.Window,
		}
		return Decision{Allowed: true, Remaining: p.MaxAttempts - 1}
	}

	e.count++
	e.lastAttempt = now
	e.window = p.Window
	if e.count <= p.MaxAttempts {
		return Decision{Allowed: true, Remaining: p.MaxAttempts - e.count}
	}

	e.locked = true
	e.lockExpiry = now.Add(p.Lockout)
	return Decision{Allowed: false, Remaining: 0, ResetTime: e.lockExpiry}
}

// Locked reports whether identifier is currently locked out, without
// recording an attempt.
func (l *Limiter) Locked(identifier string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[identifier]
	if !ok || !e.locked || !l.now().Before(e.lockExpiry) {
		return false, time.Time{}
	}
	return true, e.lockExpiry
}

// Clear forgets identifier, typically after a successful authentication.
func (l *Limiter) Clear(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}

// Sweep removes entries that the next Check would treat as absent: expired
// lockouts and unlocked entries whose window has elapsed. It returns the
// number removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		expired := false
		if e.locked {
			expired = now.After(e.lockExpiry)
		} else {
			expired = now.Sub(e.firstAttempt) > e.window
		}
		if expired {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers, including logically
// expired ones not yet swept.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Name identifies the limiter to the sweeper.
func (l *Limiter) Name() string {
	return "ratelimit"
}
