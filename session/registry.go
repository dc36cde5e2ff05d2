// Package session provides an in-memory, TTL-indexed session registry.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/ironward/internal/util"
)

const (
	// DefaultTTL applies when Create or Extend is called with a zero ttl.
	DefaultTTL = 30 * time.Minute
	// idBytes is the entropy of identifiers returned by NewID.
	idBytes = 32
)

type entry[T any] struct {
	data   T
	expiry time.Time
}

// Registry maps opaque session identifiers to data of type T. An entry past
// its expiry is unreadable whether or not it has been swept.
type Registry[T any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[T]
	defaultTTL time.Duration
	now        func() time.Time
	onEvict    func(id string)
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	defaultTTL time.Duration
	now        func() time.Time
	onEvict    func(id string)
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.defaultTTL = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithEvictHook registers fn to be called, outside the registry lock, for
// every entry removed because it expired. Destroy does not invoke it.
func WithEvictHook(fn func(id string)) Option {
	return func(o *options) {
		o.onEvict = fn
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any](opts ...Option) *Registry[T] {
	o := options{defaultTTL: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultTTL <= 0 {
		o.defaultTTL = DefaultTTL
	}
	return &Registry[T]{
		entries:    make(map[string]entry[T]),
		defaultTTL: o.defaultTTL,
		now:        o.now,
		onEvict:    o.onEvict,
	}
}

// NewID returns a random 256-bit session identifier encoded as URL-safe
// base64.
func NewID() (string, error) {
	id, err := util.RandomToken(idBytes)
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return id, nil
}

func (r *Registry[T]) ttl(ttl time.Duration) time.Duration {
	if ttl < 0 {
		panic(fmt.Sprintf("session: ttl must not be negative, got %s", ttl))
	}
	if ttl == 0 {
		return r.defaultTTL
	}
	return ttl
}

// DefaultTTL returns the ttl applied when callers pass zero.
func (r *Registry[T]) DefaultTTL() time.Duration {
	return r.defaultTTL
}

// Create stores data under id, replacing any existing entry, and returns the
// expiry. A zero ttl uses the registry default; a negative ttl panics.
func (r *Registry[T]) Create(id string, data T, ttl time.Duration) time.Time {
	ttl = r.ttl(ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry := r.now().Add(ttl)
	r.entries[id] = entry[T]{data: data, expiry: expiry}
	return expiry
}

// Get returns the data for id. Expired entries are evicted and reported as
// absent. Reading does not extend the ttl.
func (r *Registry[T]) Get(id string) (T, bool) {
	var zero T

	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !r.now().After(e.expiry) {
		return e.data, true
	}

	r.mu.Lock()
	// Re-check under the write lock; a concurrent Create may have replaced it.
	evicted := false
	if cur, ok := r.entries[id]; ok && r.now().After(cur.expiry) {
		delete(r.entries, id)
		evicted = true
	}
	r.mu.Unlock()
	if evicted {
		r.evicted(id)
	}
	return zero, false
}

// Expiry returns the expiry of a live entry.
func (r *Registry[T]) Expiry(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || r.now().After(e.expiry) {
		return time.Time{}, false
	}
	return e.expiry, true
}

// Extend resets the expiry of a live entry to now + ttl. It returns false,
// without mutating anything, when the entry is missing or already expired.
func (r *Registry[T]) Extend(id string, ttl time.Duration) bool {
	ttl = r.ttl(ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	now := r.now()
	if now.After(e.expiry) {
		return false
	}
	e.expiry = now.Add(ttl)
	r.entries[id] = e
	return true
}

// Destroy removes id unconditionally.
func (r *Registry[T]) Destroy(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Sweep evicts every entry expired at now and returns how many were removed.
func (r *Registry[T]) Sweep(now time.Time) int {
	var removed []string
	r.mu.Lock()
	for id, e := range r.entries {
		if now.After(e.expiry) {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()
	for _, id := range removed {
		r.evicted(id)
	}
	return len(removed)
}

func (r *Registry[T]) evicted(id string) {
	if r.onEvict != nil {
		r.onEvict(id)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Name identifies the registry to the sweeper.
func (r *Registry[T]) Name() string {
	return "sessions"
}
