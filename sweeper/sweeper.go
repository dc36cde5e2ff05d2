// Package sweeper periodically evicts expired entries from in-memory
// registries. Sweeping is advisory: the registries already treat expired
// entries as absent on read, so a sweep only reclaims memory.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 5 * time.Minute

// Target is a registry whose expired entries can be evicted.
type Target interface {
	// Sweep removes entries expired as of now and returns how many it removed.
	Sweep(now time.Time) int
	Name() string
}

// Observer receives per-target eviction counts.
type Observer interface {
	ObserveSweep(target string, removed int)
}

// Sweeper runs Sweep on every target once per interval.
type Sweeper struct {
	interval time.Duration
	targets  []Target
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(s *Sweeper) {
		s.observer = o
	}
}

// WithClock overrides the time source passed to targets on each tick.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// New returns a stopped Sweeper over targets.
func New(interval time.Duration, targets []Target, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		interval: interval,
		targets:  targets,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "sweeper")
	return s
}

// Interval returns the sweep period.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start launches the background loop. It returns immediately; the loop exits
// when ctx is cancelled or Stop is called. Calling Start more than once has
// no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop halts the loop and waits for an in-progress sweep to finish. It is
// safe to call multiple times, and before Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	started := true
	s.startOnce.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(s.now())
		}
	}
}

// RunOnce sweeps every target synchronously and returns the total removed.
func (s *Sweeper) RunOnce(now time.Time) int {
	total := 0
	for _, t := range s.targets {
		n := t.Sweep(now)
		total += n
		if s.observer != nil {
			s.observer.ObserveSweep(t.Name(), n)
		}
		if n > 0 {
			s.logger.Debug("swept expired entries", "target", t.Name(), "removed", n)
		}
	}
	return total
}
