// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit gates calls to quota-limited upstream dependencies.
//
// The limiter is a sliding window over request timestamps: at most Limit
// calls may start within any trailing Window. When the window is full,
// Acquire suspends the caller until the oldest call ages out, then
// re-checks. This matches the contract of free-tier security APIs
// (e.g. 4 requests/minute) where a burst must wait, not fail.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrWaitCeiling is returned when the computed wait exceeds the
// limiter's MaxWait. Callers should degrade the pending call to a
// failure instead of blocking indefinitely.
var ErrWaitCeiling = errors.New("rate limit wait exceeds ceiling")

// Config configures a sliding-window limiter.
type Config struct {
	// Limit is the maximum number of calls per Window. Must be > 0.
	Limit int

	// Window is the trailing window length. Default: 60s.
	Window time.Duration

	// Buffer is added to every computed wait to absorb clock skew
	// between us and the upstream quota accountant. Default: 1s.
	Buffer time.Duration

	// MaxWait is the hard ceiling on a single wait. A computed wait
	// above this returns ErrWaitCeiling instead of sleeping.
	// Default: 30s.
	MaxWait time.Duration

	// Logger for wait events. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the free-tier profile: 4 calls per minute.
func DefaultConfig() Config {
	return Config{
		Limit:   4,
		Window:  time.Minute,
		Buffer:  time.Second,
		MaxWait: 30 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}

// Limiter is a sliding-window rate limiter for one dependency.
//
// Thread Safety: safe for concurrent use. All timestamp mutations are
// serialized under a mutex so concurrent scans never lose a slot.
type Limiter struct {
	mu         sync.Mutex
	timestamps []time.Time

	limit   int
	window  time.Duration
	buffer  time.Duration
	maxWait time.Duration
	logger  *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter. Zero durations fall back to the defaults of
// DefaultConfig.
func New(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if config.Buffer <= 0 {
		config.Buffer = def.Buffer
	}
	if config.MaxWait <= 0 {
		config.MaxWait = def.MaxWait
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		limit:   config.Limit,
		window:  config.Window,
		buffer:  config.Buffer,
		maxWait: config.MaxWait,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Acquire blocks until a slot is available within the window, then
// records the call and returns. It returns ErrWaitCeiling when the
// required wait exceeds MaxWait, and the context error when ctx is
// cancelled while waiting. The timestamp is only recorded on success.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryReserve()
		if ok {
			return nil
		}
		if wait > l.maxWait {
			return fmt.Errorf("%w: need %s, ceiling %s", ErrWaitCeiling, wait.Round(time.Millisecond), l.maxWait)
		}

		l.logger.Debug("rate limit reached, waiting",
			"wait", wait.Round(time.Millisecond),
			"limit", l.limit,
			"window", l.window)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another caller may have taken the freed slot.
		}
	}
}

// tryReserve prunes expired timestamps and either records a new call
// (true) or returns the wait until the oldest call leaves the window.
func (l *Limiter) tryReserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) < l.limit {
		l.timestamps = append(l.timestamps, now)
		return 0, true
	}

	oldest := l.timestamps[0]
	wait := l.window - now.Sub(oldest) + l.buffer
	if wait < 0 {
		wait = l.buffer
	}
	return wait, false
}

// InFlight returns the number of calls currently inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	n := 0
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Registry holds one Limiter per named dependency, created lazily.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	configs  map[string]Config
	fallback Config
}

// NewRegistry creates a Registry. Per-dependency configs override the
// fallback; dependencies without an entry get the fallback config.
func NewRegistry(fallback Config, perDependency map[string]Config) *Registry {
	if fallback.Limit <= 0 {
		fallback = DefaultConfig()
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		configs:  perDependency,
		fallback: fallback,
	}
}

// For returns the Limiter for a dependency, creating it on first use.
func (r *Registry) For(dependency string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[dependency]; ok {
		return limiter
	}
	config := r.fallback
	if override, ok := r.configs[dependency]; ok {
		config = override
	}
	limiter, err := New(config)
	if err != nil {
		// Fall back to defaults rather than failing the call path.
		limiter, _ = New(DefaultConfig())
	}
	r.limiters[dependency] = limiter
	return limiter
}
