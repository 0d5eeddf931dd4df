// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides a TTL-bounded in-memory store for scan
// verdicts keyed by normalized target plus scan options.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/viralsafe/services/scanner/risk"
)

// Config configures a VerdictCache.
type Config struct {
	// TTL is the time-to-live for cache entries.
	// Default: 1 hour.
	TTL time.Duration

	// MaxEntries is the maximum number of entries before batch
	// eviction kicks in. Default: 1000.
	MaxEntries int

	// EvictFraction is the share of oldest entries removed when the
	// cache is full. Default: 0.10.
	EvictFraction float64

	// Logger for debug output. If nil, uses default logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default cache configuration.
//
// Outputs:
//   - *Config: TTL 1h, 1000 entries, 10% batch eviction.
func DefaultConfig() *Config {
	return &Config{
		TTL:           time.Hour,
		MaxEntries:    1000,
		EvictFraction: 0.10,
	}
}

// VerdictCache stores completed verdicts so repeat scans of the same
// target with the same options skip the signal pipeline entirely.
//
// Description:
//
//	Entries live for a fixed TTL and are validated lazily on read;
//	expired entries count as misses. When the cache reaches capacity
//	a single batch eviction removes the oldest EvictFraction of
//	entries, so a hot cache does not pay a per-insert scan.
//	Concurrent writers to the same key are last-writer-wins.
//
// Thread Safety: Safe for concurrent use.
type VerdictCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedVerdict
	ttl     time.Duration
	maxLen  int
	evictN  int
	logger  *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	hitCounter   metric.Int64Counter
	missCounter  metric.Int64Counter
	evictCounter metric.Int64Counter
}

type cachedVerdict struct {
	verdict  risk.Verdict
	cachedAt time.Time
}

// New creates a verdict cache from config.
//
// Inputs:
//   - config: cache configuration. If nil, uses defaults.
//
// Outputs:
//   - *VerdictCache: the cache instance.
func New(config *Config) *VerdictCache {
	if config == nil {
		config = DefaultConfig()
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxLen := config.MaxEntries
	if maxLen <= 0 {
		maxLen = 1000
	}
	frac := config.EvictFraction
	if frac <= 0 || frac > 1 {
		frac = 0.10
	}
	evictN := int(float64(maxLen) * frac)
	if evictN < 1 {
		evictN = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &VerdictCache{
		entries: make(map[string]*cachedVerdict),
		ttl:     ttl,
		maxLen:  maxLen,
		evictN:  evictN,
		logger:  logger,
		now:     time.Now,
	}

	meter := otel.Meter("viralsafe/scanner/cache")
	var err error
	if c.hitCounter, err = meter.Int64Counter("scan_cache_hits_total",
		metric.WithDescription("Verdict cache hits")); err != nil {
		logger.Warn("cache metrics unavailable", "error", err)
	}
	if c.missCounter, err = meter.Int64Counter("scan_cache_misses_total",
		metric.WithDescription("Verdict cache misses")); err != nil {
		logger.Warn("cache metrics unavailable", "error", err)
	}
	if c.evictCounter, err = meter.Int64Counter("scan_cache_evictions_total",
		metric.WithDescription("Verdict cache evictions")); err != nil {
		logger.Warn("cache metrics unavailable", "error", err)
	}

	return c
}

// Get retrieves a cached verdict if present and unexpired.
//
// Inputs:
//   - ctx: carries the caller's trace context for metrics.
//   - key: cache key from signal.CacheKey.
//
// Outputs:
//   - risk.Verdict: the cached verdict (zero value on miss).
//   - bool: true on a hit.
//
// Thread Safety: Safe for concurrent use.
func (c *VerdictCache) Get(ctx context.Context, key string) (risk.Verdict, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	var verdict risk.Verdict
	var cachedAt time.Time
	if exists {
		verdict = entry.verdict
		cachedAt = entry.cachedAt
	}
	c.mu.RUnlock()

	if !exists || c.now().Sub(cachedAt) > c.ttl {
		c.misses.Add(1)
		if c.missCounter != nil {
			c.missCounter.Add(ctx, 1)
		}
		return risk.Verdict{}, false
	}

	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Add(ctx, 1)
	}
	return verdict, true
}

// Put stores a verdict. Existing entries for the same key are
// overwritten; when the cache is full the oldest batch is evicted
// first.
//
// Thread Safety: Safe for concurrent use.
func (c *VerdictCache) Put(ctx context.Context, key string, v risk.Verdict) {
	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxLen {
		evicted := c.evictOldestLocked()
		c.evictions.Add(int64(evicted))
		if c.evictCounter != nil {
			c.evictCounter.Add(ctx, int64(evicted))
		}
	}
	c.entries[key] = &cachedVerdict{verdict: v, cachedAt: c.now()}
	size := len(c.entries)
	c.mu.Unlock()

	c.logger.Debug("cached verdict",
		slog.String("scan_id", v.ScanID),
		slog.Int("score", v.FinalScore),
		slog.Int("cache_size", size),
	)
}

// evictOldestLocked removes the oldest evictN entries in one pass.
// Caller must hold the write lock. The O(n log n) sort is acceptable
// at the default 1000-entry cap.
func (c *VerdictCache) evictOldestLocked() int {
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, at: e.cachedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	n := c.evictN
	if n > len(all) {
		n = len(all)
	}
	for i := 0; i < n; i++ {
		delete(c.entries, all[i].key)
	}
	return n
}

// Invalidate removes one key. Returns true when an entry was present.
func (c *VerdictCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.entries[key]
	delete(c.entries, key)
	return exists
}

// Clear removes all entries.
func (c *VerdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedVerdict)
}

// Size returns the current number of entries.
func (c *VerdictCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats contains cache performance counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
}

// Stats returns a snapshot of the cache counters.
//
// Thread Safety: Safe for concurrent use.
func (c *VerdictCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   hitRate,
		Size:      c.Size(),
	}
}
