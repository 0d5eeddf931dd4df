// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, config Config) *Limiter {
	t.Helper()
	limiter, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return limiter
}

func TestLimiter_UnderLimitDoesNotBlock(t *testing.T) {
	limiter := newTestLimiter(t, Config{Limit: 4, Window: time.Minute})

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("calls under the limit blocked for %s", elapsed)
	}
	if got := limiter.InFlight(); got != 4 {
		t.Errorf("expected 4 in-flight, got %d", got)
	}
}

func TestLimiter_FifthCallDelayed(t *testing.T) {
	window := 400 * time.Millisecond
	limiter := newTestLimiter(t, Config{
		Limit:   4,
		Window:  window,
		Buffer:  10 * time.Millisecond,
		MaxWait: time.Second,
	})

	first := time.Now()
	for i := 0; i < 4; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("fifth call: %v", err)
	}
	elapsed := time.Since(first)
	if elapsed < window {
		t.Errorf("fifth call proceeded after %s, want >= %s", elapsed, window)
	}
}

func TestLimiter_WaitCeiling(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		Limit:   1,
		Window:  time.Minute,
		Buffer:  time.Second,
		MaxWait: 50 * time.Millisecond,
	})

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := limiter.Acquire(context.Background())
	if !errors.Is(err, ErrWaitCeiling) {
		t.Fatalf("expected ErrWaitCeiling, got %v", err)
	}
}

func TestLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		Limit:   1,
		Window:  time.Minute,
		Buffer:  time.Millisecond,
		MaxWait: 5 * time.Minute,
	})
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestLimiter_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	limiter := newTestLimiter(t, Config{
		Limit:   3,
		Window:  150 * time.Millisecond,
		Buffer:  5 * time.Millisecond,
		MaxWait: 2 * time.Second,
	})

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
			}
			if n := limiter.InFlight(); n > 3 {
				t.Errorf("window holds %d calls, limit is 3", n)
			}
		}()
	}
	wg.Wait()
}

func TestRegistry_PerDependencyConfig(t *testing.T) {
	registry := NewRegistry(DefaultConfig(), map[string]Config{
		"virustotal": {Limit: 2, Window: time.Minute},
	})

	vt := registry.For("virustotal")
	if vt.limit != 2 {
		t.Errorf("expected override limit 2, got %d", vt.limit)
	}
	other := registry.For("urlhaus")
	if other.limit != DefaultConfig().Limit {
		t.Errorf("expected fallback limit %d, got %d", DefaultConfig().Limit, other.limit)
	}
	if registry.For("virustotal") != vt {
		t.Error("expected the same limiter instance on repeat lookup")
	}
}
