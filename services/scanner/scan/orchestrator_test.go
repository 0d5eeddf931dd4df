// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/adapters"
	"github.com/AleutianAI/viralsafe/services/scanner/cache"
	"github.com/AleutianAI/viralsafe/services/scanner/llm"
	"github.com/AleutianAI/viralsafe/services/scanner/risk"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	name string
	cat  signal.Category
	fn   func(ctx context.Context, target validation.Target) signal.Result
}

func (f *fakeAdapter) Name() string                         { return f.name }
func (f *fakeAdapter) Category() signal.Category            { return f.cat }
func (f *fakeAdapter) AppliesTo(validation.TargetKind) bool { return true }
func (f *fakeAdapter) Execute(ctx context.Context, target validation.Target) signal.Result {
	return f.fn(ctx, target)
}

func reachableAdapter(status int) adapters.Adapter {
	return &fakeAdapter{
		name: signal.SourceHTTPQuick,
		cat:  signal.CategoryReachability,
		fn: func(context.Context, validation.Target) signal.Result {
			return signal.Result{
				SourceName: signal.SourceHTTPQuick,
				Category:   signal.CategoryReachability,
				Outcome:    signal.OutcomeSuccess,
				Detail:     map[string]any{signal.DetailStatusCode: status},
			}
		},
	}
}

type fakeProvider struct {
	name   string
	weight float64
	cls    *llm.Classification
	err    error
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Weight() float64 { return f.weight }
func (f *fakeProvider) Classify(context.Context, string, bool) (*llm.Classification, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cls, nil
}

func newTestOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Cache == nil {
		deps.Cache = cache.New(&cache.Config{Logger: testLogger()})
	}
	if deps.Calculator == nil {
		deps.Calculator = risk.NewCalculator(testLogger())
	}
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	o, err := NewOrchestrator(Config{}, deps)
	require.NoError(t, err)
	return o
}

func TestScanHealthyTarget(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Tier1: []adapters.Adapter{reachableAdapter(200)}})

	v, err := o.Scan(context.Background(), "https://example.com",
		signal.Options{CacheEnabled: false})
	require.NoError(t, err)

	assert.Equal(t, 90, v.FinalScore)
	assert.Equal(t, risk.LevelMinimal, v.RiskLevel)
	assert.False(t, v.CacheHit)
	assert.False(t, v.Fallback)
	assert.NotEmpty(t, v.ScanID)
	assert.Equal(t, "https://example.com", v.Target)
}

func TestScanBenignTextSkipsURLOnlySources(t *testing.T) {
	patterns, err := adapters.NewPatternDB(testLogger())
	require.NoError(t, err)

	// The full production tier shape: every URL-only source present,
	// none of them allowed to count against a text payload.
	o := newTestOrchestrator(t, Deps{
		Tier1: []adapters.Adapter{adapters.NewReachability(nil, testLogger())},
		Tier2: []adapters.Adapter{
			adapters.NewSecurityHeaders(nil, testLogger()),
			adapters.NewContentHeuristics(nil, testLogger()),
		},
		Tier3: []adapters.Adapter{
			patterns,
			adapters.NewTLDAnalysis(testLogger()),
			adapters.NewURLStructure(testLogger()),
		},
	})

	v, err := o.Scan(context.Background(),
		"hello, see you at the meeting tomorrow",
		signal.Options{DeepScan: true})
	require.NoError(t, err)

	assert.Equal(t, 85, v.FinalScore)
	assert.Equal(t, 99, v.Confidence)
	assert.Empty(t, v.RiskFactors)
	assert.False(t, v.Fallback)
	for _, c := range v.Breakdown {
		assert.NotEqual(t, signal.SourceHTTPQuick, c.Source)
		assert.NotEqual(t, signal.SourceSecurityHeaders, c.Source)
	}
}

func TestScanMaliciousTargetWithAI(t *testing.T) {
	patterns := &fakeAdapter{
		name: signal.SourcePatternDB,
		cat:  signal.CategoryThreatFeed,
		fn: func(context.Context, validation.Target) signal.Result {
			return signal.Result{
				SourceName: signal.SourcePatternDB,
				Category:   signal.CategoryThreatFeed,
				Outcome:    signal.OutcomeSuccess,
				Detail: map[string]any{
					signal.DetailHitCount:    3,
					signal.DetailSeveritySum: 24,
				},
			}
		},
	}
	o := newTestOrchestrator(t, Deps{
		Tier3: []adapters.Adapter{patterns},
		Providers: []llm.Client{
			&fakeProvider{name: "groq", weight: 0.5, cls: &llm.Classification{
				ThreatScore: 90, Confidence: 80, Category: "malicious",
			}},
			&fakeProvider{name: "openai", weight: 0.3, err: errors.New("quota exhausted")},
		},
	})

	v, err := o.Scan(context.Background(), "https://paypa1-login.tk",
		signal.Options{DeepScan: true, AIEnsemble: true})
	require.NoError(t, err)

	assert.Equal(t, risk.LevelCritical, v.RiskLevel)
	assert.Equal(t, 18, v.FinalScore)
	assert.False(t, v.Fallback)
	assert.Contains(t, v.Recommendations, "Do not visit this target")
}

func TestScanInvalidTarget(t *testing.T) {
	o := newTestOrchestrator(t, Deps{})

	_, err := o.Scan(context.Background(), "", signal.Options{})
	assert.ErrorIs(t, err, validation.ErrInvalidTarget)
}

func TestScanCacheRoundTrip(t *testing.T) {
	var calls atomic.Int64
	counting := &fakeAdapter{
		name: signal.SourceHTTPQuick,
		cat:  signal.CategoryReachability,
		fn: func(context.Context, validation.Target) signal.Result {
			calls.Add(1)
			return signal.Result{
				SourceName: signal.SourceHTTPQuick,
				Category:   signal.CategoryReachability,
				Outcome:    signal.OutcomeSuccess,
				Detail:     map[string]any{signal.DetailStatusCode: 200},
			}
		},
	}
	o := newTestOrchestrator(t, Deps{Tier1: []adapters.Adapter{counting}})
	opts := signal.Options{CacheEnabled: true}

	first, err := o.Scan(context.Background(), "https://example.com", opts)
	require.NoError(t, err)
	second, err := o.Scan(context.Background(), "https://example.com", opts)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "second scan must not re-run sources")
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.FinalScore, second.FinalScore)
	assert.Equal(t, first.ScanID, second.ScanID)
}

func TestScanDifferentOptionsMissCache(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Tier1: []adapters.Adapter{reachableAdapter(200)}})

	_, err := o.Scan(context.Background(), "https://example.com",
		signal.Options{CacheEnabled: true, DeepScan: false})
	require.NoError(t, err)

	v, err := o.Scan(context.Background(), "https://example.com",
		signal.Options{CacheEnabled: true, DeepScan: true})
	require.NoError(t, err)
	assert.False(t, v.CacheHit, "different options must produce a different cache key")
}

func TestScanGracefulDegradation(t *testing.T) {
	failing := &fakeAdapter{
		name: signal.SourceHTTPQuick,
		cat:  signal.CategoryReachability,
		fn: func(context.Context, validation.Target) signal.Result {
			return signal.Failure(signal.SourceHTTPQuick, signal.CategoryReachability, "connect refused", 0)
		},
	}
	o := newTestOrchestrator(t, Deps{
		Tier1: []adapters.Adapter{failing},
		Providers: []llm.Client{
			&fakeProvider{name: "groq", weight: 0.5, err: errors.New("service down")},
		},
	})

	v, err := o.Scan(context.Background(), "https://example.com",
		signal.Options{AIEnsemble: true})
	require.NoError(t, err, "degraded upstreams must not fail the scan")
	assert.True(t, v.Fallback)
	assert.Equal(t, 85, v.FinalScore)
	assert.Equal(t, 30, v.Confidence)
}

func TestScanAbandonsSlowSources(t *testing.T) {
	slow := &fakeAdapter{
		name: signal.SourceSecurityHeaders,
		cat:  signal.CategoryHeaders,
		fn: func(ctx context.Context, _ validation.Target) signal.Result {
			<-ctx.Done()
			time.Sleep(5 * time.Second)
			return signal.Result{SourceName: signal.SourceSecurityHeaders}
		},
	}
	o, err := NewOrchestrator(Config{Tier2Deadline: 50 * time.Millisecond}, Deps{
		Tier1:      []adapters.Adapter{reachableAdapter(200)},
		Tier2:      []adapters.Adapter{slow},
		Cache:      cache.New(&cache.Config{Logger: testLogger()}),
		Calculator: risk.NewCalculator(testLogger()),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	start := time.Now()
	v, err := o.Scan(context.Background(), "https://example.com", signal.Options{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second,
		"scan must not wait for the abandoned source")
	assert.Less(t, v.Confidence, 99, "timed-out source lowers confidence")
}

func TestScanRecoversPanickingSource(t *testing.T) {
	panicky := &fakeAdapter{
		name: signal.SourceContentLite,
		cat:  signal.CategoryContent,
		fn: func(context.Context, validation.Target) signal.Result {
			panic("boom")
		},
	}
	o := newTestOrchestrator(t, Deps{
		Tier1: []adapters.Adapter{reachableAdapter(200)},
		Tier2: []adapters.Adapter{panicky},
	})

	v, err := o.Scan(context.Background(), "https://example.com", signal.Options{})
	require.NoError(t, err)
	assert.Equal(t, 90, v.FinalScore, "panicking source is treated as a failure")
}

func TestScanThreatIntelOptionGatesFeeds(t *testing.T) {
	var feedCalls atomic.Int64
	feed := &fakeAdapter{
		name: signal.SourceURLHaus,
		cat:  signal.CategoryThreatFeed,
		fn: func(context.Context, validation.Target) signal.Result {
			feedCalls.Add(1)
			return signal.Result{
				SourceName: signal.SourceURLHaus,
				Category:   signal.CategoryThreatFeed,
				Outcome:    signal.OutcomeSuccess,
				Detail:     map[string]any{signal.DetailThreatFound: false},
			}
		},
	}
	o := newTestOrchestrator(t, Deps{Tier3: []adapters.Adapter{feed}})

	_, err := o.Scan(context.Background(), "https://example.com",
		signal.Options{DeepScan: true, ThreatIntel: false})
	require.NoError(t, err)
	assert.Equal(t, int64(0), feedCalls.Load())

	_, err = o.Scan(context.Background(), "https://example.com",
		signal.Options{DeepScan: true, ThreatIntel: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), feedCalls.Load())
}

type recordingSink struct {
	mu   sync.Mutex
	got  []risk.Verdict
	done chan struct{}
}

func (s *recordingSink) Store(_ context.Context, v risk.Verdict) error {
	s.mu.Lock()
	s.got = append(s.got, v)
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return nil
}

func TestScanPersistsToSink(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{}, 1)}
	o := newTestOrchestrator(t, Deps{
		Tier1: []adapters.Adapter{reachableAdapter(200)},
		Sink:  sink,
	})

	v, err := o.Scan(context.Background(), "https://example.com", signal.Options{})
	require.NoError(t, err)

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.got, 1)
	assert.Equal(t, v.ScanID, sink.got[0].ScanID)
}

func TestBatchScan(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	gauged := &fakeAdapter{
		name: signal.SourceHTTPQuick,
		cat:  signal.CategoryReachability,
		fn: func(context.Context, validation.Target) signal.Result {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return signal.Result{
				SourceName: signal.SourceHTTPQuick,
				Category:   signal.CategoryReachability,
				Outcome:    signal.OutcomeSuccess,
				Detail:     map[string]any{signal.DetailStatusCode: 200},
			}
		},
	}
	o, err := NewOrchestrator(Config{MaxConcurrentScans: 2}, Deps{
		Tier1:      []adapters.Adapter{gauged},
		Cache:      cache.New(&cache.Config{Logger: testLogger()}),
		Calculator: risk.NewCalculator(testLogger()),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	targets := []string{
		"https://a.example.com",
		"https://b.example.com",
		"https://c.example.com",
		"", // invalid
		"https://d.example.com",
	}
	out := o.BatchScan(context.Background(), targets, signal.Options{})

	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 4, out.Successful)
	assert.Equal(t, 1, out.Failed)
	assert.InDelta(t, 0.8, out.SuccessRate, 0.001)
	assert.Equal(t, out.TotalTime/5, out.AvgTime)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(2))

	require.Len(t, out.Items, 5)
	assert.Equal(t, "https://a.example.com", out.Items[0].Target)
	require.NotNil(t, out.Items[0].Verdict)
	assert.Nil(t, out.Items[3].Verdict)
	assert.NotEmpty(t, out.Items[3].Error)
}

func TestHealthSnapshot(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Tier1: []adapters.Adapter{reachableAdapter(200)}})

	snap := o.HealthSnapshot()
	_, ok := snap["cache"]
	assert.True(t, ok)
}
