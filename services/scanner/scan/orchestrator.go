// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scan runs the tiered signal pipeline and produces verdicts.
//
// A scan walks up to three tiers, each with its own deadline: tier 1
// answers "is it up and what does AI think", tier 2 inspects what the
// target serves, and tier 3 runs the deep checks against pattern and
// reputation sources. Within a tier all sources run concurrently; a
// source that overruns the tier deadline is abandoned and recorded as
// a timeout, never awaited.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/adapters"
	"github.com/AleutianAI/viralsafe/services/scanner/cache"
	"github.com/AleutianAI/viralsafe/services/scanner/ensemble"
	"github.com/AleutianAI/viralsafe/services/scanner/health"
	"github.com/AleutianAI/viralsafe/services/scanner/llm"
	"github.com/AleutianAI/viralsafe/services/scanner/risk"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

var tracer = otel.Tracer("viralsafe.scanner.scan")

// Sink receives completed verdicts for persistence. Stores happen
// off the request path; a failing sink never fails a scan.
type Sink interface {
	Store(ctx context.Context, v risk.Verdict) error
}

// Config tunes the orchestrator.
type Config struct {
	// Tier1Deadline bounds the reachability and AI tier.
	// Default: 2 seconds.
	Tier1Deadline time.Duration

	// Tier2Deadline bounds the content tier. Default: 3 seconds.
	Tier2Deadline time.Duration

	// Tier3Deadline bounds the deep-scan tier. Default: 5 seconds.
	Tier3Deadline time.Duration

	// SinkTimeout bounds the fire-and-forget verdict store.
	// Default: 5 seconds.
	SinkTimeout time.Duration

	// MaxConcurrentScans bounds BatchScan parallelism. Default: 5.
	MaxConcurrentScans int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Tier1Deadline:      2 * time.Second,
		Tier2Deadline:      3 * time.Second,
		Tier3Deadline:      5 * time.Second,
		SinkTimeout:        5 * time.Second,
		MaxConcurrentScans: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Tier1Deadline <= 0 || c.Tier2Deadline <= 0 || c.Tier3Deadline <= 0 {
		return errors.New("tier deadlines must be positive")
	}
	if c.MaxConcurrentScans <= 0 {
		return errors.New("max concurrent scans must be positive")
	}
	return nil
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	// Tier1 runs under the tier-1 deadline alongside AI.
	Tier1 []adapters.Adapter

	// Tier2 runs when tier 1 finishes.
	Tier2 []adapters.Adapter

	// Tier3 runs only when Options.DeepScan is set.
	Tier3 []adapters.Adapter

	// Providers are the AI clients feeding the ensemble.
	Providers []llm.Client

	// Cache holds prior verdicts. Required.
	Cache *cache.VerdictCache

	// Calculator folds signals into verdicts. Required.
	Calculator *risk.Calculator

	// Tracker records dependency health. Optional.
	Tracker *health.Tracker

	// Sink persists verdicts. Optional.
	Sink Sink

	// Logger for structured output. Optional.
	Logger *slog.Logger
}

// Orchestrator coordinates one scan end to end.
//
// Thread Safety: safe for concurrent use.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// NewOrchestrator builds an orchestrator.
//
// Inputs:
//   - cfg: tuning; zero fields take defaults via DefaultConfig.
//   - deps: collaborators; Cache and Calculator are required.
//
// Outputs:
//   - *Orchestrator: ready to scan.
//   - error: non-nil when cfg or deps are unusable.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	def := DefaultConfig()
	if cfg.Tier1Deadline <= 0 {
		cfg.Tier1Deadline = def.Tier1Deadline
	}
	if cfg.Tier2Deadline <= 0 {
		cfg.Tier2Deadline = def.Tier2Deadline
	}
	if cfg.Tier3Deadline <= 0 {
		cfg.Tier3Deadline = def.Tier3Deadline
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = def.MaxConcurrentScans
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	if deps.Cache == nil {
		return nil, errors.New("scan: cache is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("scan: risk calculator is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// Scan analyzes one target and returns its verdict.
//
// Description:
//
//	Validates and normalizes the target, consults the verdict cache,
//	then fans out through the tiers. The only error this returns is
//	target rejection; degraded upstreams produce a verdict with
//	reduced confidence instead of an error.
//
// Inputs:
//   - ctx: cancellation for the whole scan.
//   - raw: the URL or text to analyze.
//   - opts: scan options; the zero value disables every optional
//     stage, use signal.DefaultOptions for the standard profile.
//
// Outputs:
//   - risk.Verdict: the composite verdict.
//   - error: non-nil only when the target is invalid.
func (o *Orchestrator) Scan(ctx context.Context, raw string, opts signal.Options) (risk.Verdict, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Orchestrator.Scan")
	defer span.End()

	target, err := validation.ValidateTarget(raw)
	if err != nil {
		scanErrors.WithLabelValues("invalid_target").Inc()
		return risk.Verdict{}, fmt.Errorf("validate target: %w", err)
	}
	span.SetAttributes(
		attribute.String("scan.target_kind", string(target.Kind)),
		attribute.String("scan.host", target.Host),
	)

	key := signal.CacheKey(target.Normalized, opts)
	if opts.CacheEnabled {
		if v, ok := o.deps.Cache.Get(ctx, key); ok {
			v.CacheHit = true
			v.Elapsed = time.Since(start)
			scansTotal.WithLabelValues(string(v.RiskLevel), "hit").Inc()
			o.log.Debug("verdict served from cache",
				"scan_id", v.ScanID, "host", target.Host)
			return v, nil
		}
	}

	var results []signal.Result

	// Tier 1: reachability plus AI classification, concurrently.
	var aiResult *ensemble.Result
	aiAttempted := false
	tier1Done := make(chan struct{})
	if opts.AIEnsemble && len(o.deps.Providers) > 0 {
		aiAttempted = true
		go func() {
			defer close(tier1Done)
			aiResult = o.runEnsemble(ctx, target)
		}()
	} else {
		close(tier1Done)
	}
	results = append(results, o.runTier(ctx, target, o.deps.Tier1, o.cfg.Tier1Deadline)...)
	<-tier1Done

	// Tier 2: what the target serves.
	results = append(results, o.runTier(ctx, target, o.deps.Tier2, o.cfg.Tier2Deadline)...)

	// Tier 3: deep checks, only when asked for.
	if opts.DeepScan {
		tier3 := o.deps.Tier3
		if !opts.ThreatIntel {
			tier3 = withoutQuotaSources(tier3)
		}
		results = append(results, o.runTier(ctx, target, tier3, o.cfg.Tier3Deadline)...)
	}

	for _, r := range results {
		sourceOutcomes.WithLabelValues(r.SourceName, string(r.Outcome)).Inc()
	}

	v := o.deps.Calculator.Evaluate(results, aiResult, aiAttempted)
	v.ScanID = uuid.NewString()
	v.Target = target.Normalized
	v.ScannedAt = start.UTC()
	v.Elapsed = time.Since(start)

	if opts.CacheEnabled {
		o.deps.Cache.Put(ctx, key, v)
	}
	o.persist(v)

	scansTotal.WithLabelValues(string(v.RiskLevel), "miss").Inc()
	scanDuration.Observe(v.Elapsed.Seconds())
	o.log.Info("scan complete",
		"scan_id", v.ScanID,
		"host", target.Host,
		"score", v.FinalScore,
		"risk_level", v.RiskLevel,
		"fallback", v.Fallback,
		"elapsed_ms", v.Elapsed.Milliseconds(),
	)
	return v, nil
}

// runTier executes one tier's adapters concurrently under the tier
// deadline. Sources that do not apply to the target kind are omitted
// entirely, so a text payload is never scored against failed HTTP
// probes. Sources still running at the deadline are abandoned and
// reported as timeouts; a panicking adapter becomes a failure Result.
func (o *Orchestrator) runTier(ctx context.Context, target validation.Target, tier []adapters.Adapter, deadline time.Duration) []signal.Result {
	applicable := make([]adapters.Adapter, 0, len(tier))
	for _, a := range tier {
		if a.AppliesTo(target.Kind) {
			applicable = append(applicable, a)
		}
	}
	tier = applicable
	if len(tier) == 0 {
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type item struct {
		idx int
		res signal.Result
	}
	ch := make(chan item, len(tier))
	for i, a := range tier {
		go func(i int, a adapters.Adapter) {
			defer func() {
				if r := recover(); r != nil {
					o.log.Error("signal source panicked",
						"source", a.Name(), "panic", r)
					ch <- item{i, signal.Failure(a.Name(), a.Category(),
						fmt.Sprintf("panic: %v", r), 0)}
				}
			}()
			ch <- item{i, a.Execute(tctx, target)}
		}(i, a)
	}

	results := make([]signal.Result, len(tier))
	seen := make([]bool, len(tier))
	for collected := 0; collected < len(tier); collected++ {
		select {
		case it := <-ch:
			results[it.idx] = it.res
			seen[it.idx] = true
		case <-tctx.Done():
			for i, a := range tier {
				if !seen[i] {
					results[i] = signal.Timeout(a.Name(), a.Category(), deadline)
				}
			}
			return results
		}
	}
	return results
}

// runEnsemble queries every AI provider concurrently and combines
// the survivors. Returns nil when no provider succeeded.
func (o *Orchestrator) runEnsemble(ctx context.Context, target validation.Target) *ensemble.Result {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Tier1Deadline)
	defer cancel()

	providers := o.deps.Providers
	votes := make([]ensemble.ProviderResult, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			vote := ensemble.ProviderResult{Provider: p.Name(), Weight: p.Weight()}
			cls, err := p.Classify(ctx, target.Normalized, target.Kind == validation.KindURL)
			if err != nil {
				o.log.Debug("AI provider unavailable", "provider", p.Name(), "error", err)
				if o.deps.Tracker != nil {
					o.deps.Tracker.ReportFailure("ai_"+p.Name(), err.Error())
				}
			} else {
				vote.Succeeded = true
				vote.ThreatScore = cls.ThreatScore
				vote.Confidence = cls.Confidence
				vote.Category = cls.Category
				vote.Threats = cls.Threats
				if o.deps.Tracker != nil {
					o.deps.Tracker.ReportSuccess("ai_" + p.Name())
				}
			}
			votes[i] = vote
			return nil
		})
	}
	g.Wait()

	combined, ok := ensemble.Combine(votes)
	if !ok {
		return nil
	}
	return combined
}

// persist hands the verdict to the sink without blocking the scan.
func (o *Orchestrator) persist(v risk.Verdict) {
	if o.deps.Sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SinkTimeout)
		defer cancel()
		if err := o.deps.Sink.Store(ctx, v); err != nil {
			o.log.Warn("verdict store failed", "scan_id", v.ScanID, "error", err)
		}
	}()
}

// HealthSnapshot reports dependency health and cache counters. The
// snapshot reads recorded state only; it never probes the network.
func (o *Orchestrator) HealthSnapshot() map[string]any {
	snap := map[string]any{
		"cache": o.deps.Cache.Stats(),
	}
	if o.deps.Tracker != nil {
		snap["dependencies"] = o.deps.Tracker.Snapshot()
	}
	return snap
}

// withoutQuotaSources drops the external feed adapters from a tier.
func withoutQuotaSources(tier []adapters.Adapter) []adapters.Adapter {
	kept := make([]adapters.Adapter, 0, len(tier))
	for _, a := range tier {
		switch a.Name() {
		case signal.SourceURLHaus, signal.SourceVirusTotal:
			continue
		}
		kept = append(kept, a)
	}
	return kept
}
