// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/viralsafe/services/scanner/adapters"
	"github.com/AleutianAI/viralsafe/services/scanner/cache"
	"github.com/AleutianAI/viralsafe/services/scanner/config"
	"github.com/AleutianAI/viralsafe/services/scanner/health"
	"github.com/AleutianAI/viralsafe/services/scanner/llm"
	"github.com/AleutianAI/viralsafe/services/scanner/ratelimit"
	"github.com/AleutianAI/viralsafe/services/scanner/risk"
	"github.com/AleutianAI/viralsafe/services/scanner/scan"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
	"github.com/AleutianAI/viralsafe/services/scanner/storage"
)

// buildScanner wires the full pipeline from configuration. The
// returned cleanup closes the verdict store when one was opened.
func buildScanner(cfg config.Config, log *slog.Logger) (*scan.Orchestrator, func(), error) {
	tracker := health.NewTracker(log)

	limits := make(map[string]ratelimit.Config, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		limits[name] = ratelimit.Config{
			Limit:   rl.Limit,
			Window:  rl.Window.Std(),
			Buffer:  time.Second,
			MaxWait: rl.MaxWait.Std(),
			Logger:  log,
		}
	}
	fallback := ratelimit.DefaultConfig()
	fallback.Logger = log
	registry := ratelimit.NewRegistry(fallback, limits)

	providers := buildProviders(cfg, log)

	patterns, err := adapters.NewPatternDB(log)
	if err != nil {
		return nil, nil, fmt.Errorf("build pattern database: %w", err)
	}

	deps := scan.Deps{
		Tier1: []adapters.Adapter{
			adapters.NewReachability(nil, log),
		},
		Tier2: []adapters.Adapter{
			adapters.NewSecurityHeaders(nil, log),
			adapters.NewContentHeuristics(nil, log),
		},
		Tier3: []adapters.Adapter{
			patterns,
			adapters.NewTLDAnalysis(log),
			adapters.NewURLStructure(log),
			adapters.NewURLHaus(nil, cfg.Feeds.URLHausEndpoint,
				registry.For(signal.SourceURLHaus), tracker, log),
			adapters.NewVirusTotal(nil, cfg.Feeds.VirusTotalEndpoint,
				cfg.VirusTotalAPIKey, registry.For(signal.SourceVirusTotal), tracker, log),
		},
		Providers: providers,
		Cache: cache.New(&cache.Config{
			TTL:        cfg.Cache.TTL.Std(),
			MaxEntries: cfg.Cache.MaxEntries,
			Logger:     log,
		}),
		Calculator: risk.NewCalculator(log),
		Tracker:    tracker,
		Logger:     log,
	}

	cleanup := func() {}
	if cfg.Storage.Enabled {
		store, err := storage.Open(storage.Config{
			Path:           cfg.Storage.Path,
			SyncWrites:     true,
			Retention:      cfg.Storage.Retention.Std(),
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
			Logger:         log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open verdict store: %w", err)
		}
		deps.Sink = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.Warn("verdict store close failed", "error", err)
			}
		}
	}

	o, err := scan.NewOrchestrator(scan.Config{
		Tier1Deadline:      cfg.Scan.Tier1Deadline.Std(),
		Tier2Deadline:      cfg.Scan.Tier2Deadline.Std(),
		Tier3Deadline:      cfg.Scan.Tier3Deadline.Std(),
		MaxConcurrentScans: cfg.Scan.MaxConcurrentScans,
	}, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return o, cleanup, nil
}

// buildProviders instantiates every AI provider that is enabled and
// has its credentials present. A provider that fails to construct is
// logged and skipped; the ensemble degrades rather than aborting.
func buildProviders(cfg config.Config, log *slog.Logger) []llm.Client {
	var providers []llm.Client

	if p := cfg.Providers.Groq; p.Enabled && cfg.GroqAPIKey != "" {
		c, err := llm.NewGroqClient(llm.ProviderConfig{
			APIKey:  cfg.GroqAPIKey,
			Model:   p.Model,
			BaseURL: p.BaseURL,
			Weight:  p.Weight,
			Timeout: p.Timeout.Std(),
		}, log)
		if err != nil {
			log.Warn("groq provider disabled", "error", err)
		} else {
			providers = append(providers, c)
		}
	}
	if p := cfg.Providers.OpenAI; p.Enabled && cfg.OpenAIAPIKey != "" {
		c, err := llm.NewOpenAIClient(llm.ProviderConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   p.Model,
			BaseURL: p.BaseURL,
			Weight:  p.Weight,
			Timeout: p.Timeout.Std(),
		}, log)
		if err != nil {
			log.Warn("openai provider disabled", "error", err)
		} else {
			providers = append(providers, c)
		}
	}
	if p := cfg.Providers.Ollama; p.Enabled && p.BaseURL != "" {
		c, err := llm.NewOllamaClient(llm.ProviderConfig{
			Model:   p.Model,
			BaseURL: p.BaseURL,
			Weight:  p.Weight,
			Timeout: p.Timeout.Std(),
		}, log)
		if err != nil {
			log.Warn("ollama provider disabled", "error", err)
		} else {
			providers = append(providers, c)
		}
	}

	if len(providers) == 0 {
		log.Info("no AI providers configured, scans run without the ensemble")
	}
	return providers
}
