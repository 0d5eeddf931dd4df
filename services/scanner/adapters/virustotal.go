// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/health"
	"github.com/AleutianAI/viralsafe/services/scanner/ratelimit"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

const defaultVirusTotalEndpoint = "https://www.virustotal.com/api/v3"

// vtAnalysisStats is the engine tally from a URL report.
type vtAnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

type vtURLReport struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats vtAnalysisStats `json:"last_analysis_stats"`
			Reputation        int             `json:"reputation"`
		} `json:"attributes"`
	} `json:"data"`
}

// VirusTotal queries engine-consensus reputation for a URL.
//
// Description:
//
//	Uses the v3 URL-report endpoint, which identifies a URL by the
//	unpadded base64 of its text. The service rations free keys to a
//	few requests per minute, so every call goes through the shared
//	sliding-window limiter; a 404 means the URL was never scanned
//	upstream, which is reported as success with no score rather than
//	as a failure.
//
// Thread Safety: safe for concurrent use.
type VirusTotal struct {
	client   *http.Client
	endpoint string
	apiKey   string
	limiter  *ratelimit.Limiter
	tracker  *health.Tracker
	log      *slog.Logger
}

// NewVirusTotal creates the reputation adapter.
//
// Inputs:
//   - client: HTTP client; nil gets the shared probe client.
//   - endpoint: API base; empty uses the public endpoint.
//   - apiKey: API key; empty marks the source not configured.
//   - limiter: shared quota gate; nil disables rate limiting.
//   - tracker: health tracker; nil disables health reporting.
//   - log: structured logger; nil falls back to slog.Default().
func NewVirusTotal(client *http.Client, endpoint, apiKey string, limiter *ratelimit.Limiter, tracker *health.Tracker, log *slog.Logger) *VirusTotal {
	if client == nil {
		client = newProbeClient()
	}
	if endpoint == "" {
		endpoint = defaultVirusTotalEndpoint
	}
	if log == nil {
		log = slog.Default()
	}
	if tracker != nil {
		if apiKey == "" {
			tracker.MarkNotConfigured(signal.SourceVirusTotal)
		} else {
			tracker.Register(signal.SourceVirusTotal)
		}
	}
	return &VirusTotal{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		limiter:  limiter,
		tracker:  tracker,
		log:      log,
	}
}

// Name implements Adapter.
func (v *VirusTotal) Name() string { return signal.SourceVirusTotal }

// Category implements Adapter.
func (v *VirusTotal) Category() signal.Category { return signal.CategoryReputation }

// AppliesTo implements Adapter.
func (v *VirusTotal) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (v *VirusTotal) Execute(ctx context.Context, target validation.Target) signal.Result {
	if target.Kind != validation.KindURL {
		return signal.Failure(v.Name(), v.Category(), "not applicable to text targets", 0)
	}
	if v.apiKey == "" {
		return signal.Failure(v.Name(), v.Category(), "API key not configured", 0)
	}

	start := time.Now()
	if v.limiter != nil {
		if err := v.limiter.Acquire(ctx); err != nil {
			return v.failure(ctx, fmt.Errorf("rate limit: %w", err), time.Since(start))
		}
	}

	urlID := base64.RawURLEncoding.EncodeToString([]byte(target.Normalized))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.endpoint+"/urls/"+urlID, nil)
	if err != nil {
		return v.failure(ctx, err, time.Since(start))
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return v.failure(ctx, err, time.Since(start))
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to decode.
	case http.StatusNotFound:
		// Unknown URL: not evidence of anything.
		if v.tracker != nil {
			v.tracker.ReportSuccess(signal.SourceVirusTotal)
		}
		return signal.Result{
			SourceName: v.Name(),
			Category:   v.Category(),
			Outcome:    signal.OutcomeSuccess,
			Detail:     map[string]any{"known": false},
			Elapsed:    elapsed,
		}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return v.failure(ctx, fmt.Errorf("reputation API returned status %d: %s", resp.StatusCode, snippet), elapsed)
	}

	var report vtURLReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return v.failure(ctx, fmt.Errorf("decode reputation report: %w", err), elapsed)
	}

	if v.tracker != nil {
		v.tracker.ReportSuccess(signal.SourceVirusTotal)
	}

	stats := report.Data.Attributes.LastAnalysisStats
	total := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected
	ratio := 0.0
	if total > 0 {
		ratio = (float64(stats.Malicious) + 0.5*float64(stats.Suspicious)) / float64(total)
	}

	return signal.Result{
		SourceName: v.Name(),
		Category:   v.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(int(ratio * 100)),
		Detail: map[string]any{
			"known":                   true,
			signal.DetailRiskRatio:    ratio,
			signal.DetailMalicious:    stats.Malicious,
			signal.DetailSuspicious:   stats.Suspicious,
			signal.DetailTotalEngines: total,
		},
		Elapsed: elapsed,
	}
}

func (v *VirusTotal) failure(ctx context.Context, err error, elapsed time.Duration) signal.Result {
	if v.tracker != nil {
		v.tracker.ReportFailure(signal.SourceVirusTotal, err.Error())
	}
	return outcomeFor(ctx, v.Name(), v.Category(), err, elapsed)
}
