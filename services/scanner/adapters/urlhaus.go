// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/health"
	"github.com/AleutianAI/viralsafe/services/scanner/ratelimit"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

const defaultURLHausEndpoint = "https://urlhaus-api.abuse.ch/v1/url/"

// urlhausResponse is the subset of the feed's reply we consume.
type urlhausResponse struct {
	QueryStatus string   `json:"query_status"`
	URLStatus   string   `json:"url_status"`
	Threat      string   `json:"threat"`
	Tags        []string `json:"tags"`
}

// URLHaus checks the target against the abuse.ch URLhaus feed.
//
// Description:
//
//	Looks the exact URL up in the feed. A listing is strong evidence
//	of active malware distribution. Lookups go through the shared
//	rate limiter and report into the health tracker; when the feed
//	is down the adapter degrades to a failure Result.
//
// Thread Safety: safe for concurrent use.
type URLHaus struct {
	client   *http.Client
	endpoint string
	limiter  *ratelimit.Limiter
	tracker  *health.Tracker
	log      *slog.Logger
}

// NewURLHaus creates the feed adapter.
//
// Inputs:
//   - client: HTTP client; nil gets the shared probe client.
//   - endpoint: feed URL; empty uses the public endpoint.
//   - limiter: shared quota gate; nil disables rate limiting.
//   - tracker: health tracker; nil disables health reporting.
//   - log: structured logger; nil falls back to slog.Default().
func NewURLHaus(client *http.Client, endpoint string, limiter *ratelimit.Limiter, tracker *health.Tracker, log *slog.Logger) *URLHaus {
	if client == nil {
		client = newProbeClient()
	}
	if endpoint == "" {
		endpoint = defaultURLHausEndpoint
	}
	if log == nil {
		log = slog.Default()
	}
	if tracker != nil {
		tracker.Register(signal.SourceURLHaus)
	}
	return &URLHaus{
		client:   client,
		endpoint: endpoint,
		limiter:  limiter,
		tracker:  tracker,
		log:      log,
	}
}

// Name implements Adapter.
func (h *URLHaus) Name() string { return signal.SourceURLHaus }

// Category implements Adapter.
func (h *URLHaus) Category() signal.Category { return signal.CategoryThreatFeed }

// AppliesTo implements Adapter.
func (h *URLHaus) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (h *URLHaus) Execute(ctx context.Context, target validation.Target) signal.Result {
	if target.Kind != validation.KindURL {
		return signal.Failure(h.Name(), h.Category(), "not applicable to text targets", 0)
	}

	start := time.Now()
	if h.limiter != nil {
		if err := h.limiter.Acquire(ctx); err != nil {
			return h.failure(ctx, fmt.Errorf("rate limit: %w", err), time.Since(start))
		}
	}

	form := url.Values{"url": {target.Normalized}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return h.failure(ctx, err, time.Since(start))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return h.failure(ctx, err, time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return h.failure(ctx, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, snippet), time.Since(start))
	}

	var body urlhausResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return h.failure(ctx, fmt.Errorf("decode feed response: %w", err), time.Since(start))
	}
	elapsed := time.Since(start)

	if h.tracker != nil {
		h.tracker.ReportSuccess(signal.SourceURLHaus)
	}

	found := body.QueryStatus == "ok"
	detail := map[string]any{
		signal.DetailThreatFound: found,
	}
	if found {
		detail[signal.DetailThreatType] = body.Threat
		detail["url_status"] = body.URLStatus
		h.log.Info("target listed in threat feed",
			"host", target.Host, "threat", body.Threat)
	}

	return signal.Result{
		SourceName: h.Name(),
		Category:   h.Category(),
		Outcome:    signal.OutcomeSuccess,
		Detail:     detail,
		Elapsed:    elapsed,
	}
}

func (h *URLHaus) failure(ctx context.Context, err error, elapsed time.Duration) signal.Result {
	if h.tracker != nil {
		h.tracker.ReportFailure(signal.SourceURLHaus, err.Error())
	}
	return outcomeFor(ctx, h.Name(), h.Category(), err, elapsed)
}
