// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// suspiciousKeywords are phrases common in phishing and scam lures.
// Matching is case-insensitive; each keyword counts once per target.
var suspiciousKeywords = []string{
	"verify your account",
	"account suspended",
	"confirm your identity",
	"unusual activity",
	"urgent action required",
	"click here immediately",
	"limited time offer",
	"you have won",
	"claim your prize",
	"wire transfer",
	"bitcoin wallet",
	"gift card",
	"social security number",
	"enter your password",
	"update payment information",
	"your package is waiting",
	"final notice",
	"act now",
}

// ContentHeuristics inspects what the target actually serves or says.
//
// Description:
//
//	For URL targets, fetches up to maxFetchBytes of the page body and
//	scans it for phishing keywords, forms, and iframes. For text
//	targets, the pasted payload itself is analyzed with the same
//	keyword list. The score is 100 minus 10 per matched keyword,
//	floored at 0.
//
// Thread Safety: safe for concurrent use.
type ContentHeuristics struct {
	client *http.Client
	log    *slog.Logger
}

// NewContentHeuristics creates the content analyzer.
func NewContentHeuristics(client *http.Client, log *slog.Logger) *ContentHeuristics {
	if client == nil {
		client = newProbeClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &ContentHeuristics{client: client, log: log}
}

// Name implements Adapter.
func (c *ContentHeuristics) Name() string { return signal.SourceContentLite }

// Category implements Adapter.
func (c *ContentHeuristics) Category() signal.Category { return signal.CategoryContent }

// AppliesTo implements Adapter.
func (c *ContentHeuristics) AppliesTo(validation.TargetKind) bool { return true }

// Execute implements Adapter.
func (c *ContentHeuristics) Execute(ctx context.Context, target validation.Target) signal.Result {
	start := time.Now()

	var body string
	if target.Kind == validation.KindText {
		body = target.Normalized
	} else {
		fetched, result, ok := c.fetch(ctx, target, start)
		if !ok {
			return result
		}
		body = fetched
	}
	elapsed := time.Since(start)

	lower := strings.ToLower(body)
	keywordCount := 0
	matched := make([]string, 0, 4)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			keywordCount++
			if len(matched) < 5 {
				matched = append(matched, kw)
			}
		}
	}

	hasForms := strings.Contains(lower, "<form")
	hasIframes := strings.Contains(lower, "<iframe")

	score := 100 - 10*keywordCount
	if score < 0 {
		score = 0
	}

	return signal.Result{
		SourceName: c.Name(),
		Category:   c.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(score),
		Detail: map[string]any{
			signal.DetailKeywordCount: keywordCount,
			signal.DetailHasForms:     hasForms,
			signal.DetailHasIframes:   hasIframes,
			signal.DetailContentSize:  len(body),
			"matched_keywords":        matched,
		},
		Elapsed: elapsed,
	}
}

// fetch downloads a bounded portion of the page body. The bool is
// false when the fetch failed, with the failure Result to return.
func (c *ContentHeuristics) fetch(ctx context.Context, target validation.Target, start time.Time) (string, signal.Result, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Normalized, nil)
	if err != nil {
		return "", signal.Failure(c.Name(), c.Category(), err.Error(), time.Since(start)), false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", outcomeFor(ctx, c.Name(), c.Category(), err, time.Since(start)), false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", outcomeFor(ctx, c.Name(), c.Category(), err, time.Since(start)), false
	}
	return string(data), signal.Result{}, true
}
