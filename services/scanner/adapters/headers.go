// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// scoredHeaders lists the response headers that count toward the
// security-headers score, 25 points each.
var scoredHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
}

// SecurityHeaders scores the target's HTTP security posture.
//
// Description:
//
//	Fetches the target's response headers and awards 25 points for
//	each of HSTS, CSP, X-Frame-Options, and X-Content-Type-Options.
//	The Result score is therefore 0, 25, 50, 75 or 100.
//
// Thread Safety: safe for concurrent use.
type SecurityHeaders struct {
	client *http.Client
	log    *slog.Logger
}

// NewSecurityHeaders creates the headers probe.
func NewSecurityHeaders(client *http.Client, log *slog.Logger) *SecurityHeaders {
	if client == nil {
		client = newProbeClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SecurityHeaders{client: client, log: log}
}

// Name implements Adapter.
func (s *SecurityHeaders) Name() string { return signal.SourceSecurityHeaders }

// Category implements Adapter.
func (s *SecurityHeaders) Category() signal.Category { return signal.CategoryHeaders }

// AppliesTo implements Adapter.
func (s *SecurityHeaders) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (s *SecurityHeaders) Execute(ctx context.Context, target validation.Target) signal.Result {
	if target.Kind != validation.KindURL {
		return signal.Failure(s.Name(), s.Category(), "not applicable to text targets", 0)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Normalized, nil)
	if err != nil {
		return signal.Failure(s.Name(), s.Category(), err.Error(), time.Since(start))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return outcomeFor(ctx, s.Name(), s.Category(), err, elapsed)
	}
	resp.Body.Close()

	score := 0
	present := make([]string, 0, len(scoredHeaders))
	for _, h := range scoredHeaders {
		if resp.Header.Get(h) != "" {
			score += 25
			present = append(present, h)
		}
	}

	return signal.Result{
		SourceName: s.Name(),
		Category:   s.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(score),
		Detail: map[string]any{
			signal.DetailHeadersPresent: present,
			signal.DetailHasHSTS:        resp.Header.Get("Strict-Transport-Security") != "",
			signal.DetailHasCSP:         resp.Header.Get("Content-Security-Policy") != "",
		},
		Elapsed: elapsed,
	}
}
