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
	"strings"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// Reachability probes whether the target answers HTTP at all.
//
// Description:
//
//	Issues a HEAD request (falling back to GET when the server
//	rejects HEAD) and records the status code, latency, and whether
//	the connection was TLS. Text targets are skipped: reachability
//	is a URL-only signal.
//
// Thread Safety: safe for concurrent use.
type Reachability struct {
	client *http.Client
	log    *slog.Logger
}

// NewReachability creates the reachability probe.
//
// Inputs:
//   - client: HTTP client; nil gets the shared probe client.
//   - log: structured logger; nil falls back to slog.Default().
func NewReachability(client *http.Client, log *slog.Logger) *Reachability {
	if client == nil {
		client = newProbeClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reachability{client: client, log: log}
}

// Name implements Adapter.
func (r *Reachability) Name() string { return signal.SourceHTTPQuick }

// Category implements Adapter.
func (r *Reachability) Category() signal.Category { return signal.CategoryReachability }

// AppliesTo implements Adapter.
func (r *Reachability) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (r *Reachability) Execute(ctx context.Context, target validation.Target) signal.Result {
	if target.Kind != validation.KindURL {
		return signal.Failure(r.Name(), r.Category(), "not applicable to text targets", 0)
	}

	start := time.Now()
	resp, err := r.probe(ctx, http.MethodHead, target.Normalized)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = r.probe(ctx, http.MethodGet, target.Normalized)
	}
	elapsed := time.Since(start)

	if err != nil {
		r.log.Debug("reachability probe failed", "target", target.Host, "error", err)
		return outcomeFor(ctx, r.Name(), r.Category(), err, elapsed)
	}
	defer resp.Body.Close()

	return signal.Result{
		SourceName: r.Name(),
		Category:   r.Category(),
		Outcome:    signal.OutcomeSuccess,
		Detail: map[string]any{
			signal.DetailStatusCode:     resp.StatusCode,
			signal.DetailResponseTimeMS: elapsed.Milliseconds(),
			signal.DetailSSLEnabled:     strings.HasPrefix(target.Normalized, "https://"),
			"server":                    resp.Header.Get("Server"),
			"content_type":              resp.Header.Get("Content-Type"),
		},
		Elapsed: elapsed,
	}
}

func (r *Reachability) probe(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return r.client.Do(req)
}
