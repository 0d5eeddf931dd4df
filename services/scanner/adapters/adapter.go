// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adapters implements the individual signal sources the scan
// pipeline fans out to: HTTP probes, content heuristics, the local
// pattern database, domain analysis, and external threat feeds.
//
// Adapters never panic and never return Go errors to the caller;
// every failure mode is folded into the signal.Result so one broken
// source cannot take down a scan.
package adapters

import (
	"context"
	"net/http"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// Adapter is a single signal source.
//
// Thread Safety: implementations must be safe for concurrent use.
type Adapter interface {
	// Name returns the canonical source name (signal.Source*).
	Name() string

	// Category returns the signal category this adapter feeds.
	Category() signal.Category

	// AppliesTo reports whether this source can analyze the given
	// target kind. The orchestrator omits inapplicable sources from a
	// scan rather than running them into guaranteed failures; a text
	// payload has no host to probe and must not be scored as if an
	// HTTP check had failed.
	AppliesTo(kind validation.TargetKind) bool

	// Execute collects the signal for one target. The context
	// deadline is the adapter's whole budget; implementations return
	// a timeout Result rather than an error when it expires.
	Execute(ctx context.Context, target validation.Target) signal.Result
}

// userAgent identifies scan probes to remote servers.
const userAgent = "viralsafe-scanner/1.0"

// maxFetchBytes bounds how much of a response body adapters read.
const maxFetchBytes = 256 * 1024

// newProbeClient builds the HTTP client adapters share. Redirects
// are followed up to the default limit; the per-request context
// carries the deadline so the client itself has no timeout.
func newProbeClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        32,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// outcomeFor folds a request error into the right Outcome.
func outcomeFor(ctx context.Context, name string, cat signal.Category, err error, elapsed time.Duration) signal.Result {
	if ctx.Err() == context.DeadlineExceeded {
		return signal.Timeout(name, cat, elapsed)
	}
	return signal.Failure(name, cat, err.Error(), elapsed)
}
