// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scansTotal counts completed scans by risk level and cache state.
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viralsafe_scans_total",
		Help: "Completed scans by risk level and cache state",
	}, []string{"risk_level", "cache"})

	// scanDuration tracks end-to-end scan latency.
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viralsafe_scan_duration_seconds",
		Help:    "End-to-end scan duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// sourceOutcomes counts per-source results by outcome.
	sourceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viralsafe_signal_source_outcomes_total",
		Help: "Signal source executions by source and outcome",
	}, []string{"source", "outcome"})

	// scanErrors counts scans rejected before the pipeline ran.
	scanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viralsafe_scan_errors_total",
		Help: "Scans rejected by error type",
	}, []string{"error_type"})
)
