// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/viralsafe/services/scanner/risk"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// BatchItem is one target's outcome within a batch.
type BatchItem struct {
	// Target is the raw input as submitted.
	Target string `json:"target"`

	// Verdict is set when the scan completed.
	Verdict *risk.Verdict `json:"verdict,omitempty"`

	// Error is set when the target was rejected.
	Error string `json:"error,omitempty"`
}

// BatchResult aggregates a batch scan.
type BatchResult struct {
	Items       []BatchItem   `json:"items"`
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	TotalTime   time.Duration `json:"total_time"`
	AvgTime     time.Duration `json:"avg_time_per_target"`
}

// BatchScan scans multiple targets with bounded parallelism.
//
// Description:
//
//	At most MaxConcurrentScans targets are in flight at once, gated
//	by a counting semaphore. Item order matches input order. A
//	rejected target records its error in the item and counts as
//	failed; it does not abort the rest of the batch. Context
//	cancellation stops launching new scans.
//
// Inputs:
//   - ctx: cancellation for the whole batch.
//   - targets: raw URLs or text payloads.
//   - opts: scan options applied to every target.
//
// Outputs:
//   - BatchResult: per-item outcomes plus aggregate counters.
func (o *Orchestrator) BatchScan(ctx context.Context, targets []string, opts signal.Options) BatchResult {
	start := time.Now()
	items := make([]BatchItem, len(targets))

	sem := make(chan struct{}, o.cfg.MaxConcurrentScans)
	var wg sync.WaitGroup
	for i, raw := range targets {
		items[i].Target = raw

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			items[i].Error = ctx.Err().Error()
			continue
		}

		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			defer func() { <-sem }()

			v, err := o.Scan(ctx, raw, opts)
			if err != nil {
				items[i].Error = err.Error()
				return
			}
			items[i].Verdict = &v
		}(i, raw)
	}
	wg.Wait()

	out := BatchResult{
		Items:     items,
		Total:     len(targets),
		TotalTime: time.Since(start),
	}
	for _, it := range items {
		if it.Verdict != nil {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	if out.Total > 0 {
		out.SuccessRate = float64(out.Successful) / float64(out.Total)
		out.AvgTime = out.TotalTime / time.Duration(out.Total)
	}
	o.log.Info("batch scan complete",
		"total", out.Total,
		"successful", out.Successful,
		"failed", out.Failed,
		"elapsed_ms", out.TotalTime.Milliseconds(),
	)
	return out
}
