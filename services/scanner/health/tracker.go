// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health tracks the operational health of quota-limited upstream
// dependencies passively.
//
// Health state is a free byproduct of real traffic: adapters report the
// outcome of every real call and the tracker derives a status from the
// failure streak. No dedicated health probes exist anywhere in this
// package; a health query only ever reads cached records. For upstreams
// with quotas of a few hundred calls per day, probing would burn the
// budget the scans need.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the derived health of one dependency.
type Status string

const (
	// StatusNotConfigured marks a dependency with no credentials; it is
	// never called and never transitions further.
	StatusNotConfigured Status = "not_configured"

	// StatusUnknown is the initial state before any real call.
	StatusUnknown Status = "unknown"

	// StatusConnected means the most recent call succeeded.
	StatusConnected Status = "connected"

	// StatusDegraded means 1-2 consecutive failures.
	StatusDegraded Status = "degraded"

	// StatusError means 3 or more consecutive failures.
	StatusError Status = "error"
)

// errorThreshold is the consecutive-failure count at which a dependency
// is considered down rather than flaky.
const errorThreshold = 3

// Record is the health state of one dependency.
//
// The status is a deterministic function of the failure streak: any
// success resets to connected immediately, there is no gradual
// recovery. Records live for the process lifetime.
type Record struct {
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalCalls          int64      `json:"total_calls"`
	SuccessfulCalls     int64      `json:"successful_calls"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastCheckAt         *time.Time `json:"last_check_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// Tracker maintains one Record per dependency.
//
// Thread Safety: safe for concurrent use. Mutations to a record are
// serialized under the tracker mutex so concurrent scans never lose
// counter updates.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates an empty Tracker. If logger is nil, slog.Default()
// is used.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		records: make(map[string]*Record),
		logger:  logger,
		now:     time.Now,
	}
}

// Register creates an unknown-status record for a dependency. Calling
// it again is a no-op; outcomes reported for unregistered dependencies
// register them implicitly.
func (t *Tracker) Register(dependency string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(dependency)
}

// MarkNotConfigured records that a dependency has no credentials and
// will not be called.
func (t *Tracker) MarkNotConfigured(dependency string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record := t.ensureLocked(dependency)
	record.Status = StatusNotConfigured
}

// ReportSuccess records a successful real call against a dependency.
// A single success resets the status to connected regardless of the
// prior failure streak.
func (t *Tracker) ReportSuccess(dependency string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.ensureLocked(dependency)
	now := t.now()
	prior := record.Status

	record.Status = StatusConnected
	record.ConsecutiveFailures = 0
	record.TotalCalls++
	record.SuccessfulCalls++
	record.LastSuccessAt = &now
	record.LastCheckAt = &now
	record.LastError = ""

	if prior == StatusError || prior == StatusDegraded {
		t.logger.Info("dependency recovered", "dependency", dependency, "previous_status", string(prior))
	}
}

// ReportFailure records a failed real call against a dependency.
func (t *Tracker) ReportFailure(dependency string, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.ensureLocked(dependency)
	now := t.now()

	record.ConsecutiveFailures++
	record.TotalCalls++
	record.LastCheckAt = &now
	record.LastError = reason
	if record.ConsecutiveFailures >= errorThreshold {
		if record.Status != StatusError {
			t.logger.Warn("dependency marked down",
				"dependency", dependency,
				"consecutive_failures", record.ConsecutiveFailures,
				"reason", reason)
		}
		record.Status = StatusError
	} else {
		record.Status = StatusDegraded
	}
}

// Get returns a copy of a dependency's record.
func (t *Tracker) Get(dependency string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[dependency]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// Snapshot returns copies of every record, keyed by dependency name.
// It never triggers a network call.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(map[string]Record, len(t.records))
	for name, record := range t.records {
		snapshot[name] = *record
	}
	return snapshot
}

// Reset drops all records. Intended for test isolation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Record)
}

func (t *Tracker) ensureLocked(dependency string) *Record {
	record, ok := t.records[dependency]
	if !ok {
		record = &Record{Status: StatusUnknown}
		t.records[dependency] = record
	}
	return record
}
