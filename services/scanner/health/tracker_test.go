// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package health

import (
	"sync"
	"testing"
)

func TestTracker_Transitions(t *testing.T) {
	tracker := NewTracker(nil)

	t.Run("initial state is unknown", func(t *testing.T) {
		tracker.Register("virustotal")
		record, ok := tracker.Get("virustotal")
		if !ok {
			t.Fatal("expected record")
		}
		if record.Status != StatusUnknown {
			t.Errorf("expected unknown, got %s", record.Status)
		}
	})

	t.Run("single failure degrades", func(t *testing.T) {
		tracker.ReportFailure("virustotal", "HTTP 500")
		record, _ := tracker.Get("virustotal")
		if record.Status != StatusDegraded {
			t.Errorf("expected degraded, got %s", record.Status)
		}
		if record.ConsecutiveFailures != 1 {
			t.Errorf("expected 1 failure, got %d", record.ConsecutiveFailures)
		}
	})

	t.Run("third consecutive failure errors", func(t *testing.T) {
		tracker.ReportFailure("virustotal", "HTTP 500")
		tracker.ReportFailure("virustotal", "timeout")
		record, _ := tracker.Get("virustotal")
		if record.Status != StatusError {
			t.Errorf("expected error, got %s", record.Status)
		}
		if record.ConsecutiveFailures != 3 {
			t.Errorf("expected 3 failures, got %d", record.ConsecutiveFailures)
		}
		if record.LastError != "timeout" {
			t.Errorf("expected last error recorded, got %q", record.LastError)
		}
	})

	t.Run("one success resets the streak", func(t *testing.T) {
		tracker.ReportSuccess("virustotal")
		record, _ := tracker.Get("virustotal")
		if record.Status != StatusConnected {
			t.Errorf("expected connected, got %s", record.Status)
		}
		if record.ConsecutiveFailures != 0 {
			t.Errorf("expected streak reset, got %d", record.ConsecutiveFailures)
		}
		if record.LastSuccessAt == nil {
			t.Error("expected last_success_at to be set")
		}
		if record.TotalCalls != 4 || record.SuccessfulCalls != 1 {
			t.Errorf("expected totals 4/1, got %d/%d", record.TotalCalls, record.SuccessfulCalls)
		}
	})
}

func TestTracker_NotConfigured(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.MarkNotConfigured("safebrowsing")
	record, _ := tracker.Get("safebrowsing")
	if record.Status != StatusNotConfigured {
		t.Errorf("expected not_configured, got %s", record.Status)
	}
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.ReportSuccess("urlhaus")

	snapshot := tracker.Snapshot()
	entry := snapshot["urlhaus"]
	entry.TotalCalls = 999

	record, _ := tracker.Get("urlhaus")
	if record.TotalCalls != 1 {
		t.Errorf("snapshot mutation leaked into tracker: %d", record.TotalCalls)
	}
}

func TestTracker_ConcurrentReportsKeepCounts(t *testing.T) {
	tracker := NewTracker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tracker.ReportSuccess("urlhaus")
		}()
		go func() {
			defer wg.Done()
			tracker.ReportFailure("urlhaus", "flaky")
		}()
	}
	wg.Wait()

	record, _ := tracker.Get("urlhaus")
	if record.TotalCalls != 100 {
		t.Errorf("expected 100 total calls, got %d", record.TotalCalls)
	}
	if record.SuccessfulCalls != 50 {
		t.Errorf("expected 50 successes, got %d", record.SuccessfulCalls)
	}
}
