// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/viralsafe/services/scanner/risk"
)

func openTestStore(t *testing.T) *VerdictStore {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleVerdict(id string) risk.Verdict {
	return risk.Verdict{
		ScanID:     id,
		Target:     "https://example.com",
		FinalScore: 90,
		Confidence: 95,
		RiskLevel:  risk.LevelMinimal,
		Grade:      "A",
		ScannedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := sampleVerdict("scan-1")
	require.NoError(t, s.Store(ctx, v))

	got, err := s.Get(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, v.ScanID, got.ScanID)
	assert.Equal(t, v.FinalScore, got.FinalScore)
	assert.Equal(t, v.RiskLevel, got.RiskLevel)
	assert.Equal(t, v.Target, got.Target)
}

func TestGetUnknownID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsEmptyScanID(t *testing.T) {
	s := openTestStore(t)

	err := s.Store(context.Background(), risk.Verdict{})
	assert.Error(t, err)
}

func TestStoreHonorsCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Store(ctx, sampleVerdict("scan-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Store(ctx, sampleVerdict(fmt.Sprintf("scan-%d", i))))
	}

	got, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	all, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Store(context.Background(), sampleVerdict("scan-p")))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), "scan-p")
	require.NoError(t, err)
	assert.Equal(t, "scan-p", got.ScanID)
}
