// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.Scan.Tier1Deadline.Std())
	assert.Equal(t, 5, cfg.Scan.MaxConcurrentScans)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Std())
	assert.Equal(t, 4, cfg.RateLimits["virustotal"].Limit)
	assert.InDelta(t, 0.5, cfg.Providers.Groq.Weight, 1e-9)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  tier1_deadline: 1s
  tier2_deadline: 2s
  tier3_deadline: 4s
  max_concurrent_scans: 8
cache:
  ttl: 30m
  max_entries: 200
providers:
  groq:
    enabled: true
    model: mixtral-8x7b
    weight: 0.6
logging:
  level: debug
  json: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Scan.Tier1Deadline.Std())
	assert.Equal(t, 8, cfg.Scan.MaxConcurrentScans)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 200, cfg.Cache.MaxEntries)
	assert.Equal(t, "mixtral-8x7b", cfg.Providers.Groq.Model)
	assert.InDelta(t, 0.6, cfg.Providers.Groq.Weight, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.RateLimits["virustotal"].Limit)
}

func TestLoadAppliesEnvSecrets(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "g-key")
	t.Setenv("VT_API_KEY", "vt-key")
	t.Setenv("OLLAMA_BASE_URL", "http://localhost:11434")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "g-key", cfg.GroqAPIKey)
	assert.Equal(t, "vt-key", cfg.VirusTotalAPIKey)
	assert.Equal(t, "http://localhost:11434", cfg.Providers.Ollama.BaseURL)
	assert.True(t, cfg.Providers.Ollama.Enabled)
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan: [not, a, map]"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := Default()
	cfg.Scan.Tier1Deadline = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Providers.Groq.Weight = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDurationParsing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dur.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: nonsense\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse duration")
}
