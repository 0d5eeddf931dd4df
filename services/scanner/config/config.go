// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the scanner's configuration.
//
// Configuration comes from an optional YAML file with environment
// overrides for secrets: API keys never live in the file. Defaults
// are usable out of the box for a scanner with no external accounts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Duration wraps time.Duration to accept "2s" style YAML values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ScanConfig tunes the tier pipeline.
type ScanConfig struct {
	Tier1Deadline      Duration `yaml:"tier1_deadline"`
	Tier2Deadline      Duration `yaml:"tier2_deadline"`
	Tier3Deadline      Duration `yaml:"tier3_deadline"`
	MaxConcurrentScans int      `yaml:"max_concurrent_scans" validate:"gte=1,lte=64"`
}

// CacheConfig tunes the verdict cache.
type CacheConfig struct {
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries" validate:"gte=1"`
}

// RateLimitConfig tunes one dependency's sliding-window quota.
type RateLimitConfig struct {
	Limit   int      `yaml:"limit" validate:"gte=1"`
	Window  Duration `yaml:"window"`
	MaxWait Duration `yaml:"max_wait"`
}

// ProviderConfig configures one AI provider. The API key is taken
// from the environment, never from the file.
type ProviderConfig struct {
	Enabled bool     `yaml:"enabled"`
	Model   string   `yaml:"model"`
	BaseURL string   `yaml:"base_url"`
	Weight  float64  `yaml:"weight" validate:"gte=0,lte=1"`
	Timeout Duration `yaml:"timeout"`
}

// ProvidersConfig groups the AI providers.
type ProvidersConfig struct {
	Groq   ProviderConfig `yaml:"groq"`
	OpenAI ProviderConfig `yaml:"openai"`
	Ollama ProviderConfig `yaml:"ollama"`
}

// FeedsConfig configures the external threat feeds.
type FeedsConfig struct {
	URLHausEndpoint    string `yaml:"urlhaus_endpoint"`
	VirusTotalEndpoint string `yaml:"virustotal_endpoint"`
}

// StorageConfig configures the verdict store.
type StorageConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

// Config is the root scanner configuration.
type Config struct {
	Scan       ScanConfig                 `yaml:"scan"`
	Cache      CacheConfig                `yaml:"cache"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits" validate:"dive"`
	Providers  ProvidersConfig            `yaml:"providers"`
	Feeds      FeedsConfig                `yaml:"feeds"`
	Storage    StorageConfig              `yaml:"storage"`
	Logging    LoggingConfig              `yaml:"logging"`

	// Secrets, environment-only.
	VirusTotalAPIKey string `yaml:"-"`
	GroqAPIKey       string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
}

// Default returns a configuration that works with no external
// accounts: local signal sources on, hosted providers off until
// their keys appear in the environment.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			Tier1Deadline:      Duration(2 * time.Second),
			Tier2Deadline:      Duration(3 * time.Second),
			Tier3Deadline:      Duration(5 * time.Second),
			MaxConcurrentScans: 5,
		},
		Cache: CacheConfig{
			TTL:        Duration(time.Hour),
			MaxEntries: 1000,
		},
		RateLimits: map[string]RateLimitConfig{
			"virustotal": {
				Limit:   4,
				Window:  Duration(time.Minute),
				MaxWait: Duration(30 * time.Second),
			},
			"urlhaus": {
				Limit:   30,
				Window:  Duration(time.Minute),
				MaxWait: Duration(10 * time.Second),
			},
		},
		Providers: ProvidersConfig{
			Groq:   ProviderConfig{Enabled: true, Weight: 0.5, Timeout: Duration(10 * time.Second)},
			OpenAI: ProviderConfig{Enabled: true, Weight: 0.3, Timeout: Duration(10 * time.Second)},
			Ollama: ProviderConfig{Enabled: false, Weight: 0.2, Timeout: Duration(15 * time.Second)},
		},
		Storage: StorageConfig{
			Enabled:   false,
			Retention: Duration(30 * 24 * time.Hour),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration.
//
// Description:
//
//	Starts from Default, overlays the YAML file at path when path is
//	non-empty, then applies environment overrides for secrets:
//	GROQ_API_KEY, OPENAI_API_KEY, VT_API_KEY, and OLLAMA_BASE_URL.
//	The result is validated before return.
//
// Inputs:
//   - path: YAML file path; empty skips the file.
//
// Outputs:
//   - Config: the merged configuration.
//   - error: non-nil when the file is unreadable or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.VirusTotalAPIKey = os.Getenv("VT_API_KEY")
	if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
		cfg.Providers.Ollama.BaseURL = base
		cfg.Providers.Ollama.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Scan.Tier1Deadline <= 0 || c.Scan.Tier2Deadline <= 0 || c.Scan.Tier3Deadline <= 0 {
		return fmt.Errorf("config validation: tier deadlines must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config validation: cache ttl must be positive")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("config validation: storage.path is required when storage is enabled")
	}
	return nil
}
