// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides threat-classification clients for the AI
// providers used by the scan ensemble.
//
// Every provider answers the same structured prompt and returns a
// Classification; provider-specific wire formats stay inside each
// client. Providers that are slow or down return an error and the
// ensemble simply proceeds without them.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Classification is a provider's structured threat assessment.
type Classification struct {
	// ThreatScore is 0 (benign) to 100 (certainly malicious).
	ThreatScore int `json:"threat_score"`

	// Confidence is the provider's 0-100 self-assessment.
	Confidence int `json:"confidence"`

	// Category is the content classification, e.g. "business",
	// "suspicious", "phishing", "malicious".
	Category string `json:"category"`

	// Threats lists specific indicators the provider found.
	Threats []string `json:"threats,omitempty"`

	// Reasoning is a short free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
}

// Client is a single AI provider capable of classifying a target.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// Name identifies the provider ("groq", "openai", "ollama").
	Name() string

	// Weight is the provider's voting weight in the ensemble.
	Weight() float64

	// Classify analyzes the target and returns a structured
	// assessment. The context deadline bounds the call.
	Classify(ctx context.Context, target string, isURL bool) (*Classification, error)
}

// ProviderConfig carries the settings shared by all provider clients.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Required for hosted
	// providers, unused by Ollama.
	APIKey string `yaml:"api_key"`

	// Model names the model to query.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint. Required for Groq and
	// Ollama, optional for OpenAI.
	BaseURL string `yaml:"base_url"`

	// Weight is the ensemble voting weight. Must be > 0 to enable
	// the provider.
	Weight float64 `yaml:"weight"`

	// Timeout bounds a single classification call.
	// Default: 10 seconds.
	Timeout time.Duration `yaml:"timeout"`
}

const defaultProviderTimeout = 10 * time.Second

// classifyPrompt builds the shared analysis prompt. Targets are
// quoted verbatim; the model is told whether it is looking at a URL
// or a pasted text payload.
func classifyPrompt(target string, isURL bool) string {
	kind := "URL"
	if !isURL {
		kind = "text message"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a security analyst. Analyze the following %s for phishing, scams, malware distribution, and social engineering.\n\n", kind)
	fmt.Fprintf(&b, "%s to analyze:\n%s\n\n", kind, target)
	b.WriteString(`Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "threat_score": <0-100, 0 = benign, 100 = certainly malicious>,
  "confidence": <0-100>,
  "category": "<business|news|social|adult|suspicious|phishing|malicious|unknown>",
  "threats": ["<specific indicator>", ...],
  "reasoning": "<one sentence>"
}`)
	return b.String()
}

// parseClassification extracts the Classification JSON from a model
// reply. Models wrap JSON in code fences or prose often enough that
// we scan for the outermost object instead of unmarshaling directly.
func parseClassification(raw string) (*Classification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var c Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &c); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}

	c.ThreatScore = clampScore(c.ThreatScore)
	c.Confidence = clampScore(c.Confidence)
	if c.Category == "" {
		c.Category = "unknown"
	}
	return &c, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
