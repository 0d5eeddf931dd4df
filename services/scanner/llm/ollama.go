// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("viralsafe.llm.ollama")

// OllamaClient classifies targets against a local Ollama instance.
// Ollama's API is not OpenAI-compatible on /api/generate, so this
// client speaks the native format directly.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	weight     float64
	log        *slog.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a client for a local Ollama endpoint.
//
// Inputs:
//   - cfg: provider settings. BaseURL is required; Model defaults to
//     "llama3.2".
//   - log: structured logger; nil falls back to slog.Default().
//
// Outputs:
//   - *OllamaClient: the client.
//   - error: non-nil when cfg is unusable.
func NewOllamaClient(cfg ProviderConfig, log *slog.Logger) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama: base URL not configured")
	}
	if cfg.Weight <= 0 {
		return nil, fmt.Errorf("ollama: weight must be positive, got %v", cfg.Weight)
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("initializing AI provider", "provider", "ollama",
		"base_url", cfg.BaseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      model,
		weight:     cfg.Weight,
		log:        log,
	}, nil
}

// Name implements Client.
func (o *OllamaClient) Name() string { return "ollama" }

// Weight implements Client.
func (o *OllamaClient) Weight() float64 { return o.weight }

// Classify implements Client.
func (o *OllamaClient) Classify(ctx context.Context, target string, isURL bool) (*Classification, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Classify")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: classifyPrompt(target, isURL),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": 512,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, resp.Status)
		return nil, fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var gen ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	cls, err := parseClassification(gen.Response)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	o.log.Debug("AI classification complete",
		"provider", "ollama",
		"threat_score", cls.ThreatScore,
		"category", cls.Category,
	)
	return cls, nil
}
