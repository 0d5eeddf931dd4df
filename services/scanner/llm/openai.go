// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// chatClient abstracts the go-openai client so tests can stub the
// transport.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatCompletionClient talks to any OpenAI-compatible chat API. Groq
// exposes the same wire format, so one implementation covers both:
// the Groq client is an OpenAI client pointed at the Groq base URL.
type ChatCompletionClient struct {
	client  chatClient
	name    string
	model   string
	weight  float64
	timeout time.Duration
	log     *slog.Logger
}

// NewOpenAIClient creates a client for the OpenAI API.
//
// Inputs:
//   - cfg: provider settings. APIKey and Model are required.
//   - log: structured logger; nil falls back to slog.Default().
//
// Outputs:
//   - *ChatCompletionClient: the client.
//   - error: non-nil when cfg is unusable.
func NewOpenAIClient(cfg ProviderConfig, log *slog.Logger) (*ChatCompletionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return newChatCompletionClient("openai", model, cfg, clientCfg, log)
}

// NewGroqClient creates a client for the Groq API.
//
// Groq serves the OpenAI chat-completions format at its own base URL,
// so this reuses the OpenAI transport with a different endpoint.
//
// Inputs:
//   - cfg: provider settings. APIKey is required; BaseURL defaults to
//     the public Groq endpoint.
//   - log: structured logger; nil falls back to slog.Default().
//
// Outputs:
//   - *ChatCompletionClient: the client.
//   - error: non-nil when cfg is unusable.
func NewGroqClient(cfg ProviderConfig, log *slog.Logger) (*ChatCompletionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq: API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return newChatCompletionClient("groq", model, cfg, clientCfg, log)
}

func newChatCompletionClient(name, model string, cfg ProviderConfig, clientCfg openai.ClientConfig, log *slog.Logger) (*ChatCompletionClient, error) {
	if cfg.Weight <= 0 {
		return nil, fmt.Errorf("%s: weight must be positive, got %v", name, cfg.Weight)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("initializing AI provider", "provider", name, "model", model)
	return &ChatCompletionClient{
		client:  openai.NewClientWithConfig(clientCfg),
		name:    name,
		model:   model,
		weight:  cfg.Weight,
		timeout: timeout,
		log:     log,
	}, nil
}

// Name implements Client.
func (c *ChatCompletionClient) Name() string { return c.name }

// Weight implements Client.
func (c *ChatCompletionClient) Weight() float64 { return c.weight }

// Classify implements Client.
func (c *ChatCompletionClient) Classify(ctx context.Context, target string, isURL bool) (*Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise security analyst. You respond with JSON only."},
			{Role: openai.ChatMessageRoleUser, Content: classifyPrompt(target, isURL)},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.log.Warn("AI provider call failed", "provider", c.name, "error", err)
		return nil, fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.name)
	}

	cls, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	c.log.Debug("AI classification complete",
		"provider", c.name,
		"threat_score", cls.ThreatScore,
		"category", cls.Category,
	)
	return cls, nil
}
