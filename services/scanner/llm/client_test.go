// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseClassification(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		c, err := parseClassification(`{"threat_score": 85, "confidence": 90, "category": "phishing", "threats": ["credential harvesting"]}`)
		require.NoError(t, err)
		assert.Equal(t, 85, c.ThreatScore)
		assert.Equal(t, 90, c.Confidence)
		assert.Equal(t, "phishing", c.Category)
		assert.Equal(t, []string{"credential harvesting"}, c.Threats)
	})

	t.Run("fenced JSON with prose", func(t *testing.T) {
		reply := "Here is my analysis:\n```json\n{\"threat_score\": 10, \"confidence\": 70, \"category\": \"business\"}\n```\nLet me know if you need more."
		c, err := parseClassification(reply)
		require.NoError(t, err)
		assert.Equal(t, 10, c.ThreatScore)
		assert.Equal(t, "business", c.Category)
	})

	t.Run("out-of-range values are clamped", func(t *testing.T) {
		c, err := parseClassification(`{"threat_score": 150, "confidence": -5}`)
		require.NoError(t, err)
		assert.Equal(t, 100, c.ThreatScore)
		assert.Equal(t, 0, c.Confidence)
		assert.Equal(t, "unknown", c.Category)
	})

	t.Run("no JSON object", func(t *testing.T) {
		_, err := parseClassification("I cannot analyze this.")
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := parseClassification(`{"threat_score": }`)
		assert.Error(t, err)
	})
}

func TestClassifyPrompt(t *testing.T) {
	urlPrompt := classifyPrompt("https://example.com/login", true)
	assert.Contains(t, urlPrompt, "https://example.com/login")
	assert.Contains(t, urlPrompt, "URL to analyze")

	textPrompt := classifyPrompt("URGENT: verify your account", false)
	assert.Contains(t, textPrompt, "text message to analyze")
}

type stubChat struct {
	reply string
	err   error
	req   openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.reply}},
		},
	}, nil
}

func TestChatCompletionClientClassify(t *testing.T) {
	stub := &stubChat{reply: `{"threat_score": 72, "confidence": 88, "category": "suspicious"}`}
	c := &ChatCompletionClient{
		client:  stub,
		name:    "groq",
		model:   "llama-3.3-70b-versatile",
		weight:  0.5,
		timeout: time.Second,
		log:     testLogger(),
	}

	cls, err := c.Classify(context.Background(), "https://evil.example", true)
	require.NoError(t, err)
	assert.Equal(t, 72, cls.ThreatScore)
	assert.Equal(t, "suspicious", cls.Category)
	assert.Equal(t, "llama-3.3-70b-versatile", stub.req.Model)
	require.Len(t, stub.req.Messages, 2)
	assert.Contains(t, stub.req.Messages[1].Content, "https://evil.example")
}

func TestProviderConstructorsValidate(t *testing.T) {
	_, err := NewOpenAIClient(ProviderConfig{Weight: 0.2}, nil)
	assert.Error(t, err, "missing API key")

	_, err = NewGroqClient(ProviderConfig{APIKey: "k"}, nil)
	assert.Error(t, err, "missing weight")

	_, err = NewOllamaClient(ProviderConfig{Weight: 0.2}, nil)
	assert.Error(t, err, "missing base URL")

	groq, err := NewGroqClient(ProviderConfig{APIKey: "k", Weight: 0.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, "groq", groq.Name())
	assert.Equal(t, 0.5, groq.Weight())
}

func TestOllamaClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "https://example.com")

		resp := ollamaGenerateResponse{
			Model:    req.Model,
			Response: `{"threat_score": 5, "confidence": 60, "category": "business"}`,
			Done:     true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(ProviderConfig{BaseURL: srv.URL, Weight: 0.2}, testLogger())
	require.NoError(t, err)

	cls, err := c.Classify(context.Background(), "https://example.com", true)
	require.NoError(t, err)
	assert.Equal(t, 5, cls.ThreatScore)
	assert.Equal(t, "business", cls.Category)
}

func TestOllamaClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(ProviderConfig{BaseURL: srv.URL, Weight: 0.2}, testLogger())
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "https://example.com", true)
	assert.ErrorContains(t, err, "unexpected status 500")
}
