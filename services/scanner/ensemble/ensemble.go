// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ensemble combines same-category signals from multiple
// providers into one weighted score.
//
// The primary use is AI classification: several providers analyze the
// same target and the ensemble condenses their threat scores via
// weighted voting. Weights are re-normalized over the providers that
// actually succeeded, so a failed provider reduces coverage instead of
// dragging the average toward zero.
package ensemble

import (
	"sort"
	"strings"
)

// ProviderResult is one provider's contribution to an ensemble.
type ProviderResult struct {
	// Provider is the provider name (e.g. "groq", "openai").
	Provider string

	// Weight is the configured voting weight (> 0).
	Weight float64

	// ThreatScore is the provider's 0-100 threat assessment.
	ThreatScore int

	// Confidence is the provider's 0-100 self-reported confidence.
	Confidence int

	// Category is the provider's content classification
	// (e.g. "business", "suspicious", "malicious").
	Category string

	// Threats lists specific threats the provider named.
	Threats []string

	// Succeeded is false when the provider call failed; failed
	// providers contribute nothing to the weighted scores.
	Succeeded bool
}

// Result is the combined decision of an ensemble.
type Result struct {
	// ThreatScore is the weighted 0-100 threat score.
	ThreatScore int `json:"threat_score"`

	// Confidence is the weighted confidence plus an agreement bonus,
	// capped at 99.
	Confidence int `json:"confidence"`

	// ConsensusCategory is the most frequent category among successful
	// providers; ties break toward the highest-weight provider.
	ConsensusCategory string `json:"consensus_category"`

	// Threats is the deduplicated union of provider threats, at most
	// five entries, in first-seen order.
	Threats []string `json:"threats,omitempty"`

	// ProvidersUsed counts the successful contributors.
	ProvidersUsed int `json:"providers_used"`

	// Ensemble is true when more than one provider contributed.
	Ensemble bool `json:"ensemble"`
}

// confidenceBonusPerProvider rewards multi-provider agreement.
const confidenceBonusPerProvider = 2

// maxThreats bounds the reported threat list.
const maxThreats = 5

// Combine merges provider results via weighted voting.
//
// Only successful providers participate; the weight normalization
// divides by the sum of *their* weights, never the full configured set.
// Returns (nil, false) when no provider succeeded; the category is
// then omitted from scoring entirely rather than defaulted.
func Combine(results []ProviderResult) (*Result, bool) {
	successful := make([]ProviderResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded && r.Weight > 0 {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return nil, false
	}

	var totalWeight, weightedScore, weightedConfidence float64
	for _, r := range successful {
		totalWeight += r.Weight
		weightedScore += float64(r.ThreatScore) * r.Weight
		weightedConfidence += float64(r.Confidence) * r.Weight
	}
	weightedScore /= totalWeight
	weightedConfidence /= totalWeight

	confidence := int(weightedConfidence) + confidenceBonusPerProvider*len(successful)
	if confidence > 99 {
		confidence = 99
	}

	return &Result{
		ThreatScore:       int(weightedScore + 0.5),
		Confidence:        confidence,
		ConsensusCategory: consensusCategory(successful),
		Threats:           mergeThreats(successful),
		ProvidersUsed:     len(successful),
		Ensemble:          len(successful) > 1,
	}, true
}

// consensusCategory picks the most frequent category. On a frequency
// tie, the category reported by the highest-weight provider wins.
func consensusCategory(results []ProviderResult) string {
	counts := make(map[string]int)
	for _, r := range results {
		if cat := strings.TrimSpace(r.Category); cat != "" {
			counts[cat]++
		}
	}
	if len(counts) == 0 {
		return "unknown"
	}

	best := -1
	for _, n := range counts {
		if n > best {
			best = n
		}
	}

	// Providers sorted by descending weight decide the tie.
	byWeight := make([]ProviderResult, len(results))
	copy(byWeight, results)
	sort.SliceStable(byWeight, func(i, j int) bool {
		return byWeight[i].Weight > byWeight[j].Weight
	})
	for _, r := range byWeight {
		cat := strings.TrimSpace(r.Category)
		if cat != "" && counts[cat] == best {
			return cat
		}
	}
	return "unknown"
}

// mergeThreats deduplicates provider threats preserving first-seen
// order, capped at maxThreats.
func mergeThreats(results []ProviderResult) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, r := range results {
		for _, threat := range r.Threats {
			threat = strings.TrimSpace(threat)
			if threat == "" || seen[threat] {
				continue
			}
			seen[threat] = true
			merged = append(merged, threat)
			if len(merged) == maxThreats {
				return merged
			}
		}
	}
	return merged
}
