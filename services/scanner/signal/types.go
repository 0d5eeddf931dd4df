// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signal defines the value types exchanged between signal source
// adapters and the scan orchestrator.
//
// A signal source is one external or local check (reachability probe,
// security-header scan, pattern database, reputation feed, AI classifier)
// that contributes a score and category to a scan. Every adapter
// invocation produces exactly one Result; Results are immutable after
// creation and merged by source name, never by arrival order.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category identifies the kind of signal a source produces.
type Category string

const (
	CategoryReachability Category = "reachability"
	CategoryHeaders      Category = "headers"
	CategoryContent      Category = "content"
	CategoryReputation   Category = "reputation"
	CategoryThreatFeed   Category = "threat_feed"
	CategoryAI           Category = "ai"
)

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryReachability,
		CategoryHeaders,
		CategoryContent,
		CategoryReputation,
		CategoryThreatFeed,
		CategoryAI,
	}
}

// Canonical source names. The set of signal sources is fixed and
// enumerated; the orchestrator and the risk calculator key on these.
const (
	SourceHTTPQuick       = "http_quick"
	SourceSecurityHeaders = "security_headers"
	SourceContentLite     = "content_lite"
	SourcePatternDB       = "custom_patterns"
	SourceURLHaus         = "urlhaus"
	SourceVirusTotal      = "virustotal"
	SourceTLDAnalysis     = "tld_analysis"
	SourceURLStructure    = "url_structure"
	SourceAIEnsemble      = "ai_ensemble"
)

// Detail keys shared between adapters and the risk calculator.
const (
	DetailStatusCode     = "status_code"
	DetailResponseTimeMS = "response_time_ms"
	DetailSSLEnabled     = "ssl_enabled"
	DetailHeadersPresent = "headers_present"
	DetailHasHSTS        = "has_hsts"
	DetailHasCSP         = "has_csp"
	DetailKeywordCount   = "suspicious_keywords_count"
	DetailHasIframes     = "has_iframes"
	DetailHasForms       = "has_forms"
	DetailContentSize    = "content_size"
	DetailHitCount       = "hit_count"
	DetailSeveritySum    = "severity_sum"
	DetailDetections     = "detections"
	DetailThreatFound    = "threat_found"
	DetailThreatType     = "threat_type"
	DetailRiskRatio      = "risk_ratio"
	DetailMalicious      = "malicious"
	DetailSuspicious     = "suspicious"
	DetailTotalEngines   = "total_engines"
	DetailTLD            = "tld"
	DetailRiskReason     = "risk_reason"
	DetailIssues         = "issues"
)

// Outcome describes how an adapter invocation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Options controls which signal sources a scan exercises.
//
// Options are immutable once a scan starts; the zero value disables
// everything, use DefaultOptions for the standard profile.
type Options struct {
	// DeepScan enables the Tier3 sources (pattern database, TLD and
	// URL-structure analysis, threat feeds).
	DeepScan bool `json:"deep_scan" yaml:"deep_scan"`

	// AIEnsemble enables multi-provider AI classification. When false
	// only the primary provider runs.
	AIEnsemble bool `json:"ai_ensemble" yaml:"ai_ensemble"`

	// ThreatIntel enables the quota-limited external feeds (reputation,
	// threat feed).
	ThreatIntel bool `json:"threat_intel" yaml:"threat_intel"`

	// CacheEnabled allows the orchestrator to serve and store verdicts
	// from the result cache.
	CacheEnabled bool `json:"cache_enabled" yaml:"cache_enabled"`
}

// DefaultOptions returns the standard scan profile: everything on.
func DefaultOptions() Options {
	return Options{
		DeepScan:     true,
		AIEnsemble:   true,
		ThreatIntel:  true,
		CacheEnabled: true,
	}
}

// CacheKey derives the deterministic cache key for a target and option
// set. The key is a SHA-256 over the normalized target plus the option
// flags serialized in sorted field order, so equivalent requests always
// collide.
func CacheKey(normalizedTarget string, opts Options) string {
	fields := []string{
		fmt.Sprintf("ai_ensemble=%t", opts.AIEnsemble),
		fmt.Sprintf("cache_enabled=%t", opts.CacheEnabled),
		fmt.Sprintf("deep_scan=%t", opts.DeepScan),
		fmt.Sprintf("threat_intel=%t", opts.ThreatIntel),
	}
	sort.Strings(fields)
	sum := sha256.Sum256([]byte(normalizedTarget + ":" + strings.Join(fields, ",")))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of a single adapter invocation.
//
// Score and Confidence are nil when the source produced no meaningful
// signal (for example a reputation feed that has never seen the target).
// That is distinct from a successful clean result, which carries an
// explicit score of 0.
//
// Thread Safety: Result is a value type, never mutated after creation.
type Result struct {
	// SourceName uniquely identifies the adapter (e.g. "http_quick").
	SourceName string `json:"source_name"`

	// Category is the signal category this source contributes to.
	Category Category `json:"category"`

	// Score is the source's 0-100 signal strength, nil when absent.
	// Semantics are per-category: for AI sources it is a threat score,
	// for header scans a hygiene score.
	Score *int `json:"score,omitempty"`

	// Confidence is the source's 0-100 self-reported confidence.
	Confidence *int `json:"confidence,omitempty"`

	// Detail carries source-specific fields (status codes, matched
	// patterns, engine counts). Keys are stable per source.
	Detail map[string]any `json:"detail,omitempty"`

	// Outcome records how the invocation ended.
	Outcome Outcome `json:"outcome"`

	// ErrorReason is populated for failure and timeout outcomes.
	ErrorReason string `json:"error_reason,omitempty"`

	// Elapsed is how long the invocation took.
	Elapsed time.Duration `json:"elapsed"`
}

// OK reports whether the result carries a usable signal.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// ScoreOr returns the score, or fallback when no signal was produced.
func (r Result) ScoreOr(fallback int) int {
	if r.Score == nil {
		return fallback
	}
	return *r.Score
}

// ConfidenceOr returns the confidence, or fallback when absent.
func (r Result) ConfidenceOr(fallback int) int {
	if r.Confidence == nil {
		return fallback
	}
	return *r.Confidence
}

// IntPtr is a convenience for building Results with literal scores.
func IntPtr(v int) *int { return &v }

// Failure builds a failure Result for the given source.
func Failure(name string, cat Category, reason string, elapsed time.Duration) Result {
	return Result{
		SourceName:  name,
		Category:    cat,
		Outcome:     OutcomeFailure,
		ErrorReason: reason,
		Elapsed:     elapsed,
	}
}

// Timeout builds a timeout Result for the given source.
func Timeout(name string, cat Category, elapsed time.Duration) Result {
	return Result{
		SourceName:  name,
		Category:    cat,
		Outcome:     OutcomeTimeout,
		ErrorReason: "deadline exceeded",
		Elapsed:     elapsed,
	}
}
