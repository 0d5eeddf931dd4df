// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/viralsafe/services/scanner/ensemble"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

const (
	// baselineScore is the optimistic starting point. A target about
	// which nothing is known scores 85, not 100 and not 50.
	baselineScore = 85

	// fallbackConfidence applies when every signal source failed and
	// the verdict is the unmodified baseline.
	fallbackConfidence = 30

	// maxPatternPenalty caps the total deduction from pattern matches.
	maxPatternPenalty = 45

	// perSeverityPenalty scales each pattern hit's severity (1-10)
	// into a score deduction.
	perSeverityPenalty = 4

	// slowResponseMS is the latency above which a reachable target
	// loses its reachability bonus.
	slowResponseMS = 3000

	maxRecommendations = 6
)

// Contribution records one signal's effect on the final score.
type Contribution struct {
	Source   string          `json:"source"`
	Category signal.Category `json:"category"`
	Outcome  signal.Outcome  `json:"outcome"`
	Delta    float64         `json:"delta"`
}

// Verdict is the composite result of one scan.
type Verdict struct {
	ScanID          string         `json:"scan_id"`
	Target          string         `json:"target"`
	FinalScore      int            `json:"final_score"`
	Confidence      int            `json:"confidence"`
	RiskLevel       Level          `json:"risk_level"`
	Grade           string         `json:"grade"`
	TrustRating     string         `json:"trust_rating"`
	Summary         string         `json:"summary"`
	RiskFactors     []string       `json:"risk_factors,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Breakdown       []Contribution `json:"breakdown,omitempty"`
	Fallback        bool           `json:"fallback"`
	CacheHit        bool           `json:"cache_hit"`
	ScannedAt       time.Time      `json:"scanned_at"`
	Elapsed         time.Duration  `json:"elapsed"`
}

// Calculator folds signal results and an optional AI ensemble into a
// Verdict.
//
// Description:
//
//	The calculator is stateless and safe for concurrent use. Each
//	Evaluate call starts from the baseline, applies the adjustment for
//	every source that reported, and derives confidence from how many
//	sources actually succeeded. Identity fields on the Verdict
//	(ScanID, Target, CacheHit, timing) are left for the caller.
//
// Thread Safety: safe for concurrent use.
type Calculator struct {
	log *slog.Logger
}

// NewCalculator returns a Calculator logging through log.
//
// Inputs:
//   - log: structured logger; nil falls back to slog.Default().
//
// Outputs:
//   - *Calculator: ready to use.
func NewCalculator(log *slog.Logger) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	return &Calculator{log: log}
}

// Evaluate computes the composite verdict for one target.
//
// Inputs:
//   - results: per-source signal results, any order, failures included.
//   - ai: combined AI assessment, nil when no provider succeeded.
//   - aiAttempted: true when AI analysis ran (even if every provider
//     failed); distinguishes "AI unavailable" from "AI not requested".
//
// Outputs:
//   - Verdict: score, confidence, level, grade, factors and
//     recommendations. Fallback is set when nothing succeeded.
func (c *Calculator) Evaluate(results []signal.Result, ai *ensemble.Result, aiAttempted bool) Verdict {
	bySource := make(map[string]signal.Result, len(results))
	successes := 0
	for _, r := range results {
		bySource[r.SourceName] = r
		if r.OK() {
			successes++
		}
	}

	if successes == 0 && ai == nil {
		v := Verdict{
			FinalScore:  baselineScore,
			Confidence:  fallbackConfidence,
			Fallback:    true,
			RiskFactors: []string{"All signal sources were unavailable"},
			Recommendations: []string{
				"Retry the scan later; no signal sources responded",
			},
		}
		c.finish(&v)
		c.log.Warn("verdict fell back to baseline", "attempted_sources", len(results))
		return v
	}

	score := float64(baselineScore)
	confidence := 100.0
	var factors, recs []string
	var breakdown []Contribution

	apply := func(r signal.Result, delta float64) {
		score += delta
		breakdown = append(breakdown, Contribution{
			Source:   r.SourceName,
			Category: r.Category,
			Outcome:  r.Outcome,
			Delta:    delta,
		})
	}

	// Reachability.
	if r, ok := bySource[signal.SourceHTTPQuick]; ok {
		switch {
		case !r.OK():
			apply(r, -15)
			factors = append(factors, "Target was unreachable")
			confidence -= 15
		default:
			status := detailInt(r.Detail, signal.DetailStatusCode)
			switch {
			case status >= 500:
				apply(r, -15)
				factors = append(factors, fmt.Sprintf("Target returned server error %d", status))
			case status >= 400:
				apply(r, -5)
				factors = append(factors, fmt.Sprintf("Target returned client error %d", status))
			default:
				delta := 5.0
				if rt := detailInt(r.Detail, signal.DetailResponseTimeMS); rt > slowResponseMS {
					delta -= 5
					factors = append(factors, fmt.Sprintf("Slow response (%dms)", rt))
				}
				apply(r, delta)
			}
		}
	}

	// AI ensemble. The combined threat score pulls the safety score
	// toward its inverse rather than replacing it outright.
	if ai != nil {
		score = score*0.7 + float64(100-ai.ThreatScore)*0.3
		confidence = (confidence + float64(ai.Confidence)) / 2
		breakdown = append(breakdown, Contribution{
			Source:   signal.SourceAIEnsemble,
			Category: signal.CategoryAI,
			Outcome:  signal.OutcomeSuccess,
			Delta:    score - snapshotBefore(breakdown, baselineScore),
		})
		if ai.ThreatScore >= 70 {
			factors = append(factors, fmt.Sprintf("AI analysis classified the target as %s (threat %d)",
				ai.ConsensusCategory, ai.ThreatScore))
		}
		for _, t := range ai.Threats {
			factors = append(factors, "AI detected: "+t)
		}
	} else if aiAttempted {
		confidence -= 10
	}

	// Security headers.
	if r, ok := bySource[signal.SourceSecurityHeaders]; ok && r.OK() {
		hs := r.ScoreOr(50)
		apply(r, float64(hs-50)*0.2)
		if hs < 40 {
			factors = append(factors, "Weak or missing HTTP security headers")
			recs = append(recs, "Verify the site over HTTPS and avoid submitting sensitive data")
		}
	}

	// Content heuristics.
	if r, ok := bySource[signal.SourceContentLite]; ok && r.OK() {
		kw := detailInt(r.Detail, signal.DetailKeywordCount)
		hasForms := detailBool(r.Detail, signal.DetailHasForms)
		hasIframes := detailBool(r.Detail, signal.DetailHasIframes)
		switch {
		case kw >= 5:
			apply(r, -15)
			factors = append(factors, fmt.Sprintf("Page content contains %d suspicious keywords", kw))
		case kw >= 2 || (hasForms && hasIframes):
			apply(r, -5)
			factors = append(factors, "Page content shows mild phishing indicators")
		default:
			apply(r, 0)
		}
	}

	// Pattern database.
	if r, ok := bySource[signal.SourcePatternDB]; ok && r.OK() {
		sevSum := detailInt(r.Detail, signal.DetailSeveritySum)
		hits := detailInt(r.Detail, signal.DetailHitCount)
		if sevSum > 0 {
			penalty := math.Min(maxPatternPenalty, float64(perSeverityPenalty*sevSum))
			apply(r, -penalty)
			factors = append(factors, fmt.Sprintf("Matched %d known threat patterns", hits))
			recs = append(recs, "Do not enter credentials or payment details on this page")
		} else {
			apply(r, 0)
		}
	}

	// Threat feed listing.
	if r, ok := bySource[signal.SourceURLHaus]; ok && r.OK() {
		if detailBool(r.Detail, signal.DetailThreatFound) {
			apply(r, -35)
			tt := detailString(r.Detail, signal.DetailThreatType)
			if tt == "" {
				tt = "malware"
			}
			factors = append(factors, fmt.Sprintf("Listed in an active threat feed (%s)", tt))
			recs = append(recs, "Report this URL to your security team")
		} else {
			apply(r, 0)
		}
	}

	// Engine reputation. A nil score means the target is unknown to
	// the reputation service, which is not evidence either way.
	if r, ok := bySource[signal.SourceVirusTotal]; ok && r.OK() && r.Score != nil {
		ratio := detailFloat(r.Detail, signal.DetailRiskRatio)
		switch {
		case ratio >= 0.3:
			apply(r, -40)
			factors = append(factors, fmt.Sprintf("Flagged malicious by %d scan engines",
				detailInt(r.Detail, signal.DetailMalicious)))
		case ratio >= 0.1:
			apply(r, -20)
			factors = append(factors, "Flagged suspicious by multiple scan engines")
		default:
			apply(r, 0)
		}
	}

	// Domain heuristics.
	if r, ok := bySource[signal.SourceTLDAnalysis]; ok && r.OK() {
		tldRisk := r.ScoreOr(0)
		switch {
		case tldRisk >= 70:
			apply(r, -12)
			factors = append(factors, fmt.Sprintf("High-risk top-level domain .%s",
				detailString(r.Detail, signal.DetailTLD)))
		case tldRisk >= 40:
			apply(r, -5)
		default:
			apply(r, 0)
		}
	}
	if r, ok := bySource[signal.SourceURLStructure]; ok && r.OK() {
		structRisk := r.ScoreOr(0)
		switch {
		case structRisk >= 50:
			apply(r, -10)
			factors = append(factors, "URL structure resembles known obfuscation techniques")
		case structRisk >= 25:
			apply(r, -5)
		default:
			apply(r, 0)
		}
	}

	// Deep-scan coverage raises confidence; partial coverage lowers it
	// in proportion to how many sources failed.
	if anyDeepSuccess(bySource) {
		confidence += 10
	}
	attempted := len(results)
	failed := attempted - successes
	if aiAttempted {
		attempted++
		if ai == nil {
			failed++
		}
	}
	if attempted > 0 {
		confidence *= 1 - 0.25*float64(failed)/float64(attempted)
	}

	v := Verdict{
		FinalScore:      clamp(int(math.Round(score)), 0, 100),
		Confidence:      clamp(int(math.Round(confidence)), 20, 99),
		RiskFactors:     factors,
		Recommendations: recs,
		Breakdown:       breakdown,
	}
	c.finish(&v)
	return v
}

// finish derives level, grade, trust rating, summary and the
// level-based recommendations from the score and confidence.
func (c *Calculator) finish(v *Verdict) {
	v.RiskLevel = LevelFor(v.FinalScore)
	v.Grade = GradeFor(v.FinalScore)
	v.TrustRating = TrustRatingFor(v.FinalScore, v.Confidence)
	v.Summary = Summary(v.RiskLevel, v.FinalScore)

	switch v.RiskLevel {
	case LevelCritical:
		v.Recommendations = append([]string{
			"Do not visit this target",
			"Block the URL at your network perimeter",
		}, v.Recommendations...)
	case LevelHigh:
		v.Recommendations = append([]string{
			"Avoid entering credentials or personal information",
		}, v.Recommendations...)
	case LevelMedium:
		v.Recommendations = append([]string{
			"Proceed with caution and verify the site's identity",
		}, v.Recommendations...)
	}
	if len(v.Recommendations) > maxRecommendations {
		v.Recommendations = v.Recommendations[:maxRecommendations]
	}
}

// snapshotBefore sums the deltas applied so far so the AI contribution
// can be reported as a single delta even though it blends the score.
func snapshotBefore(breakdown []Contribution, baseline float64) float64 {
	total := baseline
	for _, b := range breakdown {
		total += b.Delta
	}
	return total
}

func anyDeepSuccess(bySource map[string]signal.Result) bool {
	for _, name := range []string{
		signal.SourcePatternDB,
		signal.SourceURLHaus,
		signal.SourceVirusTotal,
		signal.SourceTLDAnalysis,
		signal.SourceURLStructure,
	} {
		if r, ok := bySource[name]; ok && r.OK() {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func detailInt(d map[string]any, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func detailFloat(d map[string]any, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func detailBool(d map[string]any, key string) bool {
	v, _ := d[key].(bool)
	return v
}

func detailString(d map[string]any, key string) string {
	v, _ := d[key].(string)
	return v
}
