// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// Pattern is one entry in the local threat-pattern database.
type Pattern struct {
	// ID is a stable identifier for the pattern.
	ID string

	// Description explains what the pattern indicates.
	Description string

	// Category groups related patterns ("phishing", "scam",
	// "malware", "impersonation").
	Category string

	// Severity is 1 (mild indicator) to 10 (near-certain threat).
	Severity int

	re *regexp.Regexp
}

// Detection is one pattern hit against a target.
type Detection struct {
	PatternID   string `json:"pattern_id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    int    `json:"severity"`
}

// builtinPatterns is the default database. Patterns match against
// the whole normalized target, URL or text, case-insensitively.
var builtinPatterns = []struct {
	id, expr, desc, category string
	severity                 int
}{
	{"brand-typosquat", `paypa1|g00gle|rnicrosoft|micros0ft|amaz0n|app1e|faceb00k|netf1ix`,
		"Typosquatted brand name", "impersonation", 9},
	{"login-bait", `(secure|account|verify|update|confirm)[-._]?(login|signin|account|bank)`,
		"Credential-harvesting URL wording", "phishing", 7},
	{"urgency-lure", `(urgent|immediate|suspended|locked|expir\w+).{0,40}(action|verify|confirm|click)`,
		"Urgency-based social engineering", "phishing", 6},
	{"prize-scam", `(congratulations|you (have )?won|claim).{0,40}(prize|reward|gift|lottery)`,
		"Prize or lottery scam wording", "scam", 7},
	{"crypto-doubling", `(double|triple|guaranteed).{0,30}(bitcoin|btc|eth|crypto)`,
		"Cryptocurrency doubling scam", "scam", 9},
	{"payment-update", `(update|confirm|re-?enter).{0,30}(payment|billing|card) (info|details|method)`,
		"Payment-detail harvesting", "phishing", 7},
	{"executable-download", `\.(exe|scr|bat|cmd|apk|msi)([?#]|$)`,
		"Direct executable download", "malware", 8},
	{"ip-literal-url", `https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`,
		"Raw IP address instead of hostname", "phishing", 6},
	{"credential-at-sign", `https?://[^/\s]+@`,
		"Userinfo trick hiding the real host", "phishing", 8},
	{"punycode-host", `https?://xn--`,
		"Punycode hostname, possible homograph attack", "impersonation", 7},
	{"delivery-scam", `(package|parcel|delivery).{0,40}(held|waiting|fee|customs)`,
		"Fake delivery notification", "scam", 6},
	{"remote-access-lure", `(install|download).{0,30}(anydesk|teamviewer|remote desktop)`,
		"Remote-access tool lure", "scam", 8},
}

// PatternDB matches targets against the local threat-pattern set.
//
// Description:
//
//	A purely local signal source: no network, no quota, safe to run
//	in every tier. The Result score is the summed severity of all
//	hits scaled to 0-100; Detail carries the individual detections
//	for the risk factors.
//
// Thread Safety: safe for concurrent use after construction.
type PatternDB struct {
	patterns []Pattern
	log      *slog.Logger
}

// NewPatternDB compiles the builtin pattern set.
//
// Outputs:
//   - *PatternDB: ready to use.
//   - error: non-nil when a pattern fails to compile.
func NewPatternDB(log *slog.Logger) (*PatternDB, error) {
	if log == nil {
		log = slog.Default()
	}
	patterns := make([]Pattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(`(?i)` + p.expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.id, err)
		}
		patterns = append(patterns, Pattern{
			ID:          p.id,
			Description: p.desc,
			Category:    p.category,
			Severity:    p.severity,
			re:          re,
		})
	}
	log.Debug("pattern database loaded", "patterns", len(patterns))
	return &PatternDB{patterns: patterns, log: log}, nil
}

// Name implements Adapter.
func (p *PatternDB) Name() string { return signal.SourcePatternDB }

// Category implements Adapter.
func (p *PatternDB) Category() signal.Category { return signal.CategoryThreatFeed }

// AppliesTo implements Adapter.
func (p *PatternDB) AppliesTo(validation.TargetKind) bool { return true }

// Execute implements Adapter.
func (p *PatternDB) Execute(_ context.Context, target validation.Target) signal.Result {
	start := time.Now()

	var detections []Detection
	severitySum := 0
	for _, pat := range p.patterns {
		if pat.re.MatchString(target.Normalized) {
			detections = append(detections, Detection{
				PatternID:   pat.ID,
				Description: pat.Description,
				Category:    pat.Category,
				Severity:    pat.Severity,
			})
			severitySum += pat.Severity
		}
	}

	score := severitySum * 4
	if score > 100 {
		score = 100
	}

	return signal.Result{
		SourceName: p.Name(),
		Category:   p.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(score),
		Detail: map[string]any{
			signal.DetailHitCount:    len(detections),
			signal.DetailSeveritySum: severitySum,
			signal.DetailDetections:  detections,
		},
		Elapsed: time.Since(start),
	}
}

// Size returns the number of compiled patterns.
func (p *PatternDB) Size() int { return len(p.patterns) }
