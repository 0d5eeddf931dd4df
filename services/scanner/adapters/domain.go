// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/viralsafe/pkg/validation"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

// tldRisk maps top-level domains to a 0-100 risk weight. Free or
// giveaway TLDs score high; established TLDs score low. Unlisted
// TLDs get a neutral default.
var tldRisk = map[string]int{
	"tk": 90, "ml": 90, "ga": 90, "cf": 90, "gq": 90,
	"zip": 75, "mov": 70,
	"xyz": 60, "top": 60, "club": 55, "work": 55, "click": 65,
	"info": 40, "biz": 40,
	"com": 10, "org": 10, "net": 15,
	"edu": 5, "gov": 5, "mil": 5,
	"io": 15, "dev": 15, "app": 15,
}

const tldRiskDefault = 30

// TLDAnalysis scores the target's top-level domain.
//
// Thread Safety: safe for concurrent use.
type TLDAnalysis struct {
	log *slog.Logger
}

// NewTLDAnalysis creates the TLD analyzer.
func NewTLDAnalysis(log *slog.Logger) *TLDAnalysis {
	if log == nil {
		log = slog.Default()
	}
	return &TLDAnalysis{log: log}
}

// Name implements Adapter.
func (t *TLDAnalysis) Name() string { return signal.SourceTLDAnalysis }

// Category implements Adapter.
func (t *TLDAnalysis) Category() signal.Category { return signal.CategoryReputation }

// AppliesTo implements Adapter.
func (t *TLDAnalysis) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (t *TLDAnalysis) Execute(_ context.Context, target validation.Target) signal.Result {
	start := time.Now()
	if target.Kind != validation.KindURL || target.Host == "" {
		return signal.Failure(t.Name(), t.Category(), "not applicable to text targets", 0)
	}

	host := target.Host
	tld := host[strings.LastIndex(host, ".")+1:]
	risk, known := tldRisk[tld]
	if !known {
		risk = tldRiskDefault
	}

	reason := "established top-level domain"
	switch {
	case risk >= 70:
		reason = "top-level domain frequently used for abuse"
	case risk >= 40:
		reason = "top-level domain with elevated abuse rates"
	}

	return signal.Result{
		SourceName: t.Name(),
		Category:   t.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(risk),
		Detail: map[string]any{
			signal.DetailTLD:        tld,
			signal.DetailRiskReason: reason,
			"known_tld":             known,
		},
		Elapsed: time.Since(start),
	}
}

// URLStructure scores how suspicious the URL's shape is, independent
// of where it points.
//
// Description:
//
//	Checks length, subdomain depth, hyphen and digit density, scheme,
//	and port tricks, accumulating a 0-100 structural risk score.
//	Each matched issue is named in the Detail for reporting.
//
// Thread Safety: safe for concurrent use.
type URLStructure struct {
	log *slog.Logger
}

// NewURLStructure creates the structure analyzer.
func NewURLStructure(log *slog.Logger) *URLStructure {
	if log == nil {
		log = slog.Default()
	}
	return &URLStructure{log: log}
}

// Name implements Adapter.
func (u *URLStructure) Name() string { return signal.SourceURLStructure }

// Category implements Adapter.
func (u *URLStructure) Category() signal.Category { return signal.CategoryContent }

// AppliesTo implements Adapter.
func (u *URLStructure) AppliesTo(kind validation.TargetKind) bool { return kind == validation.KindURL }

// Execute implements Adapter.
func (u *URLStructure) Execute(_ context.Context, target validation.Target) signal.Result {
	start := time.Now()
	if target.Kind != validation.KindURL {
		return signal.Failure(u.Name(), u.Category(), "not applicable to text targets", 0)
	}

	parsed, err := url.Parse(target.Normalized)
	if err != nil {
		return signal.Failure(u.Name(), u.Category(), err.Error(), time.Since(start))
	}

	risk := 0
	var issues []string
	addIssue := func(points int, issue string) {
		risk += points
		issues = append(issues, issue)
	}

	if len(target.Normalized) > 100 {
		addIssue(15, "unusually long URL")
	}
	host := parsed.Hostname()
	if n := strings.Count(host, "."); n >= 4 {
		addIssue(20, "excessive subdomain depth")
	}
	if strings.Count(host, "-") >= 3 {
		addIssue(15, "hyphen-heavy hostname")
	}
	if digitCount(host) >= 4 {
		addIssue(10, "digit-heavy hostname")
	}
	if parsed.Scheme == "http" {
		addIssue(15, "no TLS")
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		addIssue(15, "non-standard port")
	}
	if strings.Contains(parsed.Path, "//") {
		addIssue(10, "double slash in path")
	}
	if risk > 100 {
		risk = 100
	}

	return signal.Result{
		SourceName: u.Name(),
		Category:   u.Category(),
		Outcome:    signal.OutcomeSuccess,
		Score:      signal.IntPtr(risk),
		Detail: map[string]any{
			signal.DetailIssues: issues,
			"url_length":        len(target.Normalized),
		},
		Elapsed: time.Since(start),
	}
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
