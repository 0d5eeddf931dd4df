// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package risk turns collected signals into a composite safety verdict.
//
// The model starts from an optimistic baseline and subtracts (or adds)
// per-signal adjustments, then maps the final safety score onto a risk
// level, a letter grade, and a coarse trust rating. Higher scores mean
// safer targets.
package risk

import "fmt"

// Level is a coarse risk classification derived from the safety score.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor maps a 0-100 safety score to a risk level.
func LevelFor(score int) Level {
	switch {
	case score >= 90:
		return LevelMinimal
	case score >= 75:
		return LevelLow
	case score >= 60:
		return LevelMedium
	case score >= 40:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// GradeFor maps a 0-100 safety score to a letter grade.
func GradeFor(score int) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

// TrustRatingFor blends score and confidence (70/30) into a named tier.
func TrustRatingFor(score, confidence int) string {
	blended := 0.7*float64(score) + 0.3*float64(confidence)
	switch {
	case blended >= 95:
		return "FORTRESS"
	case blended >= 85:
		return "SECURE"
	case blended >= 70:
		return "CAUTION"
	case blended >= 50:
		return "RISK"
	default:
		return "DANGER"
	}
}

// Summary renders a one-line human description of a level.
func Summary(level Level, score int) string {
	switch level {
	case LevelMinimal:
		return fmt.Sprintf("Minimal risk (score %d): no significant threat indicators found", score)
	case LevelLow:
		return fmt.Sprintf("Low risk (score %d): minor issues detected", score)
	case LevelMedium:
		return fmt.Sprintf("Medium risk (score %d): proceed with caution", score)
	case LevelHigh:
		return fmt.Sprintf("High risk (score %d): multiple threat indicators present", score)
	default:
		return fmt.Sprintf("Critical risk (score %d): strong evidence of malicious intent", score)
	}
}
