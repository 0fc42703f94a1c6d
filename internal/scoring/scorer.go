// Package scoring implements the deterministic, explainable priority score
// used whenever no trained classifier is available.
package scoring

import (
	"math"

	"github.com/invisible-tech/threatcore/internal/features"
	"github.com/invisible-tech/threatcore/internal/types"
)

// Priority thresholds applied to a score in [0,1].
const (
	CriticalThreshold = 0.88
	HighThreshold     = 0.72
	MediumThreshold   = 0.52
	LowThreshold      = 0.32
)

// Bounds returns the achievable score band for an event type with base
// severity t.
func Bounds(t float64) (lo, hi float64) {
	return math.Max(0.10, 0.5*t), math.Min(0.95, 1.2*t)
}

// Score computes the intelligent score of a scoring vector.
func Score(v features.ScoringVector) float64 {
	typeSeverity := v[features.EventTypeSeverity]

	severity := math.Max(0, math.Min(1.0, v[features.SeverityNumeric]/10.0))

	base := typeSeverity*0.40 + severity*0.30

	multiplier := 1.0
	if v[features.HasMalwareKeywords] > 0 {
		multiplier += 0.25
	}
	if v[features.HasExploitKeywords] > 0 {
		multiplier += 0.20
	}
	if v[features.HasPrivilegeEscalation] > 0 {
		multiplier += 0.15
	}
	if v[features.HasSuspiciousPatterns] > 0 {
		multiplier += 0.10
	}
	base *= math.Min(1.6, multiplier)

	base += v[features.NetworkAnomaly] * 0.15
	base += frequencyBonus(v)
	base += (v[features.TimeOfDay] - 0.4) * 0.05
	base += (v[features.SourceReliability] - 0.65) * 0.02

	base = compress(base)

	lo, hi := Bounds(typeSeverity)
	return math.Max(lo, math.Min(hi, base))
}

// ScoreEvent extracts the scoring vector and scores it.
func ScoreEvent(ev *types.Event, ctx types.Context) float64 {
	return Score(features.Scoring(ev, ctx))
}

// PriorityFor maps a score onto the five priority levels.
func PriorityFor(score float64) types.Priority {
	switch {
	case score >= CriticalThreshold:
		return types.PriorityCritical
	case score >= HighThreshold:
		return types.PriorityHigh
	case score >= MediumThreshold:
		return types.PriorityMedium
	case score >= LowThreshold:
		return types.PriorityLow
	default:
		return types.PriorityInfo
	}
}

func frequencyBonus(v features.ScoringVector) float64 {
	mean := (v[features.SourceIPFrequency] + v[features.DestinationIPFrequency] + v[features.UserFrequency]) / 3.0
	switch {
	case mean > 2.8:
		return 0.10
	case mean > 2.2:
		return 0.07
	case mean > 1.5:
		return 0.04
	case mean > 0.7:
		return 0.02
	default:
		return 0
	}
}

// compress softens scores above 0.85 while keeping them ordered.
func compress(base float64) float64 {
	switch {
	case base > 0.90:
		return 0.90 + (base-0.90)*0.33
	case base > 0.85:
		return 0.85 + (base-0.85)*0.50
	default:
		return base
	}
}
