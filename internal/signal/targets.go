package signal

import (
	"fmt"

	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/database"
)

// TargetsResult is a two-tier take-profit placement.
type TargetsResult struct {
	TP1            float64
	TP1DistancePct float64
	TP1RR          float64
	TP1Reason      string

	TP2            float64
	TP2DistancePct float64
	TP2RR          float64
	TP2Reason      string

	RiskUSD    float64
	Reward1USD float64
	Reward2USD float64

	Valid  bool
	Reason string
}

// tp2FallbackMult extends TP2 from reward1 when no second opposing level
// exists.
const tp2FallbackMult = 1.5

// targetFraction places targets just before the opposing level so the fill
// does not depend on the level breaking.
const targetFraction = 0.95

// FindTargets derives TP1 and TP2 from the nearest opposing levels. TP1
// lands at 95% of the distance to the first level; TP2 at 95% to the second
// or extended from reward1 when only one level exists. The placement is
// rejected when TP1 sits closer than minTPPct of entry or the risk/reward at
// TP1 falls below minRR.
func FindTargets(direction string, entry float64, stop StopResult, levels *analysis.LevelsResult, minTPPct, minRR float64) TargetsResult {
	if !stop.Valid {
		return TargetsResult{Valid: false, Reason: "Invalid stop loss"}
	}

	var opposing []analysis.Level
	var side string
	if direction == database.DirectionLong {
		opposing = levels.Resistances
		side = "resistance"
	} else {
		opposing = levels.Supports
		side = "support"
	}

	if len(opposing) == 0 {
		return TargetsResult{
			Valid:  false,
			Reason: fmt.Sprintf("No %s levels found for take profit", side),
		}
	}

	risk := stop.DistanceUSD

	sign := 1.0
	if direction == database.DirectionShort {
		sign = -1.0
	}

	distance1 := sign * (opposing[0].Price - entry)
	tp1 := entry + sign*distance1*targetFraction
	reward1 := sign * (tp1 - entry)
	tp1DistancePct := reward1 / entry * 100

	if tp1DistancePct > 0 && tp1DistancePct < minTPPct {
		return TargetsResult{
			Valid: false,
			Reason: fmt.Sprintf("TP1 too close: %.2f%% < %.2f%% minimum (%s at %.2f)",
				tp1DistancePct, minTPPct, side, tp1),
		}
	}

	result := TargetsResult{
		TP1:            tp1,
		TP1DistancePct: tp1DistancePct,
		TP1Reason:      fmt.Sprintf("95%% before %s at %.2f", side, opposing[0].Price),
		RiskUSD:        risk,
		Reward1USD:     reward1,
	}
	if risk > 0 {
		result.TP1RR = reward1 / risk
	}

	if len(opposing) >= 2 {
		distance2 := sign * (opposing[1].Price - entry)
		result.TP2 = entry + sign*distance2*targetFraction
		result.TP2Reason = fmt.Sprintf("95%% before second %s at %.2f", side, opposing[1].Price)
	} else {
		result.TP2 = entry + sign*reward1*tp2FallbackMult
		result.TP2Reason = fmt.Sprintf("Extended from TP1 (no second %s)", side)
	}

	result.Reward2USD = sign * (result.TP2 - entry)
	result.TP2DistancePct = result.Reward2USD / entry * 100
	if risk > 0 {
		result.TP2RR = result.Reward2USD / risk
	}

	result.Valid = result.TP1RR >= minRR
	if !result.Valid {
		result.Reason = fmt.Sprintf("Risk/reward too low: %.2f < %.2f", result.TP1RR, minRR)
	}

	return result
}
