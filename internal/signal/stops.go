// Package signal builds entry signals: stop and target placement on volume
// levels, validation and scoring, the persistence gate and the emitter.
package signal

import (
	"fmt"

	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/database"
)

// StopResult is a stop placement attempt behind the dominant volume zone.
type StopResult struct {
	Price       float64
	DistancePct float64
	DistanceUSD float64
	Reason      string
	Valid       bool
	AnchorLevel float64
}

// FindStop places the stop behind the maximum-volume cluster on the
// protecting side with an ATR buffer. The placement is rejected when the
// stop lands on the wrong side of entry or further than maxStopPct away;
// there is no minimum distance, the closer to the anchor the better.
func FindStop(direction string, entry float64, levels *analysis.LevelsResult, atr, atrMult, maxStopPct float64) StopResult {
	var anchor *analysis.Level
	if direction == database.DirectionLong {
		anchor = levels.StrongestSupport
	} else {
		anchor = levels.StrongestResistance
	}

	if anchor == nil {
		side := "support"
		if direction == database.DirectionShort {
			side = "resistance"
		}
		return StopResult{
			Valid:  false,
			Reason: fmt.Sprintf("No %s levels found in working range", side),
		}
	}

	var stopPrice, distanceUSD float64
	var reason string
	if direction == database.DirectionLong {
		stopPrice = anchor.Price - atr*atrMult
		distanceUSD = entry - stopPrice
		reason = fmt.Sprintf("Below support cluster at %.2f", anchor.Price)
	} else {
		stopPrice = anchor.Price + atr*atrMult
		distanceUSD = stopPrice - entry
		reason = fmt.Sprintf("Above resistance cluster at %.2f", anchor.Price)
	}

	distancePct := distanceUSD / entry * 100
	valid := distancePct > 0 && distancePct <= maxStopPct

	if !valid {
		if distancePct > maxStopPct {
			reason += fmt.Sprintf(" (TOO WIDE: %.2f%% > %.2f%%)", distancePct, maxStopPct)
		} else if direction == database.DirectionLong {
			reason += " (INVALID: stop above entry)"
		} else {
			reason += " (INVALID: stop below entry)"
		}
	}

	return StopResult{
		Price:       stopPrice,
		DistancePct: distancePct,
		DistanceUSD: distanceUSD,
		Reason:      reason,
		Valid:       valid,
		AnchorLevel: anchor.Price,
	}
}
