package signal

import (
	"fmt"
	"math"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/database"
)

// Priority labels by imbalance strength
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// Verdict is the validator's accept/reject decision with quality score.
type Verdict struct {
	Accepted bool
	Reasons  []string
	Score    float64
	Priority string
}

// Validator enforces the minimum entry thresholds and scores accepted
// proposals 0-100.
type Validator struct {
	cfg config.SignalConfig
}

// NewValidator creates a validator from the signal thresholds.
func NewValidator(cfg config.SignalConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate applies the hard rejects and, on acceptance, the quality score
// and priority label. largeTrades is the count on the signal's side.
func (v *Validator) Validate(imbalance float64, largeTrades int, volumeIntensity float64, stop StopResult, targets TargetsResult, totalLevels int) Verdict {
	absImb := math.Abs(imbalance)
	var reasons []string

	if absImb < v.cfg.ImbalanceEntryThreshold {
		reasons = append(reasons, fmt.Sprintf("imbalance %.4f below threshold %.2f",
			absImb, v.cfg.ImbalanceEntryThreshold))
	}
	if largeTrades < v.cfg.MinLargeTrades {
		reasons = append(reasons, fmt.Sprintf("large trades %d below minimum %d",
			largeTrades, v.cfg.MinLargeTrades))
	}
	if volumeIntensity < v.cfg.VolumeConfirmationMult {
		reasons = append(reasons, fmt.Sprintf("volume intensity %.2f below minimum %.2f",
			volumeIntensity, v.cfg.VolumeConfirmationMult))
	}
	if !stop.Valid {
		reasons = append(reasons, "invalid stop: "+stop.Reason)
	}
	if !targets.Valid {
		reasons = append(reasons, "invalid targets: "+targets.Reason)
	}
	if targets.Valid && targets.TP1RR < v.cfg.MinRiskReward {
		reasons = append(reasons, fmt.Sprintf("risk/reward %.2f below minimum %.2f",
			targets.TP1RR, v.cfg.MinRiskReward))
	}
	if totalLevels == 0 {
		reasons = append(reasons, "no significant levels found")
	}

	if len(reasons) > 0 {
		return Verdict{Accepted: false, Reasons: reasons}
	}

	return Verdict{
		Accepted: true,
		Score:    v.score(absImb, largeTrades, volumeIntensity, targets.TP1RR, totalLevels),
		Priority: v.priority(absImb),
	}
}

func (v *Validator) priority(absImb float64) string {
	switch {
	case absImb >= v.cfg.PriorityHighImbalance:
		return PriorityHigh
	case absImb >= v.cfg.PriorityMediumImbalance:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// score sums the five quality components.
func (v *Validator) score(absImb float64, largeTrades int, volumeIntensity, riskReward float64, totalLevels int) float64 {
	var score float64

	// Imbalance strength, up to 30
	switch {
	case absImb >= 0.25:
		score += 30
	case absImb >= 0.20:
		score += 25
	case absImb >= 0.15:
		score += 15
	default:
		score += math.Max(0, 60*absImb)
	}

	// Large-trade pressure, up to 20
	switch {
	case largeTrades >= 5:
		score += 20
	case largeTrades >= 3:
		score += 15
	case largeTrades >= 2:
		score += 10
	default:
		score += 5 * float64(largeTrades)
	}

	// Volume intensity, up to 20
	switch {
	case volumeIntensity >= 3.0:
		score += 20
	case volumeIntensity >= 2.0:
		score += 15
	case volumeIntensity >= 1.5:
		score += 10
	default:
		score += math.Max(0, 20*(volumeIntensity-1))
	}

	// Risk/reward at TP1, up to 20
	switch {
	case riskReward >= 2.0:
		score += 20
	case riskReward >= 1.5:
		score += 15
	case riskReward >= 1.0:
		score += 10
	case riskReward >= 0.8:
		score += 5
	}

	// Level clarity, up to 10
	switch {
	case totalLevels >= 5:
		score += 10
	case totalLevels >= 3:
		score += 7
	case totalLevels >= 1:
		score += 5
	}

	return score
}

// DirectionFromImbalance maps the imbalance sign to a trade direction.
func DirectionFromImbalance(imbalance float64) string {
	if imbalance >= 0 {
		return database.DirectionLong
	}
	return database.DirectionShort
}
