package signal

import (
	"testing"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		ImbalanceEntryThreshold: 0.15,
		MinLargeTrades:          2,
		VolumeConfirmationMult:  1.5,
		MinRiskReward:           0.8,
		PriorityHighImbalance:   0.25,
		PriorityMediumImbalance: 0.20,
	}
}

func validPlacement(rr float64) (StopResult, TargetsResult) {
	return StopResult{Valid: true, Price: 99.20, DistanceUSD: 0.80},
		TargetsResult{Valid: true, TP1: 100.95, TP1RR: rr}
}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(testSignalConfig())
	stop, targets := validPlacement(1.1875)

	verdict := v.Validate(0.18, 3, 2.0, stop, targets, 4)

	require.True(t, verdict.Accepted)
	assert.Empty(t, verdict.Reasons)
	assert.Equal(t, PriorityLow, verdict.Priority)
	// 15 imbalance + 15 trades + 15 intensity + 10 rr + 7 levels
	assert.InDelta(t, 62.0, verdict.Score, 1e-9)
}

func TestValidateImbalanceThreshold(t *testing.T) {
	v := NewValidator(testSignalConfig())
	stop, targets := validPlacement(1.2)

	atThreshold := v.Validate(0.15, 3, 2.0, stop, targets, 4)
	assert.True(t, atThreshold.Accepted)

	below := v.Validate(0.1499, 3, 2.0, stop, targets, 4)
	require.False(t, below.Accepted)
	assert.Contains(t, below.Reasons[0], "imbalance")

	// Sign does not matter, only magnitude.
	short := v.Validate(-0.18, 3, 2.0, stop, targets, 4)
	assert.True(t, short.Accepted)
}

func TestValidatePriorityBands(t *testing.T) {
	v := NewValidator(testSignalConfig())
	stop, targets := validPlacement(1.2)

	assert.Equal(t, PriorityHigh, v.Validate(0.26, 3, 2.0, stop, targets, 4).Priority)
	assert.Equal(t, PriorityHigh, v.Validate(0.25, 3, 2.0, stop, targets, 4).Priority)
	assert.Equal(t, PriorityMedium, v.Validate(0.20, 3, 2.0, stop, targets, 4).Priority)
	assert.Equal(t, PriorityLow, v.Validate(0.16, 3, 2.0, stop, targets, 4).Priority)
}

func TestValidateCollectsAllReasons(t *testing.T) {
	v := NewValidator(testSignalConfig())

	verdict := v.Validate(0.05, 0, 1.0,
		StopResult{Valid: false, Reason: "No support levels found in working range"},
		TargetsResult{Valid: false, Reason: "Invalid stop loss"}, 0)

	require.False(t, verdict.Accepted)
	assert.Len(t, verdict.Reasons, 6)
}

func TestValidateMaxScore(t *testing.T) {
	v := NewValidator(testSignalConfig())
	stop, targets := validPlacement(2.0)

	verdict := v.Validate(0.30, 5, 3.0, stop, targets, 5)

	require.True(t, verdict.Accepted)
	assert.InDelta(t, 100.0, verdict.Score, 1e-9)
	assert.Equal(t, PriorityHigh, verdict.Priority)
}

func TestValidateScoreTiers(t *testing.T) {
	v := NewValidator(testSignalConfig())
	stop, targets := validPlacement(0.9)

	// 25 imbalance + 10 trades + 10 intensity + 5 rr + 5 levels
	verdict := v.Validate(0.21, 2, 1.5, stop, targets, 1)

	require.True(t, verdict.Accepted)
	assert.InDelta(t, 55.0, verdict.Score, 1e-9)
}

func TestDirectionFromImbalance(t *testing.T) {
	assert.Equal(t, database.DirectionLong, DirectionFromImbalance(0.2))
	assert.Equal(t, database.DirectionLong, DirectionFromImbalance(0))
	assert.Equal(t, database.DirectionShort, DirectionFromImbalance(-0.2))
}
