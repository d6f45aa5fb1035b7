package signal

import (
	"testing"

	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSidedLevels(supports, resistances []analysis.Level) *analysis.LevelsResult {
	return &analysis.LevelsResult{
		Supports:    supports,
		Resistances: resistances,
		TotalLevels: len(supports) + len(resistances),
	}
}

func TestFindTargetsLongTwoResistances(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.80}
	levels := twoSidedLevels(nil, []analysis.Level{
		{Price: 101.00, Volume: 800},
		{Price: 102.00, Volume: 600},
	})

	targets := FindTargets(database.DirectionLong, 100.0, stop, levels, 0.50, 0.8)

	require.True(t, targets.Valid)
	assert.InDelta(t, 100.95, targets.TP1, 1e-9)
	assert.InDelta(t, 0.95, targets.TP1DistancePct, 1e-9)
	assert.InDelta(t, 1.1875, targets.TP1RR, 1e-9)
	assert.Equal(t, "95% before resistance at 101.00", targets.TP1Reason)

	assert.InDelta(t, 101.90, targets.TP2, 1e-9)
	assert.Equal(t, "95% before second resistance at 102.00", targets.TP2Reason)
	assert.InDelta(t, 2.375, targets.TP2RR, 1e-9)
}

func TestFindTargetsTP2FallbackExtension(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.80}
	levels := twoSidedLevels(nil, []analysis.Level{{Price: 101.00, Volume: 800}})

	targets := FindTargets(database.DirectionLong, 100.0, stop, levels, 0.50, 0.8)

	require.True(t, targets.Valid)
	assert.InDelta(t, 101.425, targets.TP2, 1e-9)
	assert.Equal(t, "Extended from TP1 (no second resistance)", targets.TP2Reason)
}

func TestFindTargetsShortMirrors(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.80}
	// Supports come nearest first for a short.
	levels := twoSidedLevels([]analysis.Level{
		{Price: 99.00, Volume: 800},
		{Price: 98.00, Volume: 600},
	}, nil)

	targets := FindTargets(database.DirectionShort, 100.0, stop, levels, 0.50, 0.8)

	require.True(t, targets.Valid)
	assert.InDelta(t, 99.05, targets.TP1, 1e-9)
	assert.InDelta(t, 0.95, targets.TP1DistancePct, 1e-9)
	assert.InDelta(t, 1.1875, targets.TP1RR, 1e-9)
	assert.Equal(t, "95% before support at 99.00", targets.TP1Reason)
	assert.InDelta(t, 98.10, targets.TP2, 1e-9)
}

func TestFindTargetsRejectsTP1TooClose(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.40}
	// 95% of 0.52 is 0.494%, under the 0.50% minimum.
	levels := twoSidedLevels(nil, []analysis.Level{{Price: 100.52, Volume: 800}})

	targets := FindTargets(database.DirectionLong, 100.0, stop, levels, 0.50, 0.8)

	assert.False(t, targets.Valid)
	assert.Contains(t, targets.Reason, "TP1 too close")
}

func TestFindTargetsAcceptsTP1PastMinimum(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.40}
	levels := twoSidedLevels(nil, []analysis.Level{{Price: 100.53, Volume: 800}})

	targets := FindTargets(database.DirectionLong, 100.0, stop, levels, 0.50, 0.8)

	assert.True(t, targets.Valid)
	assert.InDelta(t, 0.5035, targets.TP1DistancePct, 1e-9)
}

func TestFindTargetsRejectsLowRiskReward(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 1.0}
	// Reward 0.76 against risk 1.0 falls under the 0.8 floor.
	levels := twoSidedLevels(nil, []analysis.Level{{Price: 100.80, Volume: 800}})

	targets := FindTargets(database.DirectionLong, 100.0, stop, levels, 0.50, 0.8)

	assert.False(t, targets.Valid)
	assert.Equal(t, "Risk/reward too low: 0.76 < 0.80", targets.Reason)
}

func TestFindTargetsInvalidStop(t *testing.T) {
	targets := FindTargets(database.DirectionLong, 100.0, StopResult{Valid: false},
		twoSidedLevels(nil, []analysis.Level{{Price: 101.00}}), 0.50, 0.8)

	assert.False(t, targets.Valid)
	assert.Equal(t, "Invalid stop loss", targets.Reason)
}

func TestFindTargetsNoOpposingLevels(t *testing.T) {
	stop := StopResult{Valid: true, DistanceUSD: 0.80}

	long := FindTargets(database.DirectionLong, 100.0, stop, twoSidedLevels(nil, nil), 0.50, 0.8)
	assert.False(t, long.Valid)
	assert.Equal(t, "No resistance levels found for take profit", long.Reason)

	short := FindTargets(database.DirectionShort, 100.0, stop, twoSidedLevels(nil, nil), 0.50, 0.8)
	assert.False(t, short.Valid)
	assert.Equal(t, "No support levels found for take profit", short.Reason)
}
