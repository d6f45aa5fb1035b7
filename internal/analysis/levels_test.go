package analysis

import (
	"context"
	"testing"
	"time"

	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candle builds a 1m candle spanning [low, high] with the given volume.
func candle(high, low, volume float64) *database.Kline {
	return &database.Kline{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		OpenTime: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		High:     high,
		Low:      low,
		Close:    (high + low) / 2,
		Volume:   volume,
	}
}

func TestAnalyzeSplitsSupportsAndResistances(t *testing.T) {
	src := &fakeKlineSource{since: []*database.Kline{
		candle(99.6, 99.4, 5000), // support zone below price
		candle(100.6, 100.4, 4000), // resistance zone above price
		candle(100.05, 99.95, 300), // thin volume near price
	}}
	a := NewLevelsAnalyzer(src, 0.2, 2.0, 6)

	result, err := a.Analyze(context.Background(), "BTCUSDT", 100.0, 97.0, 103.0, nil, nil)
	require.NoError(t, err)

	require.NotEmpty(t, result.Supports)
	require.NotEmpty(t, result.Resistances)

	for _, s := range result.Supports {
		assert.Less(t, s.Price, 100.0)
	}
	for _, r := range result.Resistances {
		assert.Greater(t, r.Price, 100.0)
	}

	// Supports are nearest-first (descending), resistances ascending.
	for i := 1; i < len(result.Supports); i++ {
		assert.Less(t, result.Supports[i].Price, result.Supports[i-1].Price)
	}
	for i := 1; i < len(result.Resistances); i++ {
		assert.Greater(t, result.Resistances[i].Price, result.Resistances[i-1].Price)
	}
}

func TestStrongestIsVolumeDominantNotNearest(t *testing.T) {
	src := &fakeKlineSource{since: []*database.Kline{
		candle(99.85, 99.75, 2000), // near support, modest volume
		candle(99.15, 99.05, 9000), // far support, dominant volume
	}}
	a := NewLevelsAnalyzer(src, 0.2, 2.0, 6)

	result, err := a.Analyze(context.Background(), "BTCUSDT", 100.0, 97.0, 103.0, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StrongestSupport)
	require.NotEmpty(t, result.Supports)

	// Nearest support sits around 99.8, the strongest around 99.1.
	assert.Greater(t, result.Supports[0].Price, 99.5)
	assert.Less(t, result.StrongestSupport.Price, 99.5)
	assert.Greater(t, result.StrongestSupport.Volume, result.Supports[0].Volume)
}

func TestPOCIsMaxFusedVolume(t *testing.T) {
	src := &fakeKlineSource{since: []*database.Kline{
		candle(99.6, 99.4, 3000),
		candle(101.1, 100.9, 8000),
	}}
	a := NewLevelsAnalyzer(src, 0.2, 2.0, 6)

	result, err := a.Analyze(context.Background(), "BTCUSDT", 100.0, 97.0, 103.0, nil, nil)
	require.NoError(t, err)

	assert.Greater(t, result.POC, 100.5)
}

func TestOrderbookClustersJoinTheProfile(t *testing.T) {
	src := &fakeKlineSource{since: []*database.Kline{
		candle(99.6, 99.4, 5000),
	}}
	a := NewLevelsAnalyzer(src, 0.2, 2.0, 6)

	// A resting ask wall well above price, big enough to clear the cluster
	// threshold against thin surrounding levels.
	asks := []cache.PriceLevel{
		{Price: 101.50, Size: 500},
		{Price: 101.95, Size: 1},
		{Price: 102.40, Size: 1},
	}

	result, err := a.Analyze(context.Background(), "BTCUSDT", 100.0, 97.0, 103.0, nil, asks)
	require.NoError(t, err)

	found := false
	for _, r := range result.Resistances {
		if r.Price > 101.0 && r.Price < 102.0 {
			found = true
		}
	}
	assert.True(t, found, "ask wall should surface as a resistance level")
}

func TestLowVolumeZones(t *testing.T) {
	profile := map[float64]float64{
		99.0:  100,
		99.2:  2, // low
		99.4:  3, // low
		99.6:  100,
		99.8:  1, // low
		100.0: 100,
	}
	zones := findLowVolumeZones(profile)

	require.Len(t, zones, 2)
	assert.Equal(t, 99.2, zones[0].Low)
	assert.Equal(t, 99.4, zones[0].High)
	assert.Equal(t, 99.8, zones[1].Low)
	assert.Equal(t, 99.8, zones[1].High)
}

func TestNoLevelsOnEmptyData(t *testing.T) {
	src := &fakeKlineSource{}
	a := NewLevelsAnalyzer(src, 0.2, 2.0, 6)

	result, err := a.Analyze(context.Background(), "BTCUSDT", 100.0, 97.0, 103.0, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, result.TotalLevels)
	assert.Nil(t, result.StrongestSupport)
	assert.Nil(t, result.StrongestResistance)
}
