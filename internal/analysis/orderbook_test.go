package analysis

import (
	"testing"

	"futures-signal-bot/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeImbalance(t *testing.T) {
	bids := []cache.PriceLevel{{Price: 99, Size: 6}, {Price: 98, Size: 3}}
	asks := []cache.PriceLevel{{Price: 101, Size: 1}}

	// (9 - 1) / (9 + 1)
	assert.InDelta(t, 0.8, ComputeImbalance(bids, asks), 1e-9)
}

func TestComputeImbalanceZeroDenominator(t *testing.T) {
	assert.Equal(t, 0.0, ComputeImbalance(nil, nil))
}

func TestComputeImbalanceCapsAtTopLevels(t *testing.T) {
	bids := make([]cache.PriceLevel, 300)
	for i := range bids {
		bids[i] = cache.PriceLevel{Price: float64(300 - i), Size: 1}
	}
	asks := []cache.PriceLevel{{Price: 301, Size: 200}}

	// Only the first 200 bid levels count: (200-200)/(200+200) = 0.
	assert.InDelta(t, 0.0, ComputeImbalance(bids, asks), 1e-9)
}

func TestFindLargeOrders(t *testing.T) {
	assert.Empty(t, FindLargeOrders(nil, 5))

	levels := make([]cache.PriceLevel, 0, 11)
	for i := 0; i < 10; i++ {
		levels = append(levels, cache.PriceLevel{Price: float64(100 - i), Size: 1})
	}
	// 8 against ten 1s: avg 1.64, threshold 8.18; just under.
	levels = append(levels, cache.PriceLevel{Price: 89, Size: 8})
	assert.Empty(t, FindLargeOrders(levels, 5))

	// 100 against ten 1s: avg 10, threshold 50.
	levels[10].Size = 100
	large := FindLargeOrders(levels, 5)
	require.Len(t, large, 1)
	assert.Equal(t, 89.0, large[0].Price)
}

func TestComputeSpread(t *testing.T) {
	assert.InDelta(t, 0.001, ComputeSpread(100, 100.1), 1e-9)
	assert.Equal(t, 0.0, ComputeSpread(0, 100.1))
}
