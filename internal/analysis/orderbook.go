package analysis

import (
	"futures-signal-bot/internal/cache"
)

// imbalanceDepth bounds how many levels per side feed the global imbalance.
const imbalanceDepth = 200

// ComputeImbalance returns the signed bid/ask size asymmetry in [-1, 1] over
// the top min(len, 200) levels per side. Zero denominator yields 0.
func ComputeImbalance(bids, asks []cache.PriceLevel) float64 {
	var bidSum, askSum float64
	for i, l := range bids {
		if i >= imbalanceDepth {
			break
		}
		bidSum += l.Size
	}
	for i, l := range asks {
		if i >= imbalanceDepth {
			break
		}
		askSum += l.Size
	}

	total := bidSum + askSum
	if total == 0 {
		return 0
	}
	return (bidSum - askSum) / total
}

// FindLargeOrders returns the levels whose size exceeds multiplier times the
// average level size.
func FindLargeOrders(levels []cache.PriceLevel, multiplier float64) []cache.PriceLevel {
	if len(levels) == 0 {
		return nil
	}

	var total float64
	for _, l := range levels {
		total += l.Size
	}
	threshold := total / float64(len(levels)) * multiplier

	var large []cache.PriceLevel
	for _, l := range levels {
		if l.Size > threshold {
			large = append(large, l)
		}
	}
	return large
}

// ComputeSpread returns (best_ask - best_bid) / best_bid. Zero bid yields 0.
func ComputeSpread(bestBid, bestAsk float64) float64 {
	if bestBid == 0 {
		return 0
	}
	return (bestAsk - bestBid) / bestBid
}
