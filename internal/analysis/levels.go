package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"futures-signal-bot/internal/cache"
)

// Level is one significant price level with its fused volume.
type Level struct {
	Price  float64
	Volume float64
}

// Zone is a contiguous low-volume price band.
type Zone struct {
	Low  float64
	High float64
}

// LevelsResult is the fused view of order-book clusters and the historical
// volume profile inside the working range.
type LevelsResult struct {
	Supports            []Level // below current price, nearest first
	Resistances         []Level // above current price, nearest first
	StrongestSupport    *Level  // maximum fused volume below current price
	StrongestResistance *Level  // maximum fused volume above current price
	POC                 float64
	LowVolumeZones      []Zone
	TotalLevels         int
}

// maxLevelsPerSide caps the reported support/resistance lists.
const maxLevelsPerSide = 5

// LevelsAnalyzer bins depth and a 6-hour volume profile into
// 0.2%-of-price buckets and fuses them into significant levels.
type LevelsAnalyzer struct {
	klines       KlineSource
	binSizePct   float64
	clusterMult  float64
	minVolumePct float64
	profileHours int
}

// NewLevelsAnalyzer creates an analyzer with the given bin size (percent of
// price), cluster threshold multiplier and profile lookback hours.
func NewLevelsAnalyzer(klines KlineSource, binSizePct, clusterMult float64, profileHours int) *LevelsAnalyzer {
	return &LevelsAnalyzer{
		klines:       klines,
		binSizePct:   binSizePct,
		clusterMult:  clusterMult,
		minVolumePct: 10,
		profileHours: profileHours,
	}
}

// Analyze computes supports, resistances, POC and low-volume zones for
// symbol within [rangeLow, rangeHigh].
func (a *LevelsAnalyzer) Analyze(ctx context.Context, symbol string, currentPrice, rangeLow, rangeHigh float64, bids, asks []cache.PriceLevel) (*LevelsResult, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("invalid current price %f for %s", currentPrice, symbol)
	}

	clusters := a.findOrderbookClusters(bids, asks, rangeLow, rangeHigh, currentPrice)

	profile, err := a.buildVolumeProfile(ctx, symbol, rangeLow, rangeHigh)
	if err != nil {
		return nil, err
	}

	levelVolumes := a.fuseLevels(clusters, profile)

	result := &LevelsResult{
		POC:            currentPrice,
		LowVolumeZones: findLowVolumeZones(profile),
		TotalLevels:    len(levelVolumes),
	}

	var pocVolume float64
	for price, volume := range levelVolumes {
		level := Level{Price: price, Volume: volume}
		if price < currentPrice {
			result.Supports = append(result.Supports, level)
			if result.StrongestSupport == nil || volume > result.StrongestSupport.Volume {
				l := level
				result.StrongestSupport = &l
			}
		} else if price > currentPrice {
			result.Resistances = append(result.Resistances, level)
			if result.StrongestResistance == nil || volume > result.StrongestResistance.Volume {
				l := level
				result.StrongestResistance = &l
			}
		}
		if volume > pocVolume {
			pocVolume = volume
			result.POC = price
		}
	}

	// Supports descend (nearest first), resistances ascend.
	sort.Slice(result.Supports, func(i, j int) bool {
		return result.Supports[i].Price > result.Supports[j].Price
	})
	sort.Slice(result.Resistances, func(i, j int) bool {
		return result.Resistances[i].Price < result.Resistances[j].Price
	})

	if len(result.Supports) > maxLevelsPerSide {
		result.Supports = result.Supports[:maxLevelsPerSide]
	}
	if len(result.Resistances) > maxLevelsPerSide {
		result.Resistances = result.Resistances[:maxLevelsPerSide]
	}

	return result, nil
}

// findOrderbookClusters buckets resting size by binned price and keeps
// buckets above clusterMult times the average.
func (a *LevelsAnalyzer) findOrderbookClusters(bids, asks []cache.PriceLevel, rangeLow, rangeHigh, currentPrice float64) map[float64]float64 {
	binSize := currentPrice * a.binSizePct / 100

	buckets := make(map[float64]float64)
	addSide := func(levels []cache.PriceLevel) {
		for _, l := range levels {
			if l.Price < rangeLow || l.Price > rangeHigh {
				continue
			}
			binPrice := math.Round(l.Price/binSize) * binSize
			buckets[binPrice] += l.Size
		}
	}
	addSide(bids)
	addSide(asks)

	if len(buckets) == 0 {
		return nil
	}

	var total float64
	for _, v := range buckets {
		total += v
	}
	threshold := total / float64(len(buckets)) * a.clusterMult

	clusters := make(map[float64]float64)
	for price, vol := range buckets {
		if vol > threshold {
			clusters[price] = vol
		}
	}
	return clusters
}

// buildVolumeProfile distributes each recent candle's volume uniformly
// across the bins its high-low range spans.
func (a *LevelsAnalyzer) buildVolumeProfile(ctx context.Context, symbol string, rangeLow, rangeHigh float64) (map[float64]float64, error) {
	since := time.Now().Add(-time.Duration(a.profileHours) * time.Hour)
	klines, err := a.klines.GetKlinesSince(ctx, symbol, "1m", since)
	if err != nil {
		return nil, fmt.Errorf("failed to load volume profile candles for %s: %w", symbol, err)
	}

	binSize := (rangeLow + rangeHigh) / 2 * a.binSizePct / 100
	if binSize <= 0 {
		return nil, fmt.Errorf("invalid working range [%f, %f] for %s", rangeLow, rangeHigh, symbol)
	}

	profile := make(map[float64]float64)
	for _, k := range klines {
		if k.High <= k.Low {
			continue
		}
		bins := int((k.High-k.Low)/binSize) + 1
		volumePerBin := k.Volume / float64(bins)

		for i := 0; i < bins; i++ {
			price := k.Low + float64(i)*binSize
			if price < rangeLow || price > rangeHigh {
				continue
			}
			binPrice := math.Round(price/binSize) * binSize
			profile[binPrice] += volumePerBin
		}
	}
	return profile, nil
}

// fuseLevels merges order-book clusters into the volume profile. Cluster
// sizes are rescaled by max_volume/10 to live on the profile's volume scale;
// only levels carrying at least minVolumePct of the maximum survive.
func (a *LevelsAnalyzer) fuseLevels(clusters, profile map[float64]float64) map[float64]float64 {
	var maxVolume float64
	for _, v := range profile {
		if v > maxVolume {
			maxVolume = v
		}
	}
	for _, v := range clusters {
		if v > maxVolume {
			maxVolume = v
		}
	}
	if maxVolume == 0 {
		maxVolume = 1
	}
	minThreshold := maxVolume * a.minVolumePct / 100

	fused := make(map[float64]float64)
	for price, volume := range profile {
		if volume >= minThreshold {
			fused[price] = volume
		}
	}
	for price, volume := range clusters {
		normalized := volume * maxVolume / 10
		if normalized >= minThreshold {
			fused[price] = normalized
		}
	}
	return fused
}

// findLowVolumeZones reports up to three contiguous runs of profile bins
// carrying less than half the mean profile volume.
func findLowVolumeZones(profile map[float64]float64) []Zone {
	if len(profile) == 0 {
		return nil
	}

	var total float64
	prices := make([]float64, 0, len(profile))
	for price, volume := range profile {
		prices = append(prices, price)
		total += volume
	}
	sort.Float64s(prices)
	threshold := total / float64(len(profile)) * 0.5

	var zones []Zone
	zoneStart := math.NaN()
	var lastLow float64

	for _, price := range prices {
		if profile[price] < threshold {
			if math.IsNaN(zoneStart) {
				zoneStart = price
			}
			lastLow = price
		} else if !math.IsNaN(zoneStart) {
			zones = append(zones, Zone{Low: zoneStart, High: lastLow})
			zoneStart = math.NaN()
		}
	}
	if !math.IsNaN(zoneStart) {
		zones = append(zones, Zone{Low: zoneStart, High: prices[len(prices)-1]})
	}

	if len(zones) > 3 {
		zones = zones[:3]
	}
	return zones
}
