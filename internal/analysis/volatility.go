package analysis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"futures-signal-bot/internal/database"
)

// Volatility classes by ATR as a percentage of price
const (
	VolatilityLow    = "LOW"
	VolatilityMedium = "MEDIUM"
	VolatilityHigh   = "HIGH"
)

// KlineSource supplies persisted candles to the analyzers.
type KlineSource interface {
	GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]*database.Kline, error)
	GetKlinesSince(ctx context.Context, symbol, interval string, since time.Time) ([]*database.Kline, error)
}

// VolatilityResult is the ATR estimate and derived working range.
type VolatilityResult struct {
	ATR           float64
	VolatilityPct float64
	Class         string
	RangeLow      float64
	RangeHigh     float64
}

// VolatilityEstimator computes ATR from recent closed minute candles, with a
// per-symbol result cache.
type VolatilityEstimator struct {
	klines     KlineSource
	atrPeriod  int
	rangeMult  float64
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cachedVolatility
}

type cachedVolatility struct {
	result     VolatilityResult
	computedAt time.Time
}

// NewVolatilityEstimator creates an estimator with the given ATR period and
// working-range multiplier.
func NewVolatilityEstimator(klines KlineSource, atrPeriod int, rangeMult float64) *VolatilityEstimator {
	return &VolatilityEstimator{
		klines:    klines,
		atrPeriod: atrPeriod,
		rangeMult: rangeMult,
		cacheTTL:  60 * time.Second,
		cache:     make(map[string]cachedVolatility),
	}
}

// Estimate returns the ATR-based volatility for symbol around the given mid
// price. Results are cached for 60 seconds per symbol; the working range is
// recentered on mid each call.
func (e *VolatilityEstimator) Estimate(ctx context.Context, symbol string, mid float64) (*VolatilityResult, error) {
	e.mu.Lock()
	if cached, ok := e.cache[symbol]; ok && time.Since(cached.computedAt) < e.cacheTTL {
		e.mu.Unlock()
		result := cached.result
		result.RangeLow = mid - e.rangeMult*result.ATR
		result.RangeHigh = mid + e.rangeMult*result.ATR
		return &result, nil
	}
	e.mu.Unlock()

	needed := e.atrPeriod + 1
	klines, err := e.klines.GetRecentKlines(ctx, symbol, "1m", needed)
	if err != nil {
		return nil, fmt.Errorf("failed to load klines for %s: %w", symbol, err)
	}
	if len(klines) < needed {
		return nil, fmt.Errorf("insufficient candle history for %s: have %d, need %d",
			symbol, len(klines), needed)
	}

	// True range per candle, against the previous close.
	trueRanges := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		k := klines[i]
		prevClose := klines[i-1].Close
		tr := math.Max(k.High-k.Low,
			math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	var sum float64
	for i := 0; i < e.atrPeriod; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(e.atrPeriod)

	lastClose := klines[len(klines)-1].Close
	volatilityPct := 0.0
	if lastClose > 0 {
		volatilityPct = atr / lastClose * 100
	}

	result := VolatilityResult{
		ATR:           atr,
		VolatilityPct: volatilityPct,
		Class:         classifyVolatility(volatilityPct),
		RangeLow:      mid - e.rangeMult*atr,
		RangeHigh:     mid + e.rangeMult*atr,
	}

	e.mu.Lock()
	e.cache[symbol] = cachedVolatility{result: result, computedAt: time.Now()}
	e.mu.Unlock()

	return &result, nil
}

func classifyVolatility(pct float64) string {
	switch {
	case pct < 0.3:
		return VolatilityLow
	case pct < 0.7:
		return VolatilityMedium
	default:
		return VolatilityHigh
	}
}

// Invalidate drops the cached estimate for symbol.
func (e *VolatilityEstimator) Invalidate(symbol string) {
	e.mu.Lock()
	delete(e.cache, symbol)
	e.mu.Unlock()
}
