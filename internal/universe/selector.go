// Package universe selects the tradable instrument set: liquid USDT
// perpetuals filtered on volume, open interest and spread, scored and capped.
package universe

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/binance"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/events"
	"futures-signal-bot/internal/logging"
)

// MarketData is the exchange surface the selector reads.
type MarketData interface {
	GetExchangeInfo(ctx context.Context) (*binance.ExchangeInfo, error)
	Get24hrTickers(ctx context.Context) ([]binance.Ticker24h, error)
	GetOpenInterest(ctx context.Context, symbol string) (*binance.OpenInterest, error)
	GetPremiumIndex(ctx context.Context, symbol string) (*binance.PremiumIndex, error)
	GetDepth(ctx context.Context, symbol string, limit int, priority binance.RequestPriority) (*binance.Depth, error)
}

// Store persists the selected universe.
type Store interface {
	ReplaceActiveSymbols(ctx context.Context, symbols []*database.Symbol) error
}

// Scoring weights and normalization caps.
const (
	weightVolume    = 0.35
	weightLiquidity = 0.25
	weightMomentum  = 0.20
	weightActivity  = 0.20

	volumeNormUSD     = 100_000_000
	momentumNormPct   = 10.0
	activityNormPerS  = 10.0
	liquidityNormUSD  = 2_000_000
	liquidityBandPct  = 1.0
	liquidityBookSize = 20
)

// Selector runs the periodic universe rescan.
type Selector struct {
	cfg    config.UniverseConfig
	market MarketData
	store  Store
	cache  *cache.Service
	bus    *events.EventBus
	logger *logging.Logger
}

// NewSelector creates a universe selector.
func NewSelector(cfg config.UniverseConfig, market MarketData, store Store, cacheService *cache.Service, bus *events.EventBus) *Selector {
	return &Selector{
		cfg:    cfg,
		market: market,
		store:  store,
		cache:  cacheService,
		bus:    bus,
		logger: logging.WithComponent("universe"),
	}
}

// Run rescans on the configured interval until ctx is cancelled.
func (s *Selector) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.WithError(err).Error("Universe rescan failed")
			}
		}
	}
}

// Scan selects the current universe, persists it, refreshes the cached
// active set and publishes the update. Returns the active symbols in score
// order.
func (s *Selector) Scan(ctx context.Context) ([]string, error) {
	info, err := s.market.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	perps := make(map[string]bool)
	for _, sym := range info.Symbols {
		if sym.Status == "TRADING" && sym.ContractType == "PERPETUAL" &&
			sym.QuoteAsset == "USDT" && strings.HasSuffix(sym.Symbol, "USDT") {
			perps[sym.Symbol] = true
		}
	}

	tickers, err := s.market.Get24hrTickers(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var candidates []*database.Symbol

	for _, t := range tickers {
		if !perps[t.Symbol] {
			continue
		}
		if t.QuoteVolume < s.cfg.Min24hVolume {
			continue
		}

		oi, err := s.market.GetOpenInterest(ctx, t.Symbol)
		if err != nil {
			s.logger.WithError(err).Debug("Open interest lookup failed", "symbol", t.Symbol)
			continue
		}
		pi, err := s.market.GetPremiumIndex(ctx, t.Symbol)
		if err != nil {
			s.logger.WithError(err).Debug("Premium index lookup failed", "symbol", t.Symbol)
			continue
		}
		oiValue := oi.OpenInterest * pi.MarkPrice
		if oiValue < s.cfg.MinOpenInterest {
			continue
		}

		depth, err := s.market.GetDepth(ctx, t.Symbol, liquidityBookSize, binance.PriorityLow)
		if err != nil {
			s.logger.WithError(err).Debug("Depth lookup failed", "symbol", t.Symbol)
			continue
		}
		spread, liquidity := bookQuality(depth)
		if spread > s.cfg.MaxSpread {
			continue
		}

		candidates = append(candidates, &database.Symbol{
			Symbol:            t.Symbol,
			Active:            true,
			Score:             score(t, liquidity),
			QuoteVolume24h:    t.QuoteVolume,
			OpenInterestValue: oiValue,
			SpreadPct:         spread * 100,
			PriceChangePct:    t.PriceChangePercent,
			TradeCount24h:     t.TradeCount,
			LastScannedAt:     now,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > s.cfg.MaxSymbols {
		candidates = candidates[:s.cfg.MaxSymbols]
	}

	if err := s.store.ReplaceActiveSymbols(ctx, candidates); err != nil {
		return nil, err
	}

	active := make([]string, 0, len(candidates))
	for _, c := range candidates {
		active = append(active, c.Symbol)
	}

	if err := s.cache.SetJSON(ctx, cache.KeyActiveSymbols, active, cache.TTLActiveSymbols); err != nil {
		s.logger.WithError(err).Warn("Failed to cache active symbols")
	}

	s.logger.Info("Universe updated", "candidates", len(tickers), "selected", len(active))
	s.bus.PublishUniverseUpdated(active)

	return active, nil
}

// bookQuality derives the top-of-book spread fraction and a 0-1 liquidity
// score from notional depth within 1% of mid, per side against $2M.
func bookQuality(depth *binance.Depth) (spread, liquidity float64) {
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return math.Inf(1), 0
	}

	bestBid := depth.Bids[0][0]
	bestAsk := depth.Asks[0][0]
	if bestBid <= 0 {
		return math.Inf(1), 0
	}
	spread = (bestAsk - bestBid) / bestBid

	mid := (bestBid + bestAsk) / 2
	band := mid * liquidityBandPct / 100

	var bidNotional, askNotional float64
	for _, l := range depth.Bids {
		if l[0] >= mid-band {
			bidNotional += l[0] * l[1]
		}
	}
	for _, l := range depth.Asks {
		if l[0] <= mid+band {
			askNotional += l[0] * l[1]
		}
	}

	liquidity = (math.Min(bidNotional/liquidityNormUSD, 1) +
		math.Min(askNotional/liquidityNormUSD, 1)) / 2
	return spread, liquidity
}

// score is the 0-100 composite ranking for one candidate.
func score(t binance.Ticker24h, liquidity float64) float64 {
	volume := math.Min(t.QuoteVolume/volumeNormUSD, 1)
	momentum := math.Min(math.Abs(t.PriceChangePercent)/momentumNormPct, 1)
	activity := math.Min(float64(t.TradeCount)/86400/activityNormPerS, 1)

	return 100 * (weightVolume*volume +
		weightLiquidity*liquidity +
		weightMomentum*momentum +
		weightActivity*activity)
}
