// Package collector bridges the market-data stream into the snapshot cache:
// every websocket event becomes a cache write that the entry gate and fast
// tracker read on their next tick.
package collector

import (
	"context"
	"strconv"
	"time"

	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/binance"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/logging"
	"futures-signal-bot/internal/metrics"
)

// KlineSink persists closed candles.
type KlineSink interface {
	UpsertKline(ctx context.Context, k *database.Kline) error
}

// Collector turns stream events into cache snapshots and persisted candles.
type Collector struct {
	cache   *cache.Service
	flows   *analysis.FlowRegistry
	klines  KlineSink
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a collector writing into the given cache, flow registry and
// kline sink.
func New(cacheService *cache.Service, flows *analysis.FlowRegistry, klines KlineSink, m *metrics.Metrics) *Collector {
	return &Collector{
		cache:   cacheService,
		flows:   flows,
		klines:  klines,
		metrics: m,
		logger:  logging.WithComponent("collector"),
		now:     time.Now,
	}
}

// Handlers returns the stream callbacks. They run inline on the read loop,
// so each does one parse and one cache write.
func (c *Collector) Handlers() binance.Handlers {
	return binance.Handlers{
		OnDepth:      c.onDepth,
		OnBookTicker: c.onBookTicker,
		OnAggTrade:   c.onAggTrade,
		OnKline:      c.onKline,
	}
}

func (c *Collector) onDepth(event binance.DepthUpdate) {
	c.countMessage("depth")
	ctx := context.Background()

	bids := parseLevels(event.Bids)
	asks := parseLevels(event.Asks)

	snapshot := cache.OrderbookSnapshot{
		Symbol:    event.Symbol,
		Bids:      bids,
		Asks:      asks,
		EventTime: event.EventTime,
	}
	if err := c.cache.SetJSON(ctx, cache.OrderbookKey(event.Symbol), snapshot, cache.TTLOrderbook); err != nil {
		c.logger.WithError(err).Debug("Orderbook snapshot write failed", "symbol", event.Symbol)
	}

	imbalance := cache.ImbalanceSnapshot{Imbalance: analysis.ComputeImbalance(bids, asks)}
	if err := c.cache.SetJSON(ctx, cache.ImbalanceKey(event.Symbol), imbalance, cache.TTLImbalance); err != nil {
		c.logger.WithError(err).Debug("Imbalance snapshot write failed", "symbol", event.Symbol)
	}
}

func (c *Collector) onBookTicker(event binance.BookTickerEvent) {
	c.countMessage("bookTicker")
	if event.BidPrice <= 0 || event.AskPrice <= 0 {
		return
	}

	snapshot := cache.PriceSnapshot{
		Bid:       event.BidPrice,
		Ask:       event.AskPrice,
		Mid:       (event.BidPrice + event.AskPrice) / 2,
		Timestamp: event.EventTime,
	}
	if err := c.cache.SetJSON(context.Background(), cache.PriceKey(event.Symbol), snapshot, cache.TTLPrice); err != nil {
		c.logger.WithError(err).Debug("Price snapshot write failed", "symbol", event.Symbol)
	}
}

func (c *Collector) onAggTrade(event binance.AggTradeEvent) {
	c.countMessage("aggTrade")

	flow := c.flows.Get(event.Symbol)
	flow.Add(analysis.FlowTrade{
		Timestamp: event.TradeTime,
		Price:     event.Price,
		Quantity:  event.Quantity,
		// The aggressor bought when the maker was the seller.
		IsBuy: !event.BuyerIsMaker,
	})

	m := flow.Metrics(c.now().UnixMilli())
	snapshot := cache.TradeFlowSnapshot{
		Symbol:           event.Symbol,
		LargeBuys:        m.LargeBuys,
		LargeSells:       m.LargeSells,
		VolumePerMinute:  m.VolumePerMinute,
		BuyVolume:        m.BuyVolume,
		SellVolume:       m.SellVolume,
		AvgTradeSize:     m.AvgTradeSize,
		VWAP:             m.VWAP,
		DynamicThreshold: m.DynamicThreshold,
		TradeCount:       m.TradeCount,
		Timestamp:        c.now().UnixMilli(),
	}
	if err := c.cache.SetJSON(context.Background(), cache.TradeFlowKey(event.Symbol), snapshot, cache.TTLTradeFlow); err != nil {
		c.logger.WithError(err).Debug("Trade-flow snapshot write failed", "symbol", event.Symbol)
	}
}

func (c *Collector) onKline(event binance.KlineEvent) {
	c.countMessage("kline")
	k := event.Kline
	if !k.IsClosed {
		return
	}
	ctx := context.Background()

	if k.Interval == "15m" {
		snapshot := cache.KlineSnapshot{
			Symbol:    k.Symbol,
			Interval:  k.Interval,
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
		if err := c.cache.SetJSON(ctx, cache.Kline15mKey(k.Symbol), snapshot, cache.TTLKline15m); err != nil {
			c.logger.WithError(err).Debug("Kline snapshot write failed", "symbol", k.Symbol)
		}
		return
	}

	if k.Interval == "1m" && c.klines != nil {
		candle := &database.Kline{
			Symbol:    k.Symbol,
			Interval:  k.Interval,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
		if err := c.klines.UpsertKline(ctx, candle); err != nil {
			c.logger.WithError(err).Warn("Candle upsert failed", "symbol", k.Symbol)
		}
	}
}

func (c *Collector) countMessage(feed string) {
	if c.metrics != nil {
		c.metrics.StreamMessages.WithLabelValues(feed).Inc()
	}
}

// parseLevels converts raw [price, qty] string pairs; malformed rows are
// dropped.
func parseLevels(raw [][]string) []cache.PriceLevel {
	levels := make([]cache.PriceLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(l[0], 64)
		size, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, cache.PriceLevel{Price: price, Size: size})
	}
	return levels
}
