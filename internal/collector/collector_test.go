package collector

import (
	"context"
	"testing"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/binance"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKlineSink struct {
	upserted []*database.Kline
}

func (f *fakeKlineSink) UpsertKline(ctx context.Context, k *database.Kline) error {
	f.upserted = append(f.upserted, k)
	return nil
}

func newTestCollector(t *testing.T) (*Collector, *fakeKlineSink, *cache.Service) {
	t.Helper()
	cacheService := cache.NewService(config.RedisConfig{Enabled: false})
	sink := &fakeKlineSink{}
	m := metrics.New(prometheus.NewRegistry())
	c := New(cacheService, analysis.NewFlowRegistry(99, 10_000), sink, m)
	return c, sink, cacheService
}

func TestOnDepthWritesBookAndImbalance(t *testing.T) {
	c, _, svc := newTestCollector(t)
	ctx := context.Background()

	c.Handlers().OnDepth(binance.DepthUpdate{
		Symbol:    "BTCUSDT",
		EventTime: 1700000000000,
		Bids:      [][]string{{"100.00", "9"}, {"99.99", "3"}},
		Asks:      [][]string{{"100.01", "4"}, {"bad", "row"}},
	})

	var book cache.OrderbookSnapshot
	require.NoError(t, svc.GetJSON(ctx, cache.OrderbookKey("BTCUSDT"), &book))
	assert.Len(t, book.Bids, 2)
	assert.Len(t, book.Asks, 1, "malformed level dropped")
	assert.Equal(t, int64(1700000000000), book.EventTime)

	var imb cache.ImbalanceSnapshot
	require.NoError(t, svc.GetJSON(ctx, cache.ImbalanceKey("BTCUSDT"), &imb))
	// (12 - 4) / (12 + 4)
	assert.InDelta(t, 0.5, imb.Imbalance, 1e-9)
}

func TestOnBookTickerWritesMid(t *testing.T) {
	c, _, svc := newTestCollector(t)

	c.Handlers().OnBookTicker(binance.BookTickerEvent{
		Symbol: "BTCUSDT", BidPrice: 99.99, AskPrice: 100.01, EventTime: 123,
	})

	var price cache.PriceSnapshot
	require.NoError(t, svc.GetJSON(context.Background(), cache.PriceKey("BTCUSDT"), &price))
	assert.InDelta(t, 100.0, price.Mid, 1e-9)

	// Crossed or empty quotes never overwrite the snapshot.
	c.Handlers().OnBookTicker(binance.BookTickerEvent{Symbol: "BTCUSDT"})
	require.NoError(t, svc.GetJSON(context.Background(), cache.PriceKey("BTCUSDT"), &price))
	assert.InDelta(t, 100.0, price.Mid, 1e-9)
}

func TestOnAggTradeUpdatesFlow(t *testing.T) {
	c, _, svc := newTestCollector(t)
	now := time.Now().UnixMilli()
	c.now = func() time.Time { return time.UnixMilli(now) }

	c.Handlers().OnAggTrade(binance.AggTradeEvent{
		Symbol: "BTCUSDT", Price: 100, Quantity: 2, TradeTime: now - 1000, BuyerIsMaker: false,
	})
	c.Handlers().OnAggTrade(binance.AggTradeEvent{
		Symbol: "BTCUSDT", Price: 101, Quantity: 1, TradeTime: now - 500, BuyerIsMaker: true,
	})

	var flow cache.TradeFlowSnapshot
	require.NoError(t, svc.GetJSON(context.Background(), cache.TradeFlowKey("BTCUSDT"), &flow))
	assert.Equal(t, 2, flow.TradeCount)
	assert.InDelta(t, 200.0, flow.BuyVolume, 1e-9)
	assert.InDelta(t, 101.0, flow.SellVolume, 1e-9)
	// (100*2 + 101*1) / 3
	assert.InDelta(t, 100.3333, flow.VWAP, 1e-3)
}

func TestOnKlineRoutesByInterval(t *testing.T) {
	c, sink, svc := newTestCollector(t)

	closed15 := binance.KlineEvent{Kline: binance.KlinePayload{
		Symbol: "BTCUSDT", Interval: "15m",
		OpenTime: 1700000000000, CloseTime: 1700000900000,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1500,
		IsClosed: true,
	}}
	c.Handlers().OnKline(closed15)

	var k15 cache.KlineSnapshot
	require.NoError(t, svc.GetJSON(context.Background(), cache.Kline15mKey("BTCUSDT"), &k15))
	assert.InDelta(t, 1500.0, k15.Volume, 1e-9)
	assert.Empty(t, sink.upserted, "15m candles are not persisted")

	closed1 := binance.KlineEvent{Kline: binance.KlinePayload{
		Symbol: "BTCUSDT", Interval: "1m",
		OpenTime: 1700000000000, CloseTime: 1700000060000,
		Open: 100, High: 100.2, Low: 99.9, Close: 100.1, Volume: 80,
		IsClosed: true,
	}}
	c.Handlers().OnKline(closed1)
	require.Len(t, sink.upserted, 1)
	assert.Equal(t, "1m", sink.upserted[0].Interval)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), sink.upserted[0].OpenTime)

	// In-progress candles are ignored.
	open1 := closed1
	open1.Kline.IsClosed = false
	c.Handlers().OnKline(open1)
	assert.Len(t, sink.upserted, 1)
}

func TestStreamMessageCounter(t *testing.T) {
	cacheService := cache.NewService(config.RedisConfig{Enabled: false})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(cacheService, analysis.NewFlowRegistry(99, 10_000), nil, m)

	c.Handlers().OnDepth(binance.DepthUpdate{Symbol: "BTCUSDT"})
	c.Handlers().OnDepth(binance.DepthUpdate{Symbol: "BTCUSDT"})

	assert.InDelta(t, 2, testutil.ToFloat64(m.StreamMessages.WithLabelValues("depth")), 1e-9)
}
