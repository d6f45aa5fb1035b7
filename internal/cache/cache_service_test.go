package cache

import (
	"context"
	"testing"
	"time"

	"futures-signal-bot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFallbackService() *Service {
	return NewService(config.RedisConfig{Enabled: false})
}

func TestFallbackSetGet(t *testing.T) {
	s := newFallbackService()
	ctx := context.Background()

	snap := PriceSnapshot{Bid: 100.1, Ask: 100.2, Mid: 100.15, Timestamp: 1700000000000}
	require.NoError(t, s.SetJSON(ctx, PriceKey("BTCUSDT"), snap, TTLPrice))

	var got PriceSnapshot
	require.NoError(t, s.GetJSON(ctx, PriceKey("BTCUSDT"), &got))
	assert.Equal(t, snap, got)
}

func TestFallbackMiss(t *testing.T) {
	s := newFallbackService()

	var got PriceSnapshot
	err := s.GetJSON(context.Background(), PriceKey("ETHUSDT"), &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFallbackExpiry(t *testing.T) {
	s := newFallbackService()
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, ImbalanceKey("BTCUSDT"), ImbalanceSnapshot{Imbalance: 0.3}, 20*time.Millisecond))

	var got ImbalanceSnapshot
	require.NoError(t, s.GetJSON(ctx, ImbalanceKey("BTCUSDT"), &got))

	time.Sleep(30 * time.Millisecond)
	err := s.GetJSON(ctx, ImbalanceKey("BTCUSDT"), &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFallbackDelete(t *testing.T) {
	s := newFallbackService()
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, KeyActiveSymbols, []string{"BTCUSDT"}, TTLActiveSymbols))
	s.Delete(ctx, KeyActiveSymbols)

	var got []string
	err := s.GetJSON(ctx, KeyActiveSymbols, &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "orderbook:BTCUSDT", OrderbookKey("BTCUSDT"))
	assert.Equal(t, "imbalance:BTCUSDT", ImbalanceKey("BTCUSDT"))
	assert.Equal(t, "price:BTCUSDT", PriceKey("BTCUSDT"))
	assert.Equal(t, "trade_flow:BTCUSDT", TradeFlowKey("BTCUSDT"))
	assert.Equal(t, "kline_15m:BTCUSDT", Kline15mKey("BTCUSDT"))
}

func TestDisabledRedisIsUnhealthy(t *testing.T) {
	s := newFallbackService()
	assert.False(t, s.IsHealthy())

	stats := s.GetStats()
	assert.False(t, stats.RedisConfigured)
}
