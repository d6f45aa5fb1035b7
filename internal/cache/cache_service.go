// Package cache provides the market snapshot cache backed by Redis with an
// in-process fallback. Every consumer of live market state reads through it;
// the ingest pipeline is the single writer per key.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/logging"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for per-symbol snapshot entries
const (
	PrefixOrderbook  = "orderbook:%s"
	PrefixImbalance  = "imbalance:%s"
	PrefixPrice      = "price:%s"
	PrefixTradeFlow  = "trade_flow:%s"
	PrefixKline15m   = "kline_15m:%s"
	KeyActiveSymbols = "active_symbols"
)

// TTLs for snapshot entries. Consumers treat an expired or missing entry as
// "skip this tick", never as an error.
const (
	TTLOrderbook     = 10 * time.Second
	TTLImbalance     = 10 * time.Second
	TTLPrice         = 10 * time.Second
	TTLTradeFlow     = 60 * time.Second
	TTLKline15m      = 900 * time.Second
	TTLActiveSymbols = 2 * time.Hour
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = redis.Nil

// Service is the snapshot cache. When Redis is unavailable (or disabled) it
// degrades to a process-local map with the same TTL semantics; the fallback
// is not shared across processes.
type Service struct {
	client   *redis.Client
	fallback *memoryStore
	logger   *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewService creates the snapshot cache. A failed initial Redis connection is
// not fatal; the service starts in fallback mode and probes for recovery.
func NewService(cfg config.RedisConfig) *Service {
	s := &Service{
		fallback:      newMemoryStore(),
		logger:        logging.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	if !cfg.Enabled {
		s.logger.Warn("Redis disabled, snapshot cache running in-process only")
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.WithError(err).Warn("Initial Redis connection failed, starting degraded")
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.logger.Info("Redis connected", "address", cfg.Address)
	return s
}

// IsHealthy returns whether Redis is currently available.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.logger.Warn("Circuit breaker OPEN, falling back to in-process cache",
				"failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy && s.client != nil {
		s.logger.Info("Circuit breaker CLOSED, Redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth probes Redis in the background once the circuit has been open
// long enough.
func (s *Service) checkHealth() {
	if s.client == nil {
		return
	}

	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	if shouldCheck {
		s.lastCheck = time.Now()
	}
	s.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.client.Ping(pingCtx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// SetJSON marshals value and stores it under key with the given TTL. The
// fallback map is always written so reads survive a Redis outage mid-TTL.
func (s *Service) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}

	s.fallback.set(key, data, ttl)

	s.checkHealth()
	if !s.IsHealthy() {
		return nil
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set %s failed: %w", key, err)
	}

	s.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals the value stored under key. Returns
// ErrCacheMiss when the key is absent or expired.
func (s *Service) GetJSON(ctx context.Context, key string, dest interface{}) error {
	s.checkHealth()

	if s.IsHealthy() {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			s.recordSuccess()
			if uerr := json.Unmarshal(data, dest); uerr != nil {
				return fmt.Errorf("failed to unmarshal cached value for %s: %w", key, uerr)
			}
			return nil
		}
		if err == redis.Nil {
			return ErrCacheMiss
		}
		s.recordFailure()
	}

	data, ok := s.fallback.get(key)
	if !ok {
		return ErrCacheMiss
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value for %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from both backings.
func (s *Service) Delete(ctx context.Context, key string) {
	s.fallback.delete(key)

	if !s.IsHealthy() {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
	} else {
		s.recordSuccess()
	}
}

// Ping checks Redis connectivity directly.
func (s *Service) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("redis not configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.recordFailure()
		return err
	}
	s.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Stats reports cache health for the status endpoint.
type Stats struct {
	RedisConfigured bool `json:"redis_configured"`
	Healthy         bool `json:"healthy"`
	FailureCount    int  `json:"failure_count"`
	FallbackEntries int  `json:"fallback_entries"`
}

// GetStats returns current cache statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		RedisConfigured: s.client != nil,
		Healthy:         s.healthy,
		FailureCount:    s.failureCount,
		FallbackEntries: s.fallback.len(),
	}
}

// OrderbookKey generates the snapshot key for a symbol's depth
func OrderbookKey(symbol string) string {
	return fmt.Sprintf(PrefixOrderbook, symbol)
}

// ImbalanceKey generates the snapshot key for a symbol's imbalance
func ImbalanceKey(symbol string) string {
	return fmt.Sprintf(PrefixImbalance, symbol)
}

// PriceKey generates the snapshot key for a symbol's best bid/ask
func PriceKey(symbol string) string {
	return fmt.Sprintf(PrefixPrice, symbol)
}

// TradeFlowKey generates the snapshot key for a symbol's trade flow summary
func TradeFlowKey(symbol string) string {
	return fmt.Sprintf(PrefixTradeFlow, symbol)
}

// Kline15mKey generates the snapshot key for a symbol's latest closed 15m candle
func Kline15mKey(symbol string) string {
	return fmt.Sprintf(PrefixKline15m, symbol)
}
