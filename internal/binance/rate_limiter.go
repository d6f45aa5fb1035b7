package binance

import (
	"fmt"
	"sync"
	"time"

	"futures-signal-bot/internal/logging"
)

// RequestPriority defines priority levels for REST requests. Higher priority
// requests get a larger share of the weight budget.
type RequestPriority int

const (
	// PriorityCritical - signal-blocking reads (depth for an imminent entry)
	PriorityCritical RequestPriority = iota

	// PriorityHigh - kline backfill for symbols with open signals
	PriorityHigh

	// PriorityNormal - routine market data for the generation scan
	PriorityNormal

	// PriorityLow - universe rescans and analytics
	PriorityLow
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// AcquireResult is the outcome of a non-blocking TryAcquire attempt
type AcquireResult struct {
	Acquired     bool
	WaitTime     time.Duration
	Reason       string
	WeightBudget int
	CurrentUsage float64
}

// Endpoint weights for the Binance Futures market-data API
var endpointWeights = map[string]int{
	"/fapi/v1/exchangeInfo": 1,
	"/fapi/v1/ticker/24hr":  40, // full-universe form, no symbol param
	"/fapi/v1/ticker/price": 1,
	"/fapi/v1/openInterest": 1,
	"/fapi/v1/premiumIndex": 1,
	"/fapi/v1/klines":       5,
	"/fapi/v1/depth":        20, // limit=500
}

func getEndpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// headerCorrectionTolerance is how far the server-reported used weight may
// diverge from local tracking before the local counter is overwritten.
const headerCorrectionTolerance = 50

// RateLimiter implements proactive weight-based rate limiting with a circuit
// breaker for exchange bans.
type RateLimiter struct {
	mu     sync.RWMutex
	logger *logging.Logger

	circuitOpen   bool
	circuitOpenAt time.Time
	banUntil      time.Time

	currentWeight int
	weightResetAt time.Time
	maxWeight     int

	consecutiveErrors int
	lastErrorAt       time.Time
}

// NewRateLimiter creates a rate limiter with the given weight budget per
// minute (2400 for Binance Futures).
func NewRateLimiter(maxWeight int) *RateLimiter {
	return &RateLimiter{
		logger:        logging.WithComponent("rate_limiter"),
		maxWeight:     maxWeight,
		weightResetAt: time.Now().Add(time.Minute),
	}
}

// getThresholdForPriority returns the budget share available to a priority
// level.
func (r *RateLimiter) getThresholdForPriority(priority RequestPriority) float64 {
	switch priority {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	case PriorityLow:
		return 0.40
	default:
		return 0.50
	}
}

// TryAcquire attempts to acquire a weight slot without blocking. It
// atomically checks the budget and records the weight when acquired.
func (r *RateLimiter) TryAcquire(endpoint string, priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	if r.circuitOpen && now.Before(r.banUntil) {
		return AcquireResult{
			Acquired:     false,
			WaitTime:     time.Until(r.banUntil),
			Reason:       "circuit_breaker_open",
			CurrentUsage: 100.0,
		}
	}

	if r.circuitOpen && now.After(r.banUntil) {
		r.circuitOpen = false
		r.logger.Info("Circuit breaker auto-closed, ban expired")
	}

	weight := getEndpointWeight(endpoint)
	thresholdPercent := r.getThresholdForPriority(priority)
	threshold := int(float64(r.maxWeight) * thresholdPercent)

	if r.currentWeight+weight > threshold {
		waitTime := time.Until(r.weightResetAt)
		if waitTime < 0 {
			waitTime = 100 * time.Millisecond
		}
		return AcquireResult{
			Acquired:     false,
			WaitTime:     waitTime,
			Reason:       fmt.Sprintf("weight_limit_exceeded_for_%s_priority", priority.String()),
			WeightBudget: threshold - r.currentWeight,
			CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
		}
	}

	r.currentWeight += weight
	r.consecutiveErrors = 0

	return AcquireResult{
		Acquired:     true,
		WeightBudget: threshold - r.currentWeight,
		CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
	}
}

// WaitForSlot blocks until a slot is acquired or the timeout elapses.
func (r *RateLimiter) WaitForSlot(endpoint string, priority RequestPriority, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		result := r.TryAcquire(endpoint, priority)
		if result.Acquired {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		wait := result.WaitTime
		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		time.Sleep(wait)
	}
}

// UpdateFromHeaders corrects local tracking from the server-reported
// X-MBX-USED-WEIGHT-1M value. The local counter is only adjusted when the
// divergence exceeds the tolerance; small drift is expected.
func (r *RateLimiter) UpdateFromHeaders(usedWeight1m int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	diff := usedWeight1m - r.currentWeight
	if diff > headerCorrectionTolerance {
		r.logger.Warn("Correcting weight tracking from server headers",
			"local", r.currentWeight, "reported", usedWeight1m)
		r.currentWeight = usedWeight1m
	}

	usagePct := float64(r.currentWeight) / float64(r.maxWeight) * 100
	if usagePct > 60 {
		r.logger.Warn("Weight usage elevated",
			"weight", r.currentWeight, "max", r.maxWeight, "usage_pct", usagePct)
	}
}

// RecordRateLimitError opens the circuit breaker after an HTTP 429/418.
// banUntilMs is the server-provided retry timestamp; zero falls back to an
// escalating local backoff.
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.consecutiveErrors++
	r.lastErrorAt = now

	if banUntilMs > 0 {
		r.banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(r.consecutiveErrors) * 30 * time.Second
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		r.banUntil = now.Add(backoff)
	}

	r.circuitOpen = true
	r.circuitOpenAt = now
	r.logger.Error("Rate limit hit, circuit breaker open",
		"ban_until", r.banUntil.Format(time.RFC3339),
		"consecutive_errors", r.consecutiveErrors)
}

// IsCircuitOpen reports whether requests are currently blocked.
func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.circuitOpen && time.Now().Before(r.banUntil)
}

// GetStatus returns the limiter state for the status endpoint.
func (r *RateLimiter) GetStatus() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"current_weight": r.currentWeight,
		"max_weight":     r.maxWeight,
		"usage_percent":  float64(r.currentWeight) / float64(r.maxWeight) * 100,
		"circuit_open":   r.circuitOpen,
		"reset_in_ms":    time.Until(r.weightResetAt).Milliseconds(),
	}
}
