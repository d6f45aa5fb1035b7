package signal

import (
	"sync"

	"futures-signal-bot/internal/logging"
)

// ConfirmationTracker filters entry noise: all four confluence conditions
// must hold for a fixed number of consecutive samples before a signal is
// emitted. Any failed sample resets the counter; a sample is only taken when
// data was present, so absence neither increments nor resets.
type ConfirmationTracker struct {
	mu       sync.Mutex
	counters map[string]int
	required int
	logger   *logging.Logger
}

// NewConfirmationTracker creates a tracker requiring the given number of
// consecutive passing samples.
func NewConfirmationTracker(required int) *ConfirmationTracker {
	return &ConfirmationTracker{
		counters: make(map[string]int),
		required: required,
		logger:   logging.WithComponent("confirmation"),
	}
}

// Sample records one evaluation tick for symbol. Returns true exactly once
// when the counter reaches the persistence threshold; the counter resets
// both on firing and on any failed sample.
func (t *ConfirmationTracker) Sample(symbol string, conditionsMet bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !conditionsMet {
		if t.counters[symbol] > 0 {
			t.logger.Debug("Conditions failed, counter reset",
				"symbol", symbol, "was", t.counters[symbol])
			t.counters[symbol] = 0
		}
		return false
	}

	t.counters[symbol]++
	if t.counters[symbol] >= t.required {
		t.logger.Info("Entry confirmed", "symbol", symbol, "samples", t.counters[symbol])
		t.counters[symbol] = 0
		return true
	}
	return false
}

// Counter returns the current count for symbol.
func (t *ConfirmationTracker) Counter(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[symbol]
}

// Reset zeroes the counter for symbol.
func (t *ConfirmationTracker) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[symbol] = 0
}

// CleanupInactive removes counters for symbols no longer in the active set.
func (t *ConfirmationTracker) CleanupInactive(active map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for symbol := range t.counters {
		if !active[symbol] {
			delete(t.counters, symbol)
		}
	}
}
