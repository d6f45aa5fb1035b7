// Package analysis derives per-instrument microstructure features: trade
// flow, order-book imbalance, volatility and volume levels.
package analysis

import (
	"math"
	"sort"
	"sync"
)

// FlowTrade is one aggregated trade inside the rolling window.
type FlowTrade struct {
	Timestamp int64 // event time, ms
	Price     float64
	Quantity  float64
	IsBuy     bool // aggressor was the taker buyer
}

// FlowMetrics is the on-demand summary of the rolling window.
type FlowMetrics struct {
	LargeBuys        int
	LargeSells       int
	VolumePerMinute  float64
	BuyVolume        float64
	SellVolume       float64
	AvgTradeSize     float64
	VWAP             float64
	DynamicThreshold float64
	TradeCount       int
}

const windowMs = 5 * 60 * 1000

// minTradesForPercentile is the window size below which the dynamic
// threshold falls back to the configured floor.
const minTradesForPercentile = 20

// TradeFlow maintains a per-instrument 5-minute rolling window of trades.
// Trades and their notionals live in parallel ring buffers sharing head and
// size, so event-time pruning can never let the two drift.
type TradeFlow struct {
	mu sync.Mutex

	trades    []FlowTrade
	notionals []float64
	head      int
	size      int

	percentile float64
	floorUSD   float64

	malformedDropped int64
}

// NewTradeFlow creates a rolling trade window with the given dynamic
// threshold parameters.
func NewTradeFlow(percentile, floorUSD float64) *TradeFlow {
	const initialCap = 256
	return &TradeFlow{
		trades:     make([]FlowTrade, initialCap),
		notionals:  make([]float64, initialCap),
		percentile: percentile,
		floorUSD:   floorUSD,
	}
}

// Add records a trade, pruning entries older than five minutes by event
// time first. Malformed trades are dropped and counted.
func (tf *TradeFlow) Add(t FlowTrade) bool {
	if t.Timestamp <= 0 || t.Price <= 0 || t.Quantity <= 0 ||
		math.IsNaN(t.Price) || math.IsNaN(t.Quantity) ||
		math.IsInf(t.Price, 0) || math.IsInf(t.Quantity, 0) {
		tf.mu.Lock()
		tf.malformedDropped++
		tf.mu.Unlock()
		return false
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()

	tf.pruneLocked(t.Timestamp)

	if tf.size == len(tf.trades) {
		tf.growLocked()
	}

	idx := (tf.head + tf.size) % len(tf.trades)
	tf.trades[idx] = t
	tf.notionals[idx] = t.Price * t.Quantity
	tf.size++
	return true
}

func (tf *TradeFlow) pruneLocked(nowMs int64) {
	cutoff := nowMs - windowMs
	for tf.size > 0 && tf.trades[tf.head].Timestamp < cutoff {
		tf.head = (tf.head + 1) % len(tf.trades)
		tf.size--
	}
}

func (tf *TradeFlow) growLocked() {
	newCap := len(tf.trades) * 2
	trades := make([]FlowTrade, newCap)
	notionals := make([]float64, newCap)
	for i := 0; i < tf.size; i++ {
		idx := (tf.head + i) % len(tf.trades)
		trades[i] = tf.trades[idx]
		notionals[i] = tf.notionals[idx]
	}
	tf.trades = trades
	tf.notionals = notionals
	tf.head = 0
}

// Metrics computes the window summary as of nowMs. Entries older than five
// minutes are pruned first.
func (tf *TradeFlow) Metrics(nowMs int64) FlowMetrics {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	tf.pruneLocked(nowMs)

	m := FlowMetrics{TradeCount: tf.size}
	if tf.size == 0 {
		m.DynamicThreshold = tf.floorUSD
		return m
	}

	threshold := tf.floorUSD
	if tf.size >= minTradesForPercentile {
		p := tf.percentileLocked(tf.percentile)
		if p > threshold {
			threshold = p
		}
	}
	m.DynamicThreshold = threshold

	var totalNotional, totalQty, priceQty float64
	for i := 0; i < tf.size; i++ {
		idx := (tf.head + i) % len(tf.trades)
		t := tf.trades[idx]
		notional := tf.notionals[idx]

		totalNotional += notional
		totalQty += t.Quantity
		priceQty += t.Price * t.Quantity

		if t.IsBuy {
			m.BuyVolume += notional
			if notional >= threshold {
				m.LargeBuys++
			}
		} else {
			m.SellVolume += notional
			if notional >= threshold {
				m.LargeSells++
			}
		}
	}

	m.VolumePerMinute = totalNotional / 5
	m.AvgTradeSize = totalNotional / float64(tf.size)
	if totalQty > 0 {
		m.VWAP = priceQty / totalQty
	}
	return m
}

// percentileLocked computes the linearly interpolated percentile of the
// in-window notionals.
func (tf *TradeFlow) percentileLocked(p float64) float64 {
	sorted := make([]float64, tf.size)
	for i := 0; i < tf.size; i++ {
		sorted[i] = tf.notionals[(tf.head+i)%len(tf.trades)]
	}
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Size returns the current window length.
func (tf *TradeFlow) Size() int {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.size
}

// MalformedDropped returns how many trades were rejected as malformed.
func (tf *TradeFlow) MalformedDropped() int64 {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.malformedDropped
}

// FlowRegistry holds one TradeFlow per active instrument. Windows are
// created on first trade and discarded when the instrument leaves the
// active set.
type FlowRegistry struct {
	mu         sync.RWMutex
	flows      map[string]*TradeFlow
	percentile float64
	floorUSD   float64
}

// NewFlowRegistry creates an empty registry.
func NewFlowRegistry(percentile, floorUSD float64) *FlowRegistry {
	return &FlowRegistry{
		flows:      make(map[string]*TradeFlow),
		percentile: percentile,
		floorUSD:   floorUSD,
	}
}

// Get returns the window for symbol, creating it on first use.
func (r *FlowRegistry) Get(symbol string) *TradeFlow {
	r.mu.RLock()
	tf, ok := r.flows[symbol]
	r.mu.RUnlock()
	if ok {
		return tf
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tf, ok = r.flows[symbol]; ok {
		return tf
	}
	tf = NewTradeFlow(r.percentile, r.floorUSD)
	r.flows[symbol] = tf
	return tf
}

// Retain drops windows for instruments not in the active set.
func (r *FlowRegistry) Retain(active map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol := range r.flows {
		if !active[symbol] {
			delete(r.flows, symbol)
		}
	}
}
