// Package tracker runs the fast exit loop over open signals: take-profit and
// stop detection on the cached mid price, imbalance-reversal exits, and
// atomic batched closure writes.
package tracker

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/events"

	"github.com/rs/zerolog"
)

// Store is the persistence surface the tracker needs.
type Store interface {
	GetOpenSignals(ctx context.Context) ([]*database.Signal, error)
	ApplyClosureBatch(ctx context.Context, batch *database.ClosureBatch) (int, error)
}

// Notifier delivers exit updates, threaded onto the original signal message.
type Notifier interface {
	NotifyPartialClose(ctx context.Context, s *database.Signal, fillPrice, tp1PnL float64) error
	NotifyFullClose(ctx context.Context, s *database.Signal, exitPrice float64, reason string, pnlPercent float64) error
}

// FastTracker scans all open signals on every tick and commits the
// resulting exits in one batch. Exit checks run in strict priority order:
// TP2, TP1, stop, imbalance reversal. A tick with a missing price or
// imbalance snapshot leaves that signal untouched.
type FastTracker struct {
	cfg      config.TrackerConfig
	cache    *cache.Service
	store    Store
	bus      *events.EventBus
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
	onTick   func(elapsed time.Duration)

	mu       sync.Mutex
	signals  map[string]*database.Signal
	reversal map[string]int
}

// NewFastTracker creates the exit loop over the given store and cache.
func NewFastTracker(cfg config.TrackerConfig, cacheService *cache.Service, store Store, bus *events.EventBus, notifier Notifier) *FastTracker {
	return &FastTracker{
		cfg:      cfg,
		cache:    cacheService,
		store:    store,
		bus:      bus,
		notifier: notifier,
		log:      zerolog.New(os.Stdout).With().Timestamp().Str("component", "FastTracker").Logger(),
		now:      time.Now,
		signals:  make(map[string]*database.Signal),
		reversal: make(map[string]int),
	}
}

// SetInstrumentation registers a callback receiving the wall time of every
// scan. Must be called before Run.
func (t *FastTracker) SetInstrumentation(fn func(elapsed time.Duration)) {
	t.onTick = fn
}

// Run drives the tick and sync tickers until ctx is cancelled.
func (t *FastTracker) Run(ctx context.Context) {
	if err := t.Sync(ctx); err != nil {
		t.log.Error().Err(err).Msg("initial open-signal sync failed")
	}

	tick := time.NewTicker(t.cfg.TickInterval)
	defer tick.Stop()
	sync := time.NewTicker(t.cfg.CacheSyncInterval)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			start := time.Now()
			if err := t.Tick(ctx); err != nil {
				t.log.Error().Err(err).Msg("tracker tick failed")
			}
			if t.onTick != nil {
				t.onTick(time.Since(start))
			}
		case <-sync.C:
			if err := t.Sync(ctx); err != nil {
				t.log.Error().Err(err).Msg("open-signal sync failed")
			}
		}
	}
}

// Sync reloads the open signal set from the store and prunes reversal
// counters for signals that are no longer open.
func (t *FastTracker) Sync(ctx context.Context) error {
	open, err := t.store.GetOpenSignals(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.signals = make(map[string]*database.Signal, len(open))
	for _, s := range open {
		t.signals[s.ID] = s
	}
	for id := range t.reversal {
		if _, ok := t.signals[id]; !ok {
			delete(t.reversal, id)
		}
	}
	return nil
}

// HasOpen reports whether symbol currently carries an open signal.
func (t *FastTracker) HasOpen(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.signals {
		if s.Symbol == symbol {
			return true
		}
	}
	return false
}

// OpenCount returns the number of tracked open signals.
func (t *FastTracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signals)
}

// pendingNotify is a post-commit side effect for one closure.
type pendingNotify struct {
	signal    *database.Signal
	partial   bool
	fillPrice float64
	reason    string
	pnl       float64
}

// Tick runs one exit scan. All state changes detected in the scan are
// committed in a single transaction; notifications and events fire only
// after the commit succeeds.
func (t *FastTracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	open := make([]*database.Signal, 0, len(t.signals))
	for _, s := range t.signals {
		open = append(open, s)
	}
	t.mu.Unlock()

	if len(open) == 0 {
		return nil
	}

	now := t.now()
	batch := &database.ClosureBatch{}
	var post []pendingNotify

	for _, sig := range open {
		var price cache.PriceSnapshot
		if err := t.cache.GetJSON(ctx, cache.PriceKey(sig.Symbol), &price); err != nil {
			continue
		}
		var imb cache.ImbalanceSnapshot
		if err := t.cache.GetJSON(ctx, cache.ImbalanceKey(sig.Symbol), &imb); err != nil {
			continue
		}
		if price.Mid <= 0 {
			continue
		}
		t.decide(sig, price.Mid, imb.Imbalance, now, batch, &post)
	}

	if batch.Empty() {
		return nil
	}

	closed, err := t.store.ApplyClosureBatch(ctx, batch)
	if err != nil {
		return err
	}
	t.log.Info().
		Int("partials", len(batch.Partials)).
		Int("closed", closed).
		Msg("closure batch committed")

	for _, p := range post {
		t.emit(ctx, p)
	}

	// The open set changed; resync instead of waiting for the next interval.
	return t.Sync(ctx)
}

// decide applies the priority-ordered exit checks for one signal and
// appends the resulting closure, if any, to the batch.
func (t *FastTracker) decide(sig *database.Signal, mid, imbalance float64, now time.Time, batch *database.ClosureBatch, post *[]pendingNotify) {
	long := sig.Direction == database.DirectionLong

	targetHit := func(level float64) bool {
		if long {
			return mid >= level
		}
		return mid <= level
	}
	stopHit := func() bool {
		if long {
			return mid <= sig.CurrentStopLoss
		}
		return mid >= sig.CurrentStopLoss
	}

	if msg, breached := invariantBreach(sig); breached {
		t.log.Error().
			Str("signal_id", sig.ID).
			Str("symbol", sig.Symbol).
			Msg(msg)
		t.bus.PublishError("tracker", sig.ID+": "+msg)
		t.fullClose(sig, mid, database.ExitReasonInvariant, now, batch, post)
		return
	}

	switch {
	case sig.PartialCloseStatus == database.PartialStatusTP1Closed && targetHit(sig.TakeProfit2):
		t.fullClose(sig, mid, database.ExitReasonTP2, now, batch, post)

	case sig.PartialCloseStatus == database.PartialStatusNone && targetHit(sig.TakeProfit1):
		t.partialClose(sig, mid, now, batch, post)

	case stopHit():
		reason := database.ExitReasonStopLoss
		if sig.PartialCloseStatus == database.PartialStatusTP1Closed {
			reason = database.ExitReasonStopLossBreakeven
		}
		t.fullClose(sig, mid, reason, now, batch, post)

	default:
		t.checkReversal(sig, mid, imbalance, now, batch, post)
	}
}

// partialClose books the TP1 half-exit and moves the stop to entry. The
// half leg is booked at the TP1 level; mid is only the observed fill price,
// so a gap past the level never inflates the banked PnL.
func (t *FastTracker) partialClose(sig *database.Signal, mid float64, now time.Time, batch *database.ClosureBatch, post *[]pendingNotify) {
	tp1PnL := 0.5 * legPnL(sig, sig.TakeProfit1)

	batch.Partials = append(batch.Partials, database.PartialClose{
		SignalID:    sig.ID,
		HitPrice:    mid,
		HitTime:     now,
		TP1PnL:      tp1PnL,
		NewStopLoss: sig.EntryPrice,
	})

	// Mutate the tracked copy so later ticks in this sync window see the
	// breakeven stop.
	t.mu.Lock()
	sig.PartialCloseStatus = database.PartialStatusTP1Closed
	sig.BreakevenMoved = true
	sig.CurrentStopLoss = sig.EntryPrice
	hitPrice := mid
	sig.TP1HitPrice = &hitPrice
	hitTime := now
	sig.TP1HitTime = &hitTime
	pnl := tp1PnL
	sig.TP1PnL = &pnl
	t.mu.Unlock()

	t.log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Float64("fill_price", mid).
		Float64("tp1_pnl", tp1PnL).
		Msg("TP1 hit, half closed and stop moved to breakeven")

	*post = append(*post, pendingNotify{signal: sig, partial: true, fillPrice: mid, pnl: tp1PnL})
}

// fullClose books a terminating exit with its immutable trade row.
func (t *FastTracker) fullClose(sig *database.Signal, mid float64, reason string, now time.Time, batch *database.ClosureBatch, post *[]pendingNotify) {
	pnl := t.closePnL(sig, mid, reason)
	finalStatus := finalPartialStatus(sig)

	full := database.FullClose{
		SignalID:           sig.ID,
		ExitPrice:          mid,
		ExitReason:         reason,
		PnLPercent:         pnl,
		ExitTime:           now,
		PartialCloseStatus: finalStatus,
		Trade: &database.Trade{
			SignalID:           sig.ID,
			Symbol:             sig.Symbol,
			Direction:          sig.Direction,
			EntryPrice:         sig.EntryPrice,
			ExitPrice:          mid,
			StopLoss:           sig.StopLoss,
			TakeProfit1:        sig.TakeProfit1,
			TakeProfit2:        sig.TakeProfit2,
			ExitReason:         reason,
			PnLPercent:         pnl,
			HoldTimeMinutes:    now.Sub(sig.CreatedAt).Minutes(),
			PartialCloseStatus: finalStatus,
			TP1HitPrice:        sig.TP1HitPrice,
			TP1PnL:             sig.TP1PnL,
			EntryTime:          sig.CreatedAt,
			ExitTime:           now,
		},
	}
	if reason == database.ExitReasonTP2 {
		hit := mid
		full.TP2HitPrice = &hit
		secondHalf := 0.5 * legPnL(sig, sig.TakeProfit2)
		full.TP2PnL = &secondHalf
	}
	batch.Fulls = append(batch.Fulls, full)

	t.mu.Lock()
	delete(t.signals, sig.ID)
	delete(t.reversal, sig.ID)
	t.mu.Unlock()

	t.log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("reason", reason).
		Float64("exit_price", mid).
		Float64("pnl_percent", pnl).
		Msg("signal closed")

	*post = append(*post, pendingNotify{signal: sig, fillPrice: mid, reason: reason, pnl: pnl})
}

// checkReversal counts consecutive opposing-imbalance samples once the
// minimum hold time has passed.
func (t *FastTracker) checkReversal(sig *database.Signal, mid, imbalance float64, now time.Time, batch *database.ClosureBatch, post *[]pendingNotify) {
	if now.Sub(sig.CreatedAt) < time.Duration(t.cfg.MinHoldSeconds)*time.Second {
		return
	}

	opposing := math.Abs(imbalance) > t.cfg.ImbalanceReversal
	if opposing {
		if sig.Direction == database.DirectionLong {
			opposing = imbalance < 0
		} else {
			opposing = imbalance > 0
		}
	}

	t.mu.Lock()
	if !opposing {
		if t.reversal[sig.ID] > 0 {
			t.reversal[sig.ID] = 0
		}
		t.mu.Unlock()
		return
	}
	t.reversal[sig.ID]++
	count := t.reversal[sig.ID]
	t.mu.Unlock()

	if count < t.cfg.PersistenceReversalSamples {
		return
	}

	t.log.Warn().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Float64("imbalance", imbalance).
		Int("samples", count).
		Msg("order flow reversed against position")
	t.fullClose(sig, mid, database.ExitReasonReversal, now, batch, post)
}

// closePnL is the realized percent for a terminating exit. Target exits book
// their leg at the take-profit level; only stop and reversal exits realize
// the tick mid.
func (t *FastTracker) closePnL(sig *database.Signal, mid float64, reason string) float64 {
	if sig.PartialCloseStatus == database.PartialStatusTP1Closed && sig.TP1PnL != nil {
		switch reason {
		case database.ExitReasonStopLossBreakeven:
			// Remaining half exits flat at entry.
			return *sig.TP1PnL
		case database.ExitReasonTP2:
			return *sig.TP1PnL + 0.5*legPnL(sig, sig.TakeProfit2)
		}
		return *sig.TP1PnL + 0.5*legPnL(sig, mid)
	}
	return legPnL(sig, mid)
}

// legPnL is the signed full-position percent move from entry to price.
func legPnL(sig *database.Signal, price float64) float64 {
	if sig.Direction == database.DirectionLong {
		return (price - sig.EntryPrice) / sig.EntryPrice * 100
	}
	return (sig.EntryPrice - price) / sig.EntryPrice * 100
}

// invariantBreach reports a state the exit machine can never legally reach.
// Such signals are closed immediately with an error reason instead of being
// evaluated against targets they cannot hold.
func invariantBreach(sig *database.Signal) (string, bool) {
	long := sig.Direction == database.DirectionLong
	switch {
	case sig.PartialCloseStatus == database.PartialStatusFullClosed:
		return "fully closed signal still tracked as open", true
	case sig.PartialCloseStatus == database.PartialStatusTP1Closed && sig.TP1PnL == nil:
		return "TP1 booked without a recorded partial fill", true
	case long && sig.CurrentStopLoss > sig.EntryPrice:
		return "stop above entry on a long", true
	case !long && sig.CurrentStopLoss < sig.EntryPrice:
		return "stop below entry on a short", true
	}
	return "", false
}

// finalPartialStatus is the partial-close state recorded on the closed row.
// Any exit without a booked TP1 fill stays NONE; a gap straight through TP2
// books the TP1 partial on the same tick and the TP2 exit on the next one.
func finalPartialStatus(sig *database.Signal) string {
	switch sig.PartialCloseStatus {
	case database.PartialStatusTP1Closed, database.PartialStatusFullClosed:
		return database.PartialStatusFullClosed
	}
	return database.PartialStatusNone
}

// emit fires the post-commit event and notification for one closure.
func (t *FastTracker) emit(ctx context.Context, p pendingNotify) {
	if p.partial {
		t.bus.PublishSignalPartial(p.signal.ID, p.signal.Symbol, p.fillPrice, p.pnl)
		if t.notifier != nil {
			if err := t.notifier.NotifyPartialClose(ctx, p.signal, p.fillPrice, p.pnl); err != nil {
				t.log.Warn().Err(err).Str("signal_id", p.signal.ID).Msg("partial-close notification failed")
			}
		}
		return
	}

	t.bus.PublishSignalClosed(p.signal.ID, p.signal.Symbol, p.reason, p.pnl)
	if t.notifier != nil {
		if err := t.notifier.NotifyFullClose(ctx, p.signal, p.fillPrice, p.reason, p.pnl); err != nil {
			t.log.Warn().Err(err).Str("signal_id", p.signal.ID).Msg("closure notification failed")
		}
	}
}
