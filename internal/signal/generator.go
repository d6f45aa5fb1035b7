package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/binance"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/events"
	"futures-signal-bot/internal/logging"

	"github.com/google/uuid"
)

// Store is the persistence surface the generator needs.
type Store interface {
	CreateSignal(ctx context.Context, s *database.Signal) error
	SetTelegramMessageID(ctx context.Context, signalID string, messageID int64) error
}

// Notifier dispatches the signal card and returns the message id used for
// reply threading later.
type Notifier interface {
	NotifySignal(ctx context.Context, s *database.Signal) (int64, error)
}

// DepthSource supplies deep order-book snapshots for level analysis.
type DepthSource interface {
	GetDepth(ctx context.Context, symbol string, limit int, priority binance.RequestPriority) (*binance.Depth, error)
}

// Generator runs the per-symbol entry evaluation: the cheap confluence check
// feeding the persistence gate on every tick, and the full placement
// pipeline once the gate fires.
type Generator struct {
	cfg        config.SignalConfig
	levelsCfg  config.LevelsConfig
	cache      *cache.Service
	store      Store
	depth      DepthSource
	volatility *analysis.VolatilityEstimator
	levels     *analysis.LevelsAnalyzer
	validator  *Validator
	gate       *ConfirmationTracker
	bus        *events.EventBus
	notifier   Notifier
	hasOpen    func(symbol string) bool
	logger     *logging.Logger
}

// NewGenerator wires the entry pipeline.
func NewGenerator(
	cfg config.SignalConfig,
	levelsCfg config.LevelsConfig,
	cacheService *cache.Service,
	store Store,
	depth DepthSource,
	volatility *analysis.VolatilityEstimator,
	levels *analysis.LevelsAnalyzer,
	bus *events.EventBus,
	notifier Notifier,
) *Generator {
	return &Generator{
		cfg:        cfg,
		levelsCfg:  levelsCfg,
		cache:      cacheService,
		store:      store,
		depth:      depth,
		volatility: volatility,
		levels:     levels,
		validator:  NewValidator(cfg),
		gate:       NewConfirmationTracker(cfg.PersistenceEntrySamples),
		bus:        bus,
		notifier:   notifier,
		logger:     logging.WithComponent("generator"),
	}
}

// SetOpenChecker installs the callback that reports whether a symbol already
// carries an open signal.
func (g *Generator) SetOpenChecker(hasOpen func(symbol string) bool) {
	g.hasOpen = hasOpen
}

// Gate exposes the persistence tracker for inactive-symbol cleanup.
func (g *Generator) Gate() *ConfirmationTracker {
	return g.gate
}

// EvaluateSymbol runs one 100 ms entry tick for symbol. Missing snapshot
// data is abstention: the persistence counter neither advances nor resets.
// Returns true when a signal was emitted.
func (g *Generator) EvaluateSymbol(ctx context.Context, symbol string) (bool, error) {
	if g.hasOpen != nil && g.hasOpen(symbol) {
		return false, nil
	}

	var imb cache.ImbalanceSnapshot
	if err := g.cache.GetJSON(ctx, cache.ImbalanceKey(symbol), &imb); err != nil {
		return false, nil
	}
	var price cache.PriceSnapshot
	if err := g.cache.GetJSON(ctx, cache.PriceKey(symbol), &price); err != nil {
		return false, nil
	}
	var flow cache.TradeFlowSnapshot
	if err := g.cache.GetJSON(ctx, cache.TradeFlowKey(symbol), &flow); err != nil {
		return false, nil
	}
	var kline15 cache.KlineSnapshot
	if err := g.cache.GetJSON(ctx, cache.Kline15mKey(symbol), &kline15); err != nil {
		// Volume intensity needs the 15m baseline; no fallback.
		return false, nil
	}
	if price.Mid <= 0 || kline15.Volume <= 0 {
		return false, nil
	}

	volumeIntensity := flow.VolumePerMinute / (kline15.Volume / 15)

	direction := DirectionFromImbalance(imb.Imbalance)
	largeTrades := flow.LargeBuys
	if direction == database.DirectionShort {
		largeTrades = flow.LargeSells
	}

	conditionsMet := g.checkConditions(direction, imb.Imbalance, largeTrades, volumeIntensity, price.Mid, flow.VWAP)

	if !g.gate.Sample(symbol, conditionsMet) {
		return false, nil
	}

	return g.generate(ctx, symbol, direction, price.Mid, imb.Imbalance, largeTrades, volumeIntensity)
}

func (g *Generator) checkConditions(direction string, imbalance float64, largeTrades int, volumeIntensity, price, vwap float64) bool {
	if math.Abs(imbalance) < g.cfg.ImbalanceEntryThreshold {
		return false
	}
	if largeTrades < g.cfg.MinLargeTrades {
		return false
	}
	if volumeIntensity < g.cfg.VolumeConfirmationMult {
		return false
	}
	if vwap > 0 {
		if direction == database.DirectionLong && price <= vwap {
			return false
		}
		if direction == database.DirectionShort && price >= vwap {
			return false
		}
	}
	return true
}

// generate runs the heavy placement pipeline after the gate fires.
func (g *Generator) generate(ctx context.Context, symbol, direction string, entry, imbalance float64, largeTrades int, volumeIntensity float64) (bool, error) {
	vol, err := g.volatility.Estimate(ctx, symbol, entry)
	if err != nil {
		return false, fmt.Errorf("volatility estimate for %s failed: %w", symbol, err)
	}

	depth, err := g.depth.GetDepth(ctx, symbol, g.levelsCfg.OrderbookDepth, binance.PriorityCritical)
	if err != nil {
		return false, fmt.Errorf("depth snapshot for %s failed: %w", symbol, err)
	}

	bids := toPriceLevels(depth.Bids)
	asks := toPriceLevels(depth.Asks)

	levels, err := g.levels.Analyze(ctx, symbol, entry, vol.RangeLow, vol.RangeHigh, bids, asks)
	if err != nil {
		return false, fmt.Errorf("level analysis for %s failed: %w", symbol, err)
	}

	stop := FindStop(direction, entry, levels, vol.ATR, g.cfg.ATRStopMultiplier, g.cfg.MaxStopPct)
	targets := FindTargets(direction, entry, stop, levels, g.cfg.MinTPPct, g.cfg.MinRiskReward)

	verdict := g.validator.Validate(imbalance, largeTrades, volumeIntensity, stop, targets, levels.TotalLevels)
	if !verdict.Accepted {
		g.logger.Debug("Signal rejected", "symbol", symbol, "reasons", fmt.Sprintf("%v", verdict.Reasons))
		return false, nil
	}

	s := &database.Signal{
		ID:                 uuid.New().String(),
		Symbol:             symbol,
		Direction:          direction,
		Priority:           verdict.Priority,
		EntryPrice:         entry,
		StopLoss:           stop.Price,
		TakeProfit1:        targets.TP1,
		TakeProfit2:        targets.TP2,
		QualityScore:       verdict.Score,
		Imbalance:          imbalance,
		LargeTrades:        largeTrades,
		VolumeIntensity:    volumeIntensity,
		RiskReward:         targets.TP1RR,
		StopReasoning:      stop.Reason,
		TP1Reasoning:       targets.TP1Reason,
		TP2Reasoning:       targets.TP2Reason,
		Status:             database.SignalStatusOpen,
		PartialCloseStatus: database.PartialStatusNone,
		CurrentStopLoss:    stop.Price,
	}
	if levels.StrongestSupport != nil {
		v := levels.StrongestSupport.Price
		s.SupportLevel = &v
	}
	if levels.StrongestResistance != nil {
		v := levels.StrongestResistance.Price
		s.ResistanceLevel = &v
	}

	if err := g.store.CreateSignal(ctx, s); err != nil {
		return false, fmt.Errorf("failed to persist signal for %s: %w", symbol, err)
	}

	g.logger.Info("Signal emitted",
		"symbol", symbol, "direction", direction, "priority", verdict.Priority,
		"entry", entry, "stop", stop.Price, "tp1", targets.TP1, "tp2", targets.TP2,
		"score", verdict.Score)

	g.bus.PublishSignalGenerated(s.ID, symbol, direction, verdict.Priority, entry, verdict.Score)

	// Notification is fire-and-forget; a failure never rolls back the signal.
	if g.notifier != nil {
		go func(sig database.Signal) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			messageID, err := g.notifier.NotifySignal(notifyCtx, &sig)
			if err != nil {
				g.logger.WithError(err).Warn("Signal notification failed", "signal_id", sig.ID)
				return
			}
			if messageID != 0 {
				if err := g.store.SetTelegramMessageID(notifyCtx, sig.ID, messageID); err != nil {
					g.logger.WithError(err).Warn("Failed to record message id", "signal_id", sig.ID)
				}
			}
		}(*s)
	}

	return true, nil
}

func toPriceLevels(levels [][2]float64) []cache.PriceLevel {
	out := make([]cache.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, cache.PriceLevel{Price: l[0], Size: l[1]})
	}
	return out
}
