package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

const signalColumns = `id, symbol, direction, priority, entry_price, stop_loss,
	take_profit_1, take_profit_2, quality_score, imbalance, large_trades,
	volume_intensity, risk_reward, stop_reasoning, tp1_reasoning, tp2_reasoning,
	support_level, resistance_level, status, partial_close_status,
	breakeven_moved, current_stop_loss, tp1_hit_price, tp1_hit_time, tp1_pnl,
	tp2_hit_price, tp2_hit_time, tp2_pnl, exit_price, exit_reason, pnl_percent,
	telegram_message_id, created_at, updated_at, closed_at`

func scanSignal(row pgx.Row) (*Signal, error) {
	s := &Signal{}
	err := row.Scan(
		&s.ID, &s.Symbol, &s.Direction, &s.Priority, &s.EntryPrice, &s.StopLoss,
		&s.TakeProfit1, &s.TakeProfit2, &s.QualityScore, &s.Imbalance, &s.LargeTrades,
		&s.VolumeIntensity, &s.RiskReward, &s.StopReasoning, &s.TP1Reasoning, &s.TP2Reasoning,
		&s.SupportLevel, &s.ResistanceLevel, &s.Status, &s.PartialCloseStatus,
		&s.BreakevenMoved, &s.CurrentStopLoss, &s.TP1HitPrice, &s.TP1HitTime, &s.TP1PnL,
		&s.TP2HitPrice, &s.TP2HitTime, &s.TP2PnL, &s.ExitPrice, &s.ExitReason, &s.PnLPercent,
		&s.TelegramMessageID, &s.CreatedAt, &s.UpdatedAt, &s.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSignal inserts a new OPEN signal
func (r *Repository) CreateSignal(ctx context.Context, s *Signal) error {
	query := `
		INSERT INTO signals (id, symbol, direction, priority, entry_price, stop_loss,
			take_profit_1, take_profit_2, quality_score, imbalance, large_trades,
			volume_intensity, risk_reward, stop_reasoning, tp1_reasoning, tp2_reasoning,
			support_level, resistance_level, status, partial_close_status,
			breakeven_moved, current_stop_loss)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.ID, s.Symbol, s.Direction, s.Priority, s.EntryPrice, s.StopLoss,
		s.TakeProfit1, s.TakeProfit2, s.QualityScore, s.Imbalance, s.LargeTrades,
		s.VolumeIntensity, s.RiskReward, s.StopReasoning, s.TP1Reasoning, s.TP2Reasoning,
		s.SupportLevel, s.ResistanceLevel, s.Status, s.PartialCloseStatus,
		s.BreakevenMoved, s.CurrentStopLoss,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetSignalByID retrieves a signal by id
func (r *Repository) GetSignalByID(ctx context.Context, id string) (*Signal, error) {
	query := fmt.Sprintf(`SELECT %s FROM signals WHERE id = $1`, signalColumns)
	return scanSignal(r.db.Pool.QueryRow(ctx, query, id))
}

// GetOpenSignals retrieves all OPEN signals, oldest first
func (r *Repository) GetOpenSignals(ctx context.Context) ([]*Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE status = 'OPEN'
		ORDER BY created_at ASC
	`, signalColumns)
	return r.querySignals(ctx, query)
}

// GetSignalsByStatus retrieves signals filtered by status, newest first
func (r *Repository) GetSignalsByStatus(ctx context.Context, status string, limit int) ([]*Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, signalColumns)
	return r.querySignals(ctx, query, status, limit)
}

// GetRecentSignals retrieves the most recent signals regardless of status
func (r *Repository) GetRecentSignals(ctx context.Context, limit int) ([]*Signal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM signals
		ORDER BY created_at DESC
		LIMIT $1
	`, signalColumns)
	return r.querySignals(ctx, query, limit)
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// SetTelegramMessageID stores the notification id for reply threading
func (r *Repository) SetTelegramMessageID(ctx context.Context, signalID string, messageID int64) error {
	query := `UPDATE signals SET telegram_message_id = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, signalID, messageID)
	return err
}

// ============================================================================
// CLOSURES
// ============================================================================

// PartialClose records a TP1 fill. The signal stays OPEN with the stop moved
// to entry.
type PartialClose struct {
	SignalID    string
	HitPrice    float64
	HitTime     time.Time
	TP1PnL      float64
	NewStopLoss float64
}

// FullClose terminates a signal. Trade is the immutable history row appended
// alongside the status flip.
type FullClose struct {
	SignalID           string
	ExitPrice          float64
	ExitReason         string
	PnLPercent         float64
	ExitTime           time.Time
	PartialCloseStatus string
	TP2HitPrice        *float64
	TP2PnL             *float64
	Trade              *Trade
}

// ClosureBatch is one tracker scan's worth of state changes, committed
// atomically.
type ClosureBatch struct {
	Partials []PartialClose
	Fulls    []FullClose
}

// Empty reports whether the batch carries no changes.
func (b *ClosureBatch) Empty() bool {
	return len(b.Partials) == 0 && len(b.Fulls) == 0
}

// ApplyClosureBatch commits all partial and full closures in one transaction.
// Every update is conditional on the row still being OPEN; rows that lost the
// race are skipped with a warning and their trade record is not written.
// Returns the number of signals fully closed.
func (r *Repository) ApplyClosureBatch(ctx context.Context, batch *ClosureBatch) (int, error) {
	if batch.Empty() {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin closure transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range batch.Partials {
		tag, err := tx.Exec(ctx, `
			UPDATE signals
			SET partial_close_status = 'TP1_CLOSED',
			    breakeven_moved = TRUE,
			    current_stop_loss = $2,
			    tp1_hit_price = $3,
			    tp1_hit_time = $4,
			    tp1_pnl = $5,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = $1 AND status = 'OPEN' AND partial_close_status = 'NONE'
		`, p.SignalID, p.NewStopLoss, p.HitPrice, p.HitTime, p.TP1PnL)
		if err != nil {
			return 0, fmt.Errorf("partial close of %s failed: %w", p.SignalID, err)
		}
		if tag.RowsAffected() == 0 {
			r.db.logger.Warn("Partial close skipped, signal no longer open", "signal_id", p.SignalID)
		}
	}

	closed := 0
	for _, f := range batch.Fulls {
		tag, err := tx.Exec(ctx, `
			UPDATE signals
			SET status = 'CLOSED',
			    partial_close_status = $2,
			    exit_price = $3,
			    exit_reason = $4,
			    pnl_percent = $5,
			    tp2_hit_price = COALESCE($6, tp2_hit_price),
			    tp2_hit_time = CASE WHEN $6::DECIMAL IS NOT NULL THEN $7 ELSE tp2_hit_time END,
			    tp2_pnl = COALESCE($8, tp2_pnl),
			    closed_at = $7,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = $1 AND status = 'OPEN'
		`, f.SignalID, f.PartialCloseStatus, f.ExitPrice, f.ExitReason, f.PnLPercent,
			f.TP2HitPrice, f.ExitTime, f.TP2PnL)
		if err != nil {
			return 0, fmt.Errorf("full close of %s failed: %w", f.SignalID, err)
		}
		if tag.RowsAffected() == 0 {
			r.db.logger.Warn("Closure skipped, signal no longer open", "signal_id", f.SignalID)
			continue
		}
		closed++

		if f.Trade != nil {
			if err := createTradeTx(ctx, tx, f.Trade); err != nil {
				return 0, fmt.Errorf("trade record for %s failed: %w", f.SignalID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit closure transaction: %w", err)
	}
	return closed, nil
}

// ============================================================================
// TRADES
// ============================================================================

func createTradeTx(ctx context.Context, tx pgx.Tx, t *Trade) error {
	query := `
		INSERT INTO trades (signal_id, symbol, direction, entry_price, exit_price,
			stop_loss, take_profit_1, take_profit_2, exit_reason, pnl_percent,
			hold_time_minutes, partial_close_status, tp1_hit_price, tp1_pnl,
			entry_time, exit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`
	return tx.QueryRow(
		ctx, query,
		t.SignalID, t.Symbol, t.Direction, t.EntryPrice, t.ExitPrice,
		t.StopLoss, t.TakeProfit1, t.TakeProfit2, t.ExitReason, t.PnLPercent,
		t.HoldTimeMinutes, t.PartialCloseStatus, t.TP1HitPrice, t.TP1PnL,
		t.EntryTime, t.ExitTime,
	).Scan(&t.ID, &t.CreatedAt)
}

// GetTradesBetween retrieves trades that exited within [from, to), oldest
// first.
func (r *Repository) GetTradesBetween(ctx context.Context, from, to time.Time) ([]*Trade, error) {
	query := `
		SELECT id, signal_id, symbol, direction, entry_price, exit_price,
		       stop_loss, take_profit_1, take_profit_2, exit_reason, pnl_percent,
		       hold_time_minutes, partial_close_status, tp1_hit_price, tp1_pnl,
		       entry_time, exit_time, created_at
		FROM trades
		WHERE exit_time >= $1 AND exit_time < $2
		ORDER BY exit_time ASC
	`
	return r.queryTrades(ctx, query, from, to)
}

// GetAllTrades retrieves the full closure history, oldest first.
func (r *Repository) GetAllTrades(ctx context.Context) ([]*Trade, error) {
	query := `
		SELECT id, signal_id, symbol, direction, entry_price, exit_price,
		       stop_loss, take_profit_1, take_profit_2, exit_reason, pnl_percent,
		       hold_time_minutes, partial_close_status, tp1_hit_price, tp1_pnl,
		       entry_time, exit_time, created_at
		FROM trades
		ORDER BY exit_time ASC
	`
	return r.queryTrades(ctx, query)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		err := rows.Scan(
			&t.ID, &t.SignalID, &t.Symbol, &t.Direction, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.TakeProfit1, &t.TakeProfit2, &t.ExitReason, &t.PnLPercent,
			&t.HoldTimeMinutes, &t.PartialCloseStatus, &t.TP1HitPrice, &t.TP1PnL,
			&t.EntryTime, &t.ExitTime, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// KLINES
// ============================================================================

// UpsertKline inserts or refreshes a closed candle keyed by
// (symbol, interval, open_time).
func (r *Repository) UpsertKline(ctx context.Context, k *Kline) error {
	query := `
		INSERT INTO klines (symbol, interval, open_time, close_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, interval, open_time)
		DO UPDATE SET close_time = EXCLUDED.close_time, open = EXCLUDED.open,
			high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`
	_, err := r.db.Pool.Exec(ctx, query,
		k.Symbol, k.Interval, k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	return err
}

// GetRecentKlines returns the latest limit candles for symbol/interval,
// oldest first.
func (r *Repository) GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]*Kline, error) {
	query := `
		SELECT id, symbol, interval, open_time, close_time, open, high, low, close, volume, created_at
		FROM (
			SELECT id, symbol, interval, open_time, close_time, open, high, low, close, volume, created_at
			FROM klines
			WHERE symbol = $1 AND interval = $2
			ORDER BY open_time DESC
			LIMIT $3
		) recent
		ORDER BY open_time ASC
	`
	return r.queryKlines(ctx, query, symbol, interval, limit)
}

// GetKlinesSince returns candles with open_time >= since, oldest first.
func (r *Repository) GetKlinesSince(ctx context.Context, symbol, interval string, since time.Time) ([]*Kline, error) {
	query := `
		SELECT id, symbol, interval, open_time, close_time, open, high, low, close, volume, created_at
		FROM klines
		WHERE symbol = $1 AND interval = $2 AND open_time >= $3
		ORDER BY open_time ASC
	`
	return r.queryKlines(ctx, query, symbol, interval, since)
}

func (r *Repository) queryKlines(ctx context.Context, query string, args ...interface{}) ([]*Kline, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var klines []*Kline
	for rows.Next() {
		k := &Kline{}
		err := rows.Scan(
			&k.ID, &k.Symbol, &k.Interval, &k.OpenTime, &k.CloseTime,
			&k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	return klines, rows.Err()
}

// ============================================================================
// SYMBOLS
// ============================================================================

// ReplaceActiveSymbols deactivates every symbol then upserts the new active
// set in one transaction.
func (r *Repository) ReplaceActiveSymbols(ctx context.Context, symbols []*Symbol) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin universe transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE symbols SET active = FALSE, updated_at = CURRENT_TIMESTAMP`); err != nil {
		return fmt.Errorf("failed to deactivate symbols: %w", err)
	}

	for _, s := range symbols {
		_, err := tx.Exec(ctx, `
			INSERT INTO symbols (symbol, active, score, quote_volume_24h,
				open_interest_value, spread_pct, price_change_pct, trade_count_24h,
				last_scanned_at)
			VALUES ($1, TRUE, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol)
			DO UPDATE SET active = TRUE, score = EXCLUDED.score,
				quote_volume_24h = EXCLUDED.quote_volume_24h,
				open_interest_value = EXCLUDED.open_interest_value,
				spread_pct = EXCLUDED.spread_pct,
				price_change_pct = EXCLUDED.price_change_pct,
				trade_count_24h = EXCLUDED.trade_count_24h,
				last_scanned_at = EXCLUDED.last_scanned_at,
				updated_at = CURRENT_TIMESTAMP
		`, s.Symbol, s.Score, s.QuoteVolume24h, s.OpenInterestValue,
			s.SpreadPct, s.PriceChangePct, s.TradeCount24h, s.LastScannedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert symbol %s: %w", s.Symbol, err)
		}
	}

	return tx.Commit(ctx)
}

// GetActiveSymbols returns the active instrument names ordered by score
func (r *Repository) GetActiveSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT symbol FROM symbols WHERE active = TRUE ORDER BY score DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// GetUniverse returns the full active symbol rows ordered by score
func (r *Repository) GetUniverse(ctx context.Context) ([]*Symbol, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, active, score, quote_volume_24h, open_interest_value,
		       spread_pct, price_change_pct, trade_count_24h, last_scanned_at,
		       created_at, updated_at
		FROM symbols
		WHERE active = TRUE
		ORDER BY score DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		s := &Symbol{}
		err := rows.Scan(
			&s.Symbol, &s.Active, &s.Score, &s.QuoteVolume24h, &s.OpenInterestValue,
			&s.SpreadPct, &s.PriceChangePct, &s.TradeCount24h, &s.LastScannedAt,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// ============================================================================
// STATS
// ============================================================================

// SignalDayCounts is the per-priority signal count for one day.
type SignalDayCounts struct {
	Generated int
	High      int
	Medium    int
	Low       int
}

// GetSignalCountsForDay counts signals created within [dayStart, dayStart+24h).
func (r *Repository) GetSignalCountsForDay(ctx context.Context, dayStart time.Time) (*SignalDayCounts, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE priority = 'HIGH'),
		       COUNT(*) FILTER (WHERE priority = 'MEDIUM'),
		       COUNT(*) FILTER (WHERE priority = 'LOW')
		FROM signals
		WHERE created_at >= $1 AND created_at < $2
	`
	c := &SignalDayCounts{}
	err := r.db.Pool.QueryRow(ctx, query, dayStart, dayStart.Add(24*time.Hour)).
		Scan(&c.Generated, &c.High, &c.Medium, &c.Low)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// InsertPerformanceMetric appends one daily aggregation row
func (r *Repository) InsertPerformanceMetric(ctx context.Context, m *PerformanceMetric) error {
	query := `
		INSERT INTO performance_metrics (date, total_signals, wins, losses, win_rate,
			total_pnl, avg_pnl, max_pnl, min_pnl, avg_hold_minutes, sharpe_ratio,
			max_drawdown, tp1_hits, tp2_hits, sl_hits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		m.Date, m.TotalSignals, m.Wins, m.Losses, m.WinRate,
		m.TotalPnL, m.AvgPnL, m.MaxPnL, m.MinPnL, m.AvgHoldMinutes, m.SharpeRatio,
		m.MaxDrawdown, m.TP1Hits, m.TP2Hits, m.SLHits,
	).Scan(&m.ID, &m.CreatedAt)
}

// UpsertDailyStats inserts or refreshes the rollup row for its date
func (r *Repository) UpsertDailyStats(ctx context.Context, d *DailyStats) error {
	query := `
		INSERT INTO daily_stats (date, signals_generated, signals_closed,
			high_priority, medium_priority, low_priority, total_pnl_percent, win_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date)
		DO UPDATE SET signals_generated = EXCLUDED.signals_generated,
			signals_closed = EXCLUDED.signals_closed,
			high_priority = EXCLUDED.high_priority,
			medium_priority = EXCLUDED.medium_priority,
			low_priority = EXCLUDED.low_priority,
			total_pnl_percent = EXCLUDED.total_pnl_percent,
			win_rate = EXCLUDED.win_rate,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		d.Date, d.SignalsGenerated, d.SignalsClosed,
		d.HighPriority, d.MediumPriority, d.LowPriority, d.TotalPnLPercent, d.WinRate)
	return err
}
