package database

import (
	"time"
)

// Signal status values
const (
	SignalStatusOpen   = "OPEN"
	SignalStatusClosed = "CLOSED"
)

// Partial-close progression
const (
	PartialStatusNone       = "NONE"
	PartialStatusTP1Closed  = "TP1_CLOSED"
	PartialStatusFullClosed = "FULLY_CLOSED"
)

// Signal direction
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Exit reasons recorded on closure
const (
	ExitReasonTP2               = "TAKE_PROFIT_2"
	ExitReasonStopLoss          = "STOP_LOSS"
	ExitReasonStopLossBreakeven = "STOP_LOSS_BREAKEVEN"
	ExitReasonReversal          = "IMBALANCE_REVERSED"
	ExitReasonInvariant         = "INVARIANT_VIOLATION"
)

// Signal is an emitted entry signal and its mutable exit state.
type Signal struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Direction          string     `json:"direction"`
	Priority           string     `json:"priority"`
	EntryPrice         float64    `json:"entry_price"`
	StopLoss           float64    `json:"stop_loss"`
	TakeProfit1        float64    `json:"take_profit_1"`
	TakeProfit2        float64    `json:"take_profit_2"`
	QualityScore       float64    `json:"quality_score"`
	Imbalance          float64    `json:"imbalance"`
	LargeTrades        int        `json:"large_trades"`
	VolumeIntensity    float64    `json:"volume_intensity"`
	RiskReward         float64    `json:"risk_reward"`
	StopReasoning      string     `json:"stop_reasoning"`
	TP1Reasoning       string     `json:"tp1_reasoning"`
	TP2Reasoning       string     `json:"tp2_reasoning"`
	SupportLevel       *float64   `json:"support_level,omitempty"`
	ResistanceLevel    *float64   `json:"resistance_level,omitempty"`
	Status             string     `json:"status"`
	PartialCloseStatus string     `json:"partial_close_status"`
	BreakevenMoved     bool       `json:"breakeven_moved"`
	CurrentStopLoss    float64    `json:"current_stop_loss"`
	TP1HitPrice        *float64   `json:"tp1_hit_price,omitempty"`
	TP1HitTime         *time.Time `json:"tp1_hit_time,omitempty"`
	TP1PnL             *float64   `json:"tp1_pnl,omitempty"`
	TP2HitPrice        *float64   `json:"tp2_hit_price,omitempty"`
	TP2HitTime         *time.Time `json:"tp2_hit_time,omitempty"`
	TP2PnL             *float64   `json:"tp2_pnl,omitempty"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	ExitReason         *string    `json:"exit_reason,omitempty"`
	PnLPercent         *float64   `json:"pnl_percent,omitempty"`
	TelegramMessageID  *int64     `json:"telegram_message_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// Trade is the immutable closure history row written once per full closure.
type Trade struct {
	ID                 int64      `json:"id"`
	SignalID           string     `json:"signal_id"`
	Symbol             string     `json:"symbol"`
	Direction          string     `json:"direction"`
	EntryPrice         float64    `json:"entry_price"`
	ExitPrice          float64    `json:"exit_price"`
	StopLoss           float64    `json:"stop_loss"`
	TakeProfit1        float64    `json:"take_profit_1"`
	TakeProfit2        float64    `json:"take_profit_2"`
	ExitReason         string     `json:"exit_reason"`
	PnLPercent         float64    `json:"pnl_percent"`
	HoldTimeMinutes    float64    `json:"hold_time_minutes"`
	PartialCloseStatus string     `json:"partial_close_status"`
	TP1HitPrice        *float64   `json:"tp1_hit_price,omitempty"`
	TP1PnL             *float64   `json:"tp1_pnl,omitempty"`
	EntryTime          time.Time  `json:"entry_time"`
	ExitTime           time.Time  `json:"exit_time"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Symbol is one instrument in the tradable universe.
type Symbol struct {
	Symbol            string    `json:"symbol"`
	Active            bool      `json:"active"`
	Score             float64   `json:"score"`
	QuoteVolume24h    float64   `json:"quote_volume_24h"`
	OpenInterestValue float64   `json:"open_interest_value"`
	SpreadPct         float64   `json:"spread_pct"`
	PriceChangePct    float64   `json:"price_change_pct"`
	TradeCount24h     int64     `json:"trade_count_24h"`
	LastScannedAt     time.Time `json:"last_scanned_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Kline is a persisted closed candle.
type Kline struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// PerformanceMetric is one daily aggregation row.
type PerformanceMetric struct {
	ID             int64     `json:"id"`
	Date           time.Time `json:"date"`
	TotalSignals   int       `json:"total_signals"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"win_rate"`
	TotalPnL       float64   `json:"total_pnl"`
	AvgPnL         float64   `json:"avg_pnl"`
	MaxPnL         float64   `json:"max_pnl"`
	MinPnL         float64   `json:"min_pnl"`
	AvgHoldMinutes float64   `json:"avg_hold_minutes"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	TP1Hits        int       `json:"tp1_hits"`
	TP2Hits        int       `json:"tp2_hits"`
	SLHits         int       `json:"sl_hits"`
	CreatedAt      time.Time `json:"created_at"`
}

// DailyStats is the per-date rollup upserted each run.
type DailyStats struct {
	ID               int64     `json:"id"`
	Date             time.Time `json:"date"`
	SignalsGenerated int       `json:"signals_generated"`
	SignalsClosed    int       `json:"signals_closed"`
	HighPriority     int       `json:"high_priority"`
	MediumPriority   int       `json:"medium_priority"`
	LowPriority      int       `json:"low_priority"`
	TotalPnLPercent  float64   `json:"total_pnl_percent"`
	WinRate          float64   `json:"win_rate"`
	UpdatedAt        time.Time `json:"updated_at"`
}
