// Package stats aggregates closed trades into daily performance metrics.
package stats

import (
	"context"
	"math"
	"time"

	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/logging"
)

// Store is the persistence surface the monitor needs.
type Store interface {
	GetTradesBetween(ctx context.Context, from, to time.Time) ([]*database.Trade, error)
	GetSignalCountsForDay(ctx context.Context, dayStart time.Time) (*database.SignalDayCounts, error)
	InsertPerformanceMetric(ctx context.Context, m *database.PerformanceMetric) error
	UpsertDailyStats(ctx context.Context, d *database.DailyStats) error
}

// Monitor computes and persists the daily rollups.
type Monitor struct {
	store    Store
	interval time.Duration
	logger   *logging.Logger
}

// NewMonitor creates a monitor that recomputes on the given interval.
func NewMonitor(store Store, interval time.Duration) *Monitor {
	return &Monitor{
		store:    store,
		interval: interval,
		logger:   logging.WithComponent("stats"),
	}
}

// Run recomputes the current UTC day's metrics on the configured interval
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ComputeDay(ctx, time.Now().UTC()); err != nil {
				m.logger.WithError(err).Error("Daily stats computation failed")
			}
		}
	}
}

// ComputeDay aggregates the trades closed during day's UTC date and writes
// both the performance metric row and the daily stats rollup.
func (m *Monitor) ComputeDay(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	trades, err := m.store.GetTradesBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return err
	}

	metric := Summarize(trades)
	metric.Date = dayStart

	if err := m.store.InsertPerformanceMetric(ctx, metric); err != nil {
		return err
	}

	counts, err := m.store.GetSignalCountsForDay(ctx, dayStart)
	if err != nil {
		return err
	}

	daily := &database.DailyStats{
		Date:             dayStart,
		SignalsGenerated: counts.Generated,
		SignalsClosed:    metric.TotalSignals,
		HighPriority:     counts.High,
		MediumPriority:   counts.Medium,
		LowPriority:      counts.Low,
		TotalPnLPercent:  metric.TotalPnL,
		WinRate:          metric.WinRate,
	}
	if err := m.store.UpsertDailyStats(ctx, daily); err != nil {
		return err
	}

	m.logger.Info("Daily stats updated",
		"date", dayStart.Format("2006-01-02"),
		"closed", metric.TotalSignals,
		"win_rate", metric.WinRate,
		"total_pnl", metric.TotalPnL)
	return nil
}

// Summarize reduces a day's closed trades to one performance metric row.
func Summarize(trades []*database.Trade) *database.PerformanceMetric {
	metric := &database.PerformanceMetric{TotalSignals: len(trades)}
	if len(trades) == 0 {
		return metric
	}

	metric.MaxPnL = trades[0].PnLPercent
	metric.MinPnL = trades[0].PnLPercent

	var totalHold float64
	for _, t := range trades {
		pnl := t.PnLPercent
		metric.TotalPnL += pnl
		metric.MaxPnL = math.Max(metric.MaxPnL, pnl)
		metric.MinPnL = math.Min(metric.MinPnL, pnl)
		totalHold += t.HoldTimeMinutes

		if pnl > 0 {
			metric.Wins++
		} else if pnl < 0 {
			metric.Losses++
		}

		if t.PartialCloseStatus != database.PartialStatusNone {
			metric.TP1Hits++
		}
		switch t.ExitReason {
		case database.ExitReasonTP2:
			metric.TP2Hits++
		case database.ExitReasonStopLoss, database.ExitReasonStopLossBreakeven:
			metric.SLHits++
		}
	}

	n := float64(len(trades))
	metric.WinRate = float64(metric.Wins) / n * 100
	metric.AvgPnL = metric.TotalPnL / n
	metric.AvgHoldMinutes = totalHold / n
	metric.SharpeRatio = sharpe(trades)
	metric.MaxDrawdown = maxDrawdown(trades)
	return metric
}

// sharpe is the annualized Sharpe ratio over per-trade fractional returns.
func sharpe(trades []*database.Trade) float64 {
	if len(trades) < 2 {
		return 0
	}

	var sum float64
	for _, t := range trades {
		sum += t.PnLPercent / 100
	}
	mean := sum / float64(len(trades))

	var variance float64
	for _, t := range trades {
		d := t.PnLPercent/100 - mean
		variance += d * d
	}
	variance /= float64(len(trades) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}

// maxDrawdown is the largest peak-to-trough fall of the cumulative
// percent-return curve, in percent.
func maxDrawdown(trades []*database.Trade) float64 {
	var cum, peak, maxDD float64
	for _, t := range trades {
		cum += t.PnLPercent
		peak = math.Max(peak, cum)
		maxDD = math.Max(maxDD, peak-cum)
	}
	return maxDD
}
