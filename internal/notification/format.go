package notification

import (
	"fmt"
	"strings"

	"futures-signal-bot/internal/database"
)

func directionEmoji(direction string) string {
	if direction == database.DirectionLong {
		return "🟢"
	}
	return "🔴"
}

// FormatSignal renders the entry card for a new signal.
func FormatSignal(s *database.Signal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s *%s %s* — %s priority\n\n",
		directionEmoji(s.Direction), s.Symbol, s.Direction, s.Priority)
	fmt.Fprintf(&b, "Entry: `%.4f`\n", s.EntryPrice)
	fmt.Fprintf(&b, "Stop: `%.4f` (%s)\n", s.StopLoss, s.StopReasoning)
	fmt.Fprintf(&b, "TP1: `%.4f` (%s)\n", s.TakeProfit1, s.TP1Reasoning)
	fmt.Fprintf(&b, "TP2: `%.4f` (%s)\n\n", s.TakeProfit2, s.TP2Reasoning)
	fmt.Fprintf(&b, "R/R: `%.2f`  Score: `%.0f`\n", s.RiskReward, s.QualityScore)
	fmt.Fprintf(&b, "Imbalance: `%+.3f`  Large trades: `%d`  Vol: `%.1fx`",
		s.Imbalance, s.LargeTrades, s.VolumeIntensity)

	return b.String()
}

// FormatPartialClose renders the TP1 half-exit update.
func FormatPartialClose(s *database.Signal, fillPrice, tp1PnL float64) string {
	return fmt.Sprintf("🎯 *TP1 hit* — %s %s\n\nHalf closed at `%.4f` (%+.2f%%)\nStop moved to breakeven `%.4f`",
		s.Symbol, s.Direction, fillPrice, tp1PnL, s.EntryPrice)
}

func reasonLabel(reason string) string {
	switch reason {
	case database.ExitReasonTP2:
		return "🏁 TP2 hit"
	case database.ExitReasonStopLoss:
		return "🛑 Stopped out"
	case database.ExitReasonStopLossBreakeven:
		return "⚖️ Breakeven stop"
	case database.ExitReasonReversal:
		return "↩️ Flow reversed"
	default:
		return reason
	}
}

// FormatFullClose renders the final closure update.
func FormatFullClose(s *database.Signal, exitPrice float64, reason string, pnlPercent float64) string {
	return fmt.Sprintf("%s — %s %s\n\nClosed at `%.4f`\nPnL: `%+.2f%%`",
		reasonLabel(reason), s.Symbol, s.Direction, exitPrice, pnlPercent)
}

// FormatStartup renders the engine-start announcement.
func FormatStartup(symbolCount int) string {
	return fmt.Sprintf("⚡ Signal engine started — tracking %d symbols", symbolCount)
}

// FormatUniverse renders the rescan summary. Symbols arrive in score order;
// only the leaders are named.
func FormatUniverse(symbols []string) string {
	top := symbols
	if len(top) > 5 {
		top = top[:5]
	}
	return fmt.Sprintf("🔭 Universe rescan — %d symbols active\nTop: %s",
		len(symbols), strings.Join(top, ", "))
}
