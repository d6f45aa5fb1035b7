// Package notification delivers signal lifecycle messages to external
// channels. Telegram is the only channel; closures reply to the original
// signal message so each trade reads as one thread.
package notification

import (
	"context"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/logging"
)

// Channel is one delivery target.
type Channel interface {
	Name() string
	IsEnabled() bool
	// SendMessage delivers text and returns the channel's message id.
	// replyTo threads the message under an earlier one when non-zero.
	SendMessage(ctx context.Context, text string, replyTo int64) (int64, error)
}

// Manager fans lifecycle messages out to the configured channels.
type Manager struct {
	enabled  bool
	channels []Channel
	logger   *logging.Logger
}

// NewManager builds the manager from configuration.
func NewManager(cfg config.NotificationConfig) *Manager {
	m := &Manager{
		enabled: cfg.Enabled,
		logger:  logging.WithComponent("notification"),
	}
	if cfg.Telegram.Enabled {
		m.channels = append(m.channels, NewTelegram(cfg.Telegram))
	}
	return m
}

// AddChannel registers an extra delivery target.
func (m *Manager) AddChannel(c Channel) {
	m.channels = append(m.channels, c)
}

// NotifySignal sends the entry card. Returns the message id from the first
// channel that reports one, for reply threading on later updates.
func (m *Manager) NotifySignal(ctx context.Context, s *database.Signal) (int64, error) {
	return m.broadcast(ctx, FormatSignal(s), 0)
}

// NotifyPartialClose sends the TP1 half-exit update threaded onto the
// signal's original message.
func (m *Manager) NotifyPartialClose(ctx context.Context, s *database.Signal, fillPrice, tp1PnL float64) error {
	_, err := m.broadcast(ctx, FormatPartialClose(s, fillPrice, tp1PnL), replyTarget(s))
	return err
}

// NotifyFullClose sends the final closure update threaded onto the signal's
// original message.
func (m *Manager) NotifyFullClose(ctx context.Context, s *database.Signal, exitPrice float64, reason string, pnlPercent float64) error {
	_, err := m.broadcast(ctx, FormatFullClose(s, exitPrice, reason, pnlPercent), replyTarget(s))
	return err
}

// NotifyUniverse announces the result of a universe rescan.
func (m *Manager) NotifyUniverse(ctx context.Context, symbols []string) {
	if _, err := m.broadcast(ctx, FormatUniverse(symbols), 0); err != nil {
		m.logger.WithError(err).Warn("Universe notification failed")
	}
}

// NotifyStartup announces the engine start with its universe size.
func (m *Manager) NotifyStartup(ctx context.Context, symbolCount int) {
	if _, err := m.broadcast(ctx, FormatStartup(symbolCount), 0); err != nil {
		m.logger.WithError(err).Warn("Startup notification failed")
	}
}

func (m *Manager) broadcast(ctx context.Context, text string, replyTo int64) (int64, error) {
	if !m.enabled {
		return 0, nil
	}

	var firstID int64
	var firstErr error
	for _, c := range m.channels {
		if !c.IsEnabled() {
			continue
		}
		id, err := c.SendMessage(ctx, text, replyTo)
		if err != nil {
			m.logger.WithError(err).Warn("Notification delivery failed", "channel", c.Name())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if firstID == 0 {
			firstID = id
		}
	}
	if firstID != 0 {
		return firstID, nil
	}
	return 0, firstErr
}

func replyTarget(s *database.Signal) int64 {
	if s.TelegramMessageID != nil {
		return *s.TelegramMessageID
	}
	return 0
}
