package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/logging"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram delivers messages through the Bot API.
type Telegram struct {
	cfg        config.TelegramConfig
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTelegram creates a Telegram channel.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{
		cfg:     cfg,
		baseURL: telegramAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.WithComponent("telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) IsEnabled() bool {
	return t.cfg.Enabled && t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

type sendMessageRequest struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ParseMode        string `json:"parse_mode"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts a Markdown message and returns its message id.
func (t *Telegram) SendMessage(ctx context.Context, text string, replyTo int64) (int64, error) {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:           t.cfg.ChatID,
		Text:             text,
		ParseMode:        "Markdown",
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !result.OK {
		return 0, fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, result.Description)
	}
	return result.Result.MessageID, nil
}
