package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSignal() *database.Signal {
	return &database.Signal{
		ID:              "sig-1",
		Symbol:          "BTCUSDT",
		Direction:       database.DirectionLong,
		Priority:        "HIGH",
		EntryPrice:      100.0,
		StopLoss:        99.20,
		TakeProfit1:     100.95,
		TakeProfit2:     101.90,
		QualityScore:    77,
		Imbalance:       0.30,
		LargeTrades:     4,
		VolumeIntensity: 3.0,
		RiskReward:      1.1875,
		StopReasoning:   "Below support cluster at 99.50",
		TP1Reasoning:    "95% before resistance at 101.00",
		TP2Reasoning:    "95% before second resistance at 102.00",
	}
}

func TestFormatSignal(t *testing.T) {
	text := FormatSignal(sampleSignal())

	assert.Contains(t, text, "BTCUSDT LONG")
	assert.Contains(t, text, "HIGH priority")
	assert.Contains(t, text, "`100.0000`")
	assert.Contains(t, text, "Below support cluster at 99.50")
	assert.Contains(t, text, "R/R: `1.19`")
	assert.Contains(t, text, "Large trades: `4`")
}

func TestFormatCloses(t *testing.T) {
	s := sampleSignal()

	partial := FormatPartialClose(s, 100.95, 0.475)
	assert.Contains(t, partial, "TP1 hit")
	assert.Contains(t, partial, "+0.47%")
	assert.Contains(t, partial, "breakeven `100.0000`")

	full := FormatFullClose(s, 101.90, database.ExitReasonTP2, 1.425)
	assert.Contains(t, full, "TP2 hit")
	assert.Contains(t, full, "+1.4")

	universe := FormatUniverse([]string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT", "EEEUSDT", "FFFUSDT"})
	assert.Contains(t, universe, "6 symbols active")
	assert.Contains(t, universe, "AAAUSDT, BBBUSDT")
	assert.NotContains(t, universe, "FFFUSDT")

	stopped := FormatFullClose(s, 99.19, database.ExitReasonStopLoss, -0.81)
	assert.Contains(t, stopped, "Stopped out")
	assert.Contains(t, stopped, "-0.81%")
}

func TestTelegramSendMessage(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: "chat"})
	tg.baseURL = server.URL

	id, err := tg.SendMessage(context.Background(), "hello", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "chat", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.Equal(t, int64(7), got.ReplyToMessageID)
}

func TestTelegramAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: "chat"})
	tg.baseURL = server.URL

	_, err := tg.SendMessage(context.Background(), "hello", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

type fakeChannel struct {
	enabled bool
	sent    []string
	replyTo []int64
	nextID  int64
}

func (f *fakeChannel) Name() string    { return "fake" }
func (f *fakeChannel) IsEnabled() bool { return f.enabled }

func (f *fakeChannel) SendMessage(ctx context.Context, text string, replyTo int64) (int64, error) {
	f.sent = append(f.sent, text)
	f.replyTo = append(f.replyTo, replyTo)
	return f.nextID, nil
}

func TestManagerThreadsClosures(t *testing.T) {
	ch := &fakeChannel{enabled: true, nextID: 42}
	m := NewManager(config.NotificationConfig{Enabled: true})
	m.AddChannel(ch)

	s := sampleSignal()
	id, err := m.NotifySignal(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(0), ch.replyTo[0])

	messageID := int64(42)
	s.TelegramMessageID = &messageID

	require.NoError(t, m.NotifyPartialClose(context.Background(), s, 100.95, 0.475))
	assert.Equal(t, int64(42), ch.replyTo[1])

	require.NoError(t, m.NotifyFullClose(context.Background(), s, 101.90, database.ExitReasonTP2, 1.425))
	assert.Equal(t, int64(42), ch.replyTo[2])
	assert.Len(t, ch.sent, 3)
}

func TestManagerDisabled(t *testing.T) {
	ch := &fakeChannel{enabled: true, nextID: 42}
	m := NewManager(config.NotificationConfig{Enabled: false})
	m.AddChannel(ch)

	id, err := m.NotifySignal(context.Background(), sampleSignal())
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, ch.sent)
}
