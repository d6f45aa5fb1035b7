package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"futures-signal-bot/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	readIdleTimeout  = 300 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 60 * time.Second
	maxStreamsPerURL = 200
)

// streamEnvelope is the combined-stream frame wrapper.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// DepthUpdate is a partial book depth event (top 20 at 100 ms cadence).
type DepthUpdate struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// BookTickerEvent is a best bid/ask update.
type BookTickerEvent struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	BidPrice  float64 `json:"b,string"`
	BidQty    float64 `json:"B,string"`
	AskPrice  float64 `json:"a,string"`
	AskQty    float64 `json:"A,string"`
	EventTime int64   `json:"E"`
}

// AggTradeEvent is an aggregated trade.
type AggTradeEvent struct {
	EventType    string  `json:"e"`
	Symbol       string  `json:"s"`
	Price        float64 `json:"p,string"`
	Quantity     float64 `json:"q,string"`
	TradeTime    int64   `json:"T"`
	BuyerIsMaker bool    `json:"m"`
}

// KlineEvent wraps a candle update.
type KlineEvent struct {
	EventType string       `json:"e"`
	Symbol    string       `json:"s"`
	Kline     KlinePayload `json:"k"`
}

// KlinePayload is the candle body inside a kline event.
type KlinePayload struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Symbol    string  `json:"s"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o,string"`
	Close     float64 `json:"c,string"`
	High      float64 `json:"h,string"`
	Low       float64 `json:"l,string"`
	Volume    float64 `json:"v,string"`
	IsClosed  bool    `json:"x"`
}

// Handlers are the per-feed callbacks invoked inline from the read loop.
type Handlers struct {
	OnDepth      func(DepthUpdate)
	OnBookTicker func(BookTickerEvent)
	OnAggTrade   func(AggTradeEvent)
	OnKline      func(KlineEvent)
}

// Stream is a single multiplexed market-data connection carrying every feed
// for the active symbol set. Reconnection is automatic with bounded backoff;
// changing the symbol set forces a reconnect.
type Stream struct {
	baseURL  string
	handlers Handlers
	logger   *logging.Logger

	mu          sync.Mutex
	symbols     []string
	conn        *websocket.Conn
	running     bool
	onReconnect func()
}

// NewStream creates a market-data stream for the given symbols.
func NewStream(baseURL string, symbols []string, handlers Handlers) *Stream {
	return &Stream{
		baseURL:  baseURL,
		symbols:  symbols,
		handlers: handlers,
		logger:   logging.WithComponent("stream"),
	}
}

// SetReconnectHook registers a callback invoked before each reconnect
// attempt. Must be called before Run.
func (s *Stream) SetReconnectHook(fn func()) {
	s.mu.Lock()
	s.onReconnect = fn
	s.mu.Unlock()
}

// SetSymbols replaces the subscription set and forces a reconnect.
func (s *Stream) SetSymbols(symbols []string) {
	s.mu.Lock()
	s.symbols = symbols
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Stream) streamURL() string {
	s.mu.Lock()
	symbols := s.symbols
	s.mu.Unlock()

	streams := make([]string, 0, len(symbols)*5)
	for _, sym := range symbols {
		lower := strings.ToLower(sym)
		streams = append(streams,
			lower+"@depth20@100ms",
			lower+"@bookTicker",
			lower+"@aggTrade",
			lower+"@kline_1m",
			lower+"@kline_15m",
		)
		if len(streams) >= maxStreamsPerURL*5 {
			break
		}
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Run connects and reads until ctx is canceled, reconnecting on any error.
func (s *Stream) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("Stream disconnected, reconnecting",
				"backoff", backoff.String())

			s.mu.Lock()
			hook := s.onReconnect
			s.mu.Unlock()
			if hook != nil {
				hook()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = initialBackoff
		}
	}
}

// Close terminates the current connection.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	url := s.streamURL()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	symbolCount := len(s.symbols)
	s.mu.Unlock()

	s.logger.Info("Market-data stream connected", "symbols", symbolCount)

	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		s.dispatch(message)
	}
}

func (s *Stream) dispatch(message []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.logger.WithError(err).Debug("Dropping unparseable frame")
		return
	}
	if envelope.Data == nil {
		return
	}

	switch {
	case strings.Contains(envelope.Stream, "@depth"):
		if s.handlers.OnDepth == nil {
			return
		}
		var event DepthUpdate
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.logger.WithError(err).Debug("Dropping malformed depth event", "stream", envelope.Stream)
			return
		}
		s.handlers.OnDepth(event)

	case strings.Contains(envelope.Stream, "@bookTicker"):
		if s.handlers.OnBookTicker == nil {
			return
		}
		var event BookTickerEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.logger.WithError(err).Debug("Dropping malformed book ticker", "stream", envelope.Stream)
			return
		}
		s.handlers.OnBookTicker(event)

	case strings.Contains(envelope.Stream, "@aggTrade"):
		if s.handlers.OnAggTrade == nil {
			return
		}
		var event AggTradeEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.logger.WithError(err).Debug("Dropping malformed trade", "stream", envelope.Stream)
			return
		}
		s.handlers.OnAggTrade(event)

	case strings.Contains(envelope.Stream, "@kline"):
		if s.handlers.OnKline == nil {
			return
		}
		var event KlineEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.logger.WithError(err).Debug("Dropping malformed kline", "stream", envelope.Stream)
			return
		}
		s.handlers.OnKline(event)
	}
}
