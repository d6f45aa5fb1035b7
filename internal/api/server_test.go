package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/database"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIStore struct {
	signals     []*database.Signal
	trades      []*database.Trade
	universe    []*database.Symbol
	statusArg   string
	limitArg    int
	recentCalls int
}

func (f *fakeAPIStore) GetSignalsByStatus(ctx context.Context, status string, limit int) ([]*database.Signal, error) {
	f.statusArg, f.limitArg = status, limit
	return f.signals, nil
}

func (f *fakeAPIStore) GetRecentSignals(ctx context.Context, limit int) ([]*database.Signal, error) {
	f.recentCalls++
	f.limitArg = limit
	return f.signals, nil
}

func (f *fakeAPIStore) GetAllTrades(ctx context.Context) ([]*database.Trade, error) {
	return f.trades, nil
}

func (f *fakeAPIStore) GetUniverse(ctx context.Context) ([]*database.Symbol, error) {
	return f.universe, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestServer(t *testing.T, store *fakeAPIStore, pinger *fakePinger) *Server {
	t.Helper()
	cacheService := cache.NewService(config.RedisConfig{Enabled: false})
	return NewServer(config.ServerConfig{AllowedOrigins: "*"}, store, pinger, cacheService, prometheus.NewRegistry())
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeAPIStore{}, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "up", body["database"])
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	s := newTestServer(t, &fakeAPIStore{}, &fakePinger{err: errors.New("connection refused")})

	w := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSignalsByStatus(t *testing.T) {
	store := &fakeAPIStore{signals: []*database.Signal{{ID: "sig-1", Symbol: "BTCUSDT"}}}
	s := newTestServer(t, store, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/api/v1/signals?status=open&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.SignalStatusOpen, store.statusArg)
	assert.Equal(t, 10, store.limitArg)

	var body struct {
		Count   int                `json:"count"`
		Signals []*database.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestSignalsDefaultsAndCaps(t *testing.T) {
	store := &fakeAPIStore{}
	s := newTestServer(t, store, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/api/v1/signals")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.recentCalls)
	assert.Equal(t, defaultSignalLimit, store.limitArg)

	doRequest(s, http.MethodGet, "/api/v1/signals?limit=100000")
	assert.Equal(t, maxSignalLimit, store.limitArg)
}

func TestSignalsRejectsBadParams(t *testing.T) {
	s := newTestServer(t, &fakeAPIStore{}, &fakePinger{})

	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/v1/signals?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/v1/signals?limit=-5").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/v1/signals?status=PENDING").Code)
}

func TestStatsSummarizesTrades(t *testing.T) {
	store := &fakeAPIStore{trades: []*database.Trade{
		{PnLPercent: 1.0, ExitReason: database.ExitReasonTP2, PartialCloseStatus: database.PartialStatusFullClosed},
		{PnLPercent: -0.5, ExitReason: database.ExitReasonStopLoss, PartialCloseStatus: database.PartialStatusNone},
	}}
	s := newTestServer(t, store, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var metric database.PerformanceMetric
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metric))
	assert.Equal(t, 2, metric.TotalSignals)
	assert.Equal(t, 1, metric.Wins)
	assert.InDelta(t, 50.0, metric.WinRate, 1e-9)
}

func TestUniverse(t *testing.T) {
	store := &fakeAPIStore{universe: []*database.Symbol{{Symbol: "BTCUSDT", Score: 95}}}
	s := newTestServer(t, store, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/api/v1/universe")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int                `json:"count"`
		Symbols []*database.Symbol `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "BTCUSDT", body.Symbols[0].Symbol)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeAPIStore{}, &fakePinger{})

	w := doRequest(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}
