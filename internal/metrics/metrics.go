// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalbot"

// Metrics holds all collectors registered by the engine.
type Metrics struct {
	StreamMessages   *prometheus.CounterVec
	StreamReconnects prometheus.Counter
	TrackerTicks     prometheus.Counter
	TickDuration     prometheus.Histogram
	SignalsEmitted   *prometheus.CounterVec
	SignalsClosed    *prometheus.CounterVec
	CacheHealthy     prometheus.Gauge
	ActiveSymbols    prometheus.Gauge
	OpenSignals      prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Websocket messages processed, by feed.",
		}, []string{"feed"}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Websocket reconnect attempts.",
		}),
		TrackerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_ticks_total",
			Help:      "Fast tracker scan iterations.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracker_tick_duration_seconds",
			Help:      "Fast tracker scan latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		SignalsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "Signals emitted, by priority.",
		}, []string{"priority"}),
		SignalsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_closed_total",
			Help:      "Signals fully closed, by exit reason.",
		}, []string{"reason"}),
		CacheHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_healthy",
			Help:      "Whether the Redis snapshot cache is reachable (1) or degraded to the in-process fallback (0).",
		}),
		ActiveSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_symbols",
			Help:      "Symbols in the current tradable universe.",
		}),
		OpenSignals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_signals",
			Help:      "Signals currently open.",
		}),
	}
}
