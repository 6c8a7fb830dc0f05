// internal/utils/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moonforge"

// Recorder is what the settlement engine and API report to.
type Recorder interface {
	RecordTrade(tradeType, outcome string, duration time.Duration)
	RecordRetry(mode string)
	RecordGraduation()
	UpdateReserves(tokenID string, realSolLamports, realTokenUnits uint64)
	UpdateActors(active int)
	UpdateWebsocketConnections(active int)
}

// Collector управляет набором метрик на собственном реестре
type Collector struct {
	registry *prometheus.Registry

	trades        *prometheus.CounterVec
	tradeDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	graduations   prometheus.Counter
	reserves      *prometheus.GaugeVec
	actors        prometheus.Gauge
	websockets    prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector создает новый экземпляр коллектора метрик
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Total number of settlement attempts by outcome",
			},
			[]string{"type", "outcome"},
		),
		tradeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settlement_duration_seconds",
				Help:      "Settlement latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"type"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_retries_total",
				Help:      "Commit retries caused by version conflicts",
			},
			[]string{"mode"},
		),
		graduations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graduations_total",
			Help:      "Curves that crossed the graduation threshold",
		}),
		reserves: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "real_reserves",
				Help:      "Real reserves of a curve after its last commit",
			},
			[]string{"token_id", "asset"},
		),
		actors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settlement_actors",
			Help:      "Number of live per-token settlement actors",
		}),
		websockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of active websocket stream connections",
		}),
	}

	c.registry.MustRegister(
		c.trades,
		c.tradeDuration,
		c.retries,
		c.graduations,
		c.reserves,
		c.actors,
		c.websockets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	c.trades.Reset()
	c.tradeDuration.Reset()
	c.retries.Reset()
	c.reserves.Reset()
	c.actors.Set(0)
	c.websockets.Set(0)
}

// RecordTrade записывает исход и длительность расчета сделки
func (c *Collector) RecordTrade(tradeType, outcome string, duration time.Duration) {
	c.trades.WithLabelValues(tradeType, outcome).Inc()
	c.tradeDuration.WithLabelValues(tradeType).Observe(duration.Seconds())
}

// RecordRetry записывает повтор после конфликта версий
func (c *Collector) RecordRetry(mode string) {
	c.retries.WithLabelValues(mode).Inc()
}

// RecordGraduation increments the graduation counter.
func (c *Collector) RecordGraduation() {
	c.graduations.Inc()
}

// UpdateReserves обновляет метрики резервов кривой
func (c *Collector) UpdateReserves(tokenID string, realSolLamports, realTokenUnits uint64) {
	c.reserves.WithLabelValues(tokenID, "sol").Set(float64(realSolLamports))
	c.reserves.WithLabelValues(tokenID, "token").Set(float64(realTokenUnits))
}

// UpdateActors sets the live actor count.
func (c *Collector) UpdateActors(active int) {
	c.actors.Set(float64(active))
}

// UpdateWebsocketConnections обновляет метрики веб-сокет соединений
func (c *Collector) UpdateWebsocketConnections(active int) {
	c.websockets.Set(float64(active))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(string, string, time.Duration) {}
func (Nop) RecordRetry(string)                       {}
func (Nop) RecordGraduation()                        {}
func (Nop) UpdateReserves(string, uint64, uint64)    {}
func (Nop) UpdateActors(int)                         {}
func (Nop) UpdateWebsocketConnections(int)           {}
