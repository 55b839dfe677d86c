// Package metrics implements the Metrics Collector from spec §4 component
// 15 on a dedicated Prometheus registry, mirroring the teacher's
// SynapseStrike/metrics/metrics.go promauto.With(Registry) idiom relabeled
// for the sniping domain.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mexcsniper/breaker"
)

// Registry is the process-wide Prometheus registry, a package-level
// variable every collector below registers with; the composition root
// serves it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	tradesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_trades_total",
		Help: "Total trade attempts by status.",
	}, []string{"status", "side"})

	tradeExecutionMs = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sniper_trade_execution_ms",
		Help:    "Trade execution latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"side"})

	apiCallDurationMs = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sniper_exchange_api_duration_ms",
		Help:    "Exchange API call latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{"endpoint"})

	apiCallsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_exchange_api_calls_total",
		Help: "Exchange API calls by endpoint and status code.",
	}, []string{"endpoint", "status_code"})

	cacheHitsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_cache_hits_total",
		Help: "Cache hit/miss counts.",
	}, []string{"cache", "result"})

	breakerState = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "sniper_circuit_breaker_state",
		Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
	}, []string{"group"})

	queueDepth = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "sniper_rate_limiter_queue_depth",
		Help: "Rate limiter queue depth per endpoint group.",
	}, []string{"group"})

	portfolioValue = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "sniper_portfolio_value",
		Help: "Current aggregate portfolio value in quote units.",
	})

	openPositions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "sniper_open_positions",
		Help: "Current count of open positions.",
	})

	signalsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_listing_signals_total",
		Help: "Listing signals observed by source and outcome.",
	}, []string{"source", "outcome"})

	botRunning = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "sniper_bot_running",
		Help: "1 if the supervisor is RUNNING, else 0.",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// RecordTrade increments the trade counter and observes execution latency.
func RecordTrade(status, side string, executionMs float64) {
	tradesTotal.WithLabelValues(status, side).Inc()
	tradeExecutionMs.WithLabelValues(side).Observe(executionMs)
}

// RecordAPICall implements exchange.MetricsSink.
func RecordAPICall(endpoint string, durationMs float64, statusCode int, err error) {
	apiCallDurationMs.WithLabelValues(endpoint).Observe(durationMs)
	code := "error"
	if err == nil {
		code = "200"
	} else if statusCode != 0 {
		code = strconv.Itoa(statusCode)
	}
	apiCallsTotal.WithLabelValues(endpoint, code).Inc()
}

// SetBreakerState implements exchange.MetricsSink.
func SetBreakerState(group string, state breaker.State) {
	var v float64
	switch state {
	case breaker.Closed:
		v = 0
	case breaker.HalfOpen:
		v = 1
	case breaker.Open:
		v = 2
	}
	breakerState.WithLabelValues(group).Set(v)
}

// SetQueueDepth implements exchange.MetricsSink.
func SetQueueDepth(group string, depth int) {
	queueDepth.WithLabelValues(group).Set(float64(depth))
}

// SetPortfolioValue updates the aggregate portfolio value gauge.
func SetPortfolioValue(v float64) { portfolioValue.Set(v) }

// SetOpenPositionsCount updates the open-positions gauge.
func SetOpenPositionsCount(n int) { openPositions.Set(float64(n)) }

// RecordCacheLookup increments a cache hit/miss counter.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheHitsTotal.WithLabelValues(cache, result).Inc()
}

// RecordSignal increments the listing-signal counter by source/outcome.
func RecordSignal(source, outcome string) {
	signalsTotal.WithLabelValues(source, outcome).Inc()
}

// SetBotRunning sets the supervisor running gauge.
func SetBotRunning(running bool) {
	if running {
		botRunning.Set(1)
	} else {
		botRunning.Set(0)
	}
}

// Sink adapts the package-level functions to exchange.MetricsSink so the
// composition root can pass a single value without each caller needing to
// import the package-level functions directly.
type Sink struct{}

func (Sink) RecordAPICall(endpoint string, durationMs float64, statusCode int, err error) {
	RecordAPICall(endpoint, durationMs, statusCode, err)
}

func (Sink) SetBreakerState(group string, state breaker.State) { SetBreakerState(group, state) }

func (Sink) SetQueueDepth(group string, depth int) { SetQueueDepth(group, depth) }
