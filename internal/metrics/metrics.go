// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexbot_scans_total",
		Help: "Completed scheduler ticks per loop",
	}, []string{"loop"})

	Opportunities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexbot_opportunities_total",
		Help: "Candidates emitted by detection",
	}, []string{"strategy"})

	Trades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexbot_trades_total",
		Help: "Trades that reached a terminal state",
	}, []string{"strategy", "outcome"})

	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dexbot_inflight_trades",
		Help: "Dispatched trades not yet terminal",
	})

	PendingExits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dexbot_pending_exits",
		Help: "Snipe positions waiting for their scheduled exit",
	})

	Dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexbot_dropped_candidates_total",
		Help: "Candidates dropped because the concurrency cap was reached",
	}, []string{"loop"})

	DailyLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dexbot_daily_loss",
		Help: "Loss accumulated in the current UTC day",
	})

	QuoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dexbot_quote_duration_seconds",
		Help:    "Time to obtain a venue quote",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	QuoteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexbot_quote_failures_total",
		Help: "Venue quotes that came back unavailable",
	}, []string{"venue"})
)

func init() {
	prometheus.MustRegister(
		Scans,
		Opportunities,
		Trades,
		InFlight,
		PendingExits,
		Dropped,
		DailyLoss,
		QuoteDuration,
		QuoteFailures,
	)
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Outcome maps a trade result onto the outcome label.
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
