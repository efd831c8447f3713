// Package metrics provides Prometheus instrumentation for the browser service:
// session lifecycle gauges and counters, per-action outcome counters and
// latency histograms, and the one-shot capture path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks the number of live browser sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tabcast_sessions_active",
		Help: "Current number of live browser sessions",
	})

	// SessionsOpened counts browser sessions created.
	SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabcast_sessions_opened_total",
		Help: "Total number of browser sessions created",
	})

	// SessionsClosed counts destroyed sessions by reason: "expired", "crashed",
	// "replaced", "closed" or "shutdown".
	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcast_sessions_closed_total",
		Help: "Total number of browser sessions destroyed",
	}, []string{"reason"})

	// ActionsTotal counts dispatched actions by kind and outcome ("ok" or an error code).
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcast_actions_total",
		Help: "Total number of dispatched actions",
	}, []string{"kind", "outcome"})

	// ActionDuration records end-to-end action latency in seconds.
	ActionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabcast_action_duration_seconds",
		Help:    "Action latency from lease to captured frame, in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"kind"})

	// NavigationsDegraded counts navigations that failed or timed out but were still captured.
	NavigationsDegraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabcast_navigations_degraded_total",
		Help: "Navigations that failed or timed out and degraded to a best-effort capture",
	})

	// SettleFallbacks counts settles that failed and fell back to a fixed delay.
	SettleFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabcast_settle_fallbacks_total",
		Help: "Settle waits that failed and fell back to a fixed delay",
	})

	// OneShotCaptures counts stateless screenshot captures by outcome.
	OneShotCaptures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tabcast_oneshot_captures_total",
		Help: "Total number of stateless screenshot captures",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		SessionsOpened,
		SessionsClosed,
		ActionsTotal,
		ActionDuration,
		NavigationsDegraded,
		SettleFallbacks,
		OneShotCaptures,
	)
}

// ObserveAction records one dispatched action.
func ObserveAction(kind, outcome string, elapsed time.Duration) {
	ActionsTotal.WithLabelValues(kind, outcome).Inc()
	ActionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
