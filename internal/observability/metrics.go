// Package observability holds the Prometheus metrics and zerolog setup shared
// by the engine, the CLI and the HTTP server.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// ResolutionsTotal counts resolved action ids by the tier that matched.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonic_agent_resolutions_total",
			Help: "Action resolutions by tier",
		},
		[]string{"tier"},
	)

	// RequestsTotal counts gateway requests by kind (action, strategy) and
	// outcome (ok, blocked or an error kind).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonic_agent_requests_total",
			Help: "Gateway requests",
		},
		[]string{"kind", "outcome"},
	)

	// RequestDuration records end-to-end gateway latency in seconds. Confirmed
	// transactions dominate, so buckets reach minutes.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sonic_agent_request_duration_seconds",
			Help:    "Gateway request duration",
			Buckets: []float64{0.05, 0.25, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"kind"},
	)

	// StrategyStepsTotal counts strategy steps by strategy and step status.
	StrategyStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonic_agent_strategy_steps_total",
			Help: "Strategy steps",
		},
		[]string{"strategy", "status"},
	)

	// StrategyRunsTotal counts finished strategy runs by terminal status.
	StrategyRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonic_agent_strategy_runs_total",
			Help: "Strategy runs",
		},
		[]string{"strategy", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ResolutionsTotal,
		RequestsTotal,
		RequestDuration,
		StrategyStepsTotal,
		StrategyRunsTotal,
	)
}
