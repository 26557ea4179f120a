// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_control_ticks_total",
		Help: "Control loop ticks by reservoir and result.",
	}, []string{"reservoir", "result"})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reservoir_control_tick_duration_seconds",
		Help:    "Duration of one control loop tick.",
		Buckets: prometheus.DefBuckets,
	}, []string{"reservoir"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_decisions_total",
		Help: "Decisions by reservoir, action and urgency.",
	}, []string{"reservoir", "action", "urgency"})

	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_actuator_dispatches_total",
		Help: "Actuator commands by actuator and result (ok, failed, cooldown).",
	}, []string{"actuator", "result"})

	WaterLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_water_level_percent",
		Help: "Most recent water level seen by the control loop.",
	}, []string{"reservoir"})

	TelemetryReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_telemetry_reads_total",
		Help: "Telemetry lookups by where they were served from.",
	}, []string{"source"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_gateway_errors_total",
		Help: "Gateway failures by error kind.",
	}, []string{"kind"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_events_total",
		Help: "Logged events by severity and category.",
	}, []string{"severity", "category"})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_alerts_total",
		Help: "Alert rule firings.",
	}, []string{"rule"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_event_sink_failures_total",
		Help: "Event sink write failures.",
	}, []string{"sink"})

	EvaluationEffectiveness = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reservoir_decision_effectiveness",
		Help:    "Effectiveness score of evaluated decisions.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"reservoir"})
)
