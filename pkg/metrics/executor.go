package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var StageRunsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_executor_stage_runs_total",
		Help: "number of executor stage runs",
	}, []string{"stage", "result"})

var StageOrdersPlacedMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_executor_orders_placed_total",
		Help: "orders placed per executor stage",
	}, []string{"stage"})

var StageFillsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_executor_fills_total",
		Help: "entry fills confirmed per executor stage",
	}, []string{"stage"})

var StageSkipsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_executor_skips_total",
		Help: "picks skipped per executor stage",
	}, []string{"stage"})

var StageErrorsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_executor_errors_total",
		Help: "errors encountered per executor stage",
	}, []string{"stage"})

var TrailingStopUpdatesMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_trailing_stop_updates_total",
		Help: "trailing stop replacements by method",
	}, []string{"method"})

var AlertsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_alerts_total",
		Help: "operator alerts emitted by code",
	}, []string{"code"})

// UpdateStageMetrics records the outcome of one executor stage run.
func UpdateStageMetrics(stage string, placed, filled, skipped, errors int) {
	result := "ok"
	if errors > 0 {
		result = "error"
	}
	StageRunsMetrics.With(prometheus.Labels{"stage": stage, "result": result}).Inc()

	labels := prometheus.Labels{"stage": stage}
	StageOrdersPlacedMetrics.With(labels).Add(float64(placed))
	StageFillsMetrics.With(labels).Add(float64(filled))
	StageSkipsMetrics.With(labels).Add(float64(skipped))
	StageErrorsMetrics.With(labels).Add(float64(errors))
}

func init() {
	prometheus.MustRegister(
		StageRunsMetrics,
		StageOrdersPlacedMetrics,
		StageFillsMetrics,
		StageSkipsMetrics,
		StageErrorsMetrics,
		TrailingStopUpdatesMetrics,
		AlertsMetrics,
	)
}
