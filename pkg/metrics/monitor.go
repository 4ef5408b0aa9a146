package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var ActiveSessionsMetrics = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tradepilot_monitor_active_sessions",
		Help: "monitoring sessions currently active",
	})

var TriggerChecksMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradepilot_monitor_trigger_checks_total",
		Help: "trigger evaluations by outcome",
	}, []string{"outcome"})

var ScanPassDurationMetrics = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradepilot_monitor_scan_duration_seconds",
		Help:    "wall time of one full scan pass",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

func init() {
	prometheus.MustRegister(
		ActiveSessionsMetrics,
		TriggerChecksMetrics,
		ScanPassDurationMetrics,
	)
}
