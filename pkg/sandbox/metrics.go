package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellivis_sandbox_executions_total",
			Help: "Total number of sandboxed script executions by outcome",
		},
		[]string{"outcome"},
	)

	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intellivis_sandbox_execution_duration_seconds",
			Help:    "Wall time of sandboxed script executions",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)
