package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellivis_queries_total",
			Help: "Total number of processed queries by type and outcome",
		},
		[]string{"query_type", "outcome"},
	)

	generationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellivis_generation_attempts_total",
			Help: "Total number of generate-execute attempts by result",
		},
		[]string{"result"},
	)

	attemptsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intellivis_attempts_per_run",
			Help:    "Number of attempts used by each generate-execute loop",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)
