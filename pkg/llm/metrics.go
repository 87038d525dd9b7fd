package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intellivis_llm_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"provider", "outcome"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intellivis_llm_call_duration_seconds",
			Help:    "Duration of LLM completion calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	llmRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intellivis_llm_retries_total",
			Help: "Total number of retried LLM completion calls",
		},
	)
)

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
