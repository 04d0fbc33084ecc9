package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlhelper_turns_total",
			Help: "Total number of turns by final status and failure kind",
		},
		[]string{"status", "failure"},
	)

	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlhelper_remediations_total",
			Help: "Total number of corrective passes by failure kind and route",
		},
		[]string{"kind", "route"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlhelper_stage_duration_seconds",
			Help:    "Duration of each turn stage in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"state"},
	)

	FixAttemptsUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlhelper_fix_attempts_used",
			Help:    "Number of corrective passes used per turn",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)

	TurnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlhelper_turns_in_flight",
			Help: "Number of turns currently running",
		},
	)
)
