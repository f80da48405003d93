package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_gate_decisions_total",
			Help: "Paywall decisions by outcome",
		},
		[]string{"decision"},
	)

	GateInvalidState = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aire_gate_invalid_state_total",
			Help: "Usage records rejected because the identity was not allowed",
		},
	)

	Unlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_unlocks_total",
			Help: "Identity unlocks by source",
		},
		[]string{"source"},
	)

	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_analyses_total",
			Help: "Completed analyses by grade",
		},
		[]string{"grade"},
	)

	PrefillCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aire_prefill_cache_total",
			Help: "Prefill cache lookups by result",
		},
		[]string{"result"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aire_property_provider_duration_seconds",
			Help:    "Latency of property data provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
