package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptforge_generation_attempts_total",
		Help: "Generation requests by final gate outcome.",
	}, []string{"outcome"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scriptforge_generation_duration_seconds",
		Help:    "Wall time of one generation request end to end.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	generationLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scriptforge_generation_locked_total",
		Help: "Generation requests rejected because the channel was locked.",
	})
)
