package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAllowed  = "allowed"
	resultDenied   = "denied"
	resultFailOpen = "fail_open"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by policy namespace, key scope and result",
		},
		[]string{"namespace", "scope", "result"},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Counter store failures that caused a fail-open decision",
		},
		[]string{"namespace"},
	)

	checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Time spent in a single window check, including store round trips",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"scope"},
	)
)

func scopeLabel(scope string) string {
	if scope == "" {
		return "direct"
	}
	return scope
}
