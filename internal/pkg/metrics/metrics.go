package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_submissions_total",
		Help: "The total number of trade/cancel/collateral submissions sent to the ledger",
	}, []string{"op"})

	ValidationRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_validation_rejects_total",
		Help: "Total pre-submission pipeline rejections",
	}, []string{"reason"})

	ResolverOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketgate_resolver_outcomes_total",
		Help: "Transaction outcomes by result",
	}, []string{"outcome"})

	ExpirationsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketgate_expirations_fired_total",
		Help: "Orders reported stale by the expiration scheduler",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketgate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
