package eu

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dbashand/stripe-sync-engine/internal/metrics"
)

var (
	upsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_upsert_duration_seconds",
		Help:    "Length of time spent writing one group of entities",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ObjectKindLabels)
	upsertRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_upsert_rows_total",
		Help: "Number of entity rows written, by kind and outcome",
	}, []string{"object_kind", "outcome"})
	dlqRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_dlq_rows_total",
		Help: "Number of entity rows parked in the dead letter queue",
	}, metrics.ObjectKindLabels)
)
