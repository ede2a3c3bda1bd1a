package sw

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dbashand/stripe-sync-engine/internal/metrics"
)

var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_task_duration_seconds",
		Help:    "Length of time spent processing one claimed page",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ObjectKindLabels)
	taskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_task_errors_total",
		Help: "Number of task attempts that ended in an error",
	}, metrics.ObjectKindLabels)
)
