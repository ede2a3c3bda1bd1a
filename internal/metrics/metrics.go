// Package metrics holds shared Prometheus bucket and label
// definitions. Each component declares its own collectors using these
// shared buckets so histograms stay comparable across the pipeline.
package metrics

// LatencyBuckets is used for all duration histograms in the sync engine.
var LatencyBuckets = []float64{
	.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// ObjectKindLabels is attached to any histogram/counter keyed by provider
// object kind (e.g. "customer", "invoice").
var ObjectKindLabels = []string{"object_kind"}

// AccountLabels is attached to collectors keyed by tenant account id.
var AccountLabels = []string{"account_id"}
