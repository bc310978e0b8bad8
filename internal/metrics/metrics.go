// Package metrics exposes Prometheus instrumentation for the compliance
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DisclosuresProcessed counts disclosures run through the pipeline.
	DisclosuresProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "disclosures_processed_total",
		Help:      "Disclosures processed by the compliance pipeline.",
	}, []string{"org_id"})

	// RulesTriggered counts threshold rule firings by recommended action.
	RulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "rules_triggered_total",
		Help:      "Threshold rules fired, labeled by action.",
	}, []string{"org_id", "action"})

	// AlertsCreated counts conflict alerts persisted by detector type.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_created_total",
		Help:      "Conflict alerts created, labeled by detector type.",
	}, []string{"org_id", "type"})

	// AlertsSuppressed counts candidates removed by the exclusion filter.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_suppressed_total",
		Help:      "Conflict candidates suppressed by exclusions.",
	}, []string{"org_id"})

	// DetectorFailures counts detector errors and timeouts.
	DetectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "detector_failures_total",
		Help:      "Detector runs that errored or timed out.",
	}, []string{"detector"})

	// EscalationsDelivered counts case-creation requests delivered.
	EscalationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "escalations_delivered_total",
		Help:      "Escalations delivered to the case subsystem.",
	}, []string{"org_id"})

	// PipelineDuration observes end-to-end processing latency.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "pipeline_duration_seconds",
		Help:      "End-to-end disclosure processing latency.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
