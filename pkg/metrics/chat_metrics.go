// Package metrics exposes Prometheus collectors for the chat pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailchat",
		Name:      "intents_classified_total",
		Help:      "Requests classified, by intent. degraded=true when the classifier fell back.",
	}, []string{"intent", "degraded"})

	extractionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailchat",
		Name:      "criteria_extraction_total",
		Help:      "Criteria extractions by merge outcome (completion, blended, deterministic).",
	}, []string{"outcome"})

	extractionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailchat",
		Name:      "criteria_cache_hits_total",
		Help:      "Criteria served from the extraction cache.",
	})

	disambiguationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailchat",
		Name:      "disambiguation_total",
		Help:      "Disambiguation runs by winning tier (1-7) or none.",
	}, []string{"tier", "generic"})

	searchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailchat",
		Name:      "search_backend_errors_total",
		Help:      "Search backend failures by operation.",
	}, []string{"backend", "operation"})

	resolveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailchat",
		Name:      "resolve_duration_seconds",
		Help:      "Time to resolve a request into criteria and emails.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"path"})

	completionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailchat",
		Name:      "completion_duration_seconds",
		Help:      "Completion collaborator call latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"purpose", "status"})
)

func IntentClassified(intent string, degraded bool) {
	d := "false"
	if degraded {
		d = "true"
	}
	intentsClassified.WithLabelValues(intent, d).Inc()
}

func ExtractionOutcome(outcome string) {
	extractionOutcomes.WithLabelValues(outcome).Inc()
}

func ExtractionCacheHit() {
	extractionCacheHits.Inc()
}

func DisambiguationOutcome(tier string, generic bool) {
	g := "false"
	if generic {
		g = "true"
	}
	disambiguationOutcomes.WithLabelValues(tier, g).Inc()
}

func SearchError(backend, operation string) {
	searchErrors.WithLabelValues(backend, operation).Inc()
}

// ObserveResolve records resolve latency for the disambiguation or query path.
func ObserveResolve(path string, d time.Duration) {
	resolveLatency.WithLabelValues(path).Observe(d.Seconds())
}

func ObserveCompletion(purpose, status string, d time.Duration) {
	completionLatency.WithLabelValues(purpose, status).Observe(d.Seconds())
}
