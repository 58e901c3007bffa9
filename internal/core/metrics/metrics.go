// Package metrics defines the Prometheus collectors exported by crawlgate.
//
// All methods are nil-safe so components can be constructed without metrics
// in tests and CLI tooling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crawlgate"

// Evaluation outcomes.
const (
	OutcomeMatched  = "matched"
	OutcomeNoMatch  = "no_match"
	OutcomeDegraded = "degraded"
)

// Cache results.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
	CacheError  = "error"
)

// Metrics holds every collector registered by NewMetrics.
type Metrics struct {
	evaluations     *prometheus.CounterVec
	duration        prometheus.Histogram
	cacheResults    *prometheus.CounterVec
	ruleErrors      *prometheus.CounterVec
	counterFailures prometheus.Counter
	storeFailures   prometheus.Counter
	eventsDropped   prometheus.Counter
	eventsWritten   prometheus.Counter
	registry        prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Rule evaluations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "In-process evaluation pipeline duration.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_results_total",
			Help:      "Evaluation cache lookups by result.",
		}, []string{"result"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_compile_errors_total",
			Help:      "Rules skipped because they failed to compile.",
		}, []string{"publisher"}),
		counterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_failures_total",
			Help:      "Frequency counter lookups that failed or timed out.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_store_failures_total",
			Help:      "Rule store fetches that failed after retries.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Evaluation events dropped because the sink buffer was full.",
		}),
		eventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Evaluation events persisted by the sink.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.evaluations,
		m.duration,
		m.cacheResults,
		m.ruleErrors,
		m.counterFailures,
		m.storeFailures,
		m.eventsDropped,
		m.eventsWritten,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RuleError(publisher string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(publisher).Inc()
}

func (m *Metrics) CounterFailure() {
	if m == nil {
		return
	}
	m.counterFailures.Inc()
}

func (m *Metrics) StoreFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) EventWritten() {
	if m == nil {
		return
	}
	m.eventsWritten.Inc()
}
