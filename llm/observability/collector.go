package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports pipeline counters to Prometheus. The registerer is
// injected so tests and embedders can scope registration instead of
// mutating the process-global default registry.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dedupCoalesced  prometheus.Counter
	breakerRejects  prometheus.Counter
	tokensUsed      *prometheus.CounterVec
}

// NewCollector registers the pipeline metrics on reg. A nil reg falls
// back to the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of generation requests",
			},
			[]string{"model", "type", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Generation request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "type"},
		),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cache_hits_total",
			Help:      "Responses served from the response cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cache_misses_total",
			Help:      "Cache lookups that went to the transport",
		}),
		dedupCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_dedup_coalesced_total",
			Help:      "Requests coalesced onto an in-flight execution",
		}),
		breakerRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_circuit_rejects_total",
			Help:      "Requests refused by an open circuit breaker",
		}),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_used_total",
				Help:      "Tokens consumed, by model and direction",
			},
			[]string{"model", "direction"},
		),
	}
}

// ObserveRequest records one settled request.
func (c *Collector) ObserveRequest(model, requestType string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.requestsTotal.WithLabelValues(model, requestType, status).Inc()
	c.requestDuration.WithLabelValues(model, requestType).Observe(duration.Seconds())
}

// ObserveCacheHit counts a response served from cache.
func (c *Collector) ObserveCacheHit() { c.cacheHits.Inc() }

// ObserveCacheMiss counts a lookup that fell through to the transport.
func (c *Collector) ObserveCacheMiss() { c.cacheMisses.Inc() }

// ObserveDedup counts a caller coalesced onto a shared execution.
func (c *Collector) ObserveDedup() { c.dedupCoalesced.Inc() }

// ObserveBreakerReject counts a request refused by an open breaker.
func (c *Collector) ObserveBreakerReject() { c.breakerRejects.Inc() }

// ObserveTokens counts token usage for a model.
func (c *Collector) ObserveTokens(model string, prompt, completion int) {
	if prompt > 0 {
		c.tokensUsed.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		c.tokensUsed.WithLabelValues(model, "completion").Add(float64(completion))
	}
}
