package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tokens       *prometheus.CounterVec
	ragQueries   *prometheus.CounterVec
	chunksStored *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total model tokens consumed.",
		}, []string{"tenant", "direction", "model"}),
		ragQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_query_total",
			Help: "Total RAG queries processed.",
		}, []string{"tenant", "model"}),
		chunksStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "document_chunks_total",
			Help: "Total document chunks stored.",
		}, []string{"tenant"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
	}
	m.registry.MustRegister(
		m.tokens,
		m.ragQueries,
		m.chunksStored,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTokens(tenantID int64, model string, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	tenant := tenantLabel(tenantID)
	m.tokens.WithLabelValues(tenant, DirectionIn, model).Add(float64(tokensIn))
	m.tokens.WithLabelValues(tenant, DirectionOut, model).Add(float64(tokensOut))
}

func (m *Metrics) ObserveRAGQuery(tenantID int64, model string) {
	if m == nil {
		return
	}
	m.ragQueries.WithLabelValues(tenantLabel(tenantID), model).Inc()
}

func (m *Metrics) ObserveChunksStored(tenantID int64, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksStored.WithLabelValues(tenantLabel(tenantID)).Add(float64(n))
}

// ObserveRequest records one HTTP request. endpoint should be the route
// pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func tenantLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}
