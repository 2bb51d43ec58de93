// Package metrics exposes Prometheus counters for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Chat pipeline metrics
	ChatRequestsTotal  *prometheus.CounterVec
	ChatFallbacksTotal *prometheus.CounterVec
	ChatRejectedTotal  prometheus.Counter
	LLMCallDuration    *prometheus.HistogramVec
	ResponseCacheTotal *prometheus.CounterVec

	// Content metrics
	ContentRefreshesTotal *prometheus.CounterVec
	ContentSourceFailures *prometheus.CounterVec
	ContentDocuments      prometheus.Gauge

	// Lead metrics
	LeadsCapturedTotal *prometheus.CounterVec

	ServerStartTime time.Time
}

// New creates and registers all collectors on a fresh registry, so tests can build
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, ServerStartTime: time.Now()}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palms_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.ChatRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_chat_requests_total",
			Help: "Chat messages processed, by classified intent",
		},
		[]string{"intent"},
	)

	m.ChatFallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_chat_fallbacks_total",
			Help: "Chat responses replaced by a fallback, by error kind",
		},
		[]string{"kind"},
	)

	m.ChatRejectedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "palms_chat_validation_rejections_total",
			Help: "Model answers rejected by the hallucination check",
		},
	)

	m.LLMCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palms_llm_call_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)

	m.ResponseCacheTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_response_cache_lookups_total",
			Help: "Response cache lookups, by result",
		},
		[]string{"result"},
	)

	m.ContentRefreshesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_content_refreshes_total",
			Help: "Content store refresh attempts, by result",
		},
		[]string{"result"},
	)

	m.ContentSourceFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_content_source_failures_total",
			Help: "Content source fetch failures",
		},
		[]string{"source"},
	)

	m.ContentDocuments = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "palms_content_documents",
			Help: "Documents in the current content snapshot",
		},
	)

	m.LeadsCapturedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palms_leads_captured_total",
			Help: "Leads saved, by form source",
		},
		[]string{"source"},
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

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordChat(intent string) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(intent).Inc()
}

func (m *Metrics) RecordFallback(kind string) {
	if m == nil {
		return
	}
	m.ChatFallbacksTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRejection() {
	if m == nil {
		return
	}
	m.ChatRejectedTotal.Inc()
}

func (m *Metrics) RecordLLMCall(stage string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMCallDuration.WithLabelValues(stage, statusLabel(err)).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ResponseCacheTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records a refresh attempt. documents is only applied on success.
func (m *Metrics) RecordRefresh(err error, documents int) {
	if m == nil {
		return
	}
	m.ContentRefreshesTotal.WithLabelValues(statusLabel(err)).Inc()
	if err == nil {
		m.ContentDocuments.Set(float64(documents))
	}
}

func (m *Metrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.ContentSourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordLead(source string) {
	if m == nil {
		return
	}
	m.LeadsCapturedTotal.WithLabelValues(source).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
