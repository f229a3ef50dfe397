// Package monitoring - metrics.go provides operational counters.
//
// DESIGN: Counters are kept twice:
//   - atomics:    cheap reads for the JSON /stats endpoint
//   - prometheus: a private registry served on /metrics
//
// The registry is per collector (not the global default) so tests and
// multiple gateways in one process never collide on registration.
package monitoring

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pitchgateway"

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time
	registry  *prometheus.Registry

	// Request counters
	requests    atomic.Int64
	successes   atomic.Int64
	rateLimited atomic.Int64
	forbidden   atomic.Int64

	// Chat proxy counters
	chatRequests   atomic.Int64
	streams        atomic.Int64
	streamChunks   atomic.Int64
	upstreamErrors atomic.Int64

	// Account and history counters
	registrations    atomic.Int64
	logins           atomic.Int64
	loginFailures    atomic.Int64
	memoryWrites     atomic.Int64
	summaryFallbacks atomic.Int64
	growthWrites     atomic.Int64

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	chunksForwarded prometheus.Counter
	authEvents      *prometheus.CounterVec
	summaries       *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &MetricsCollector{
		startedAt: time.Now(),
		registry:  reg,

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"route"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Requests rejected by the origin guard or rate limiter",
		}, []string{"reason"}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Upstream completion calls by mode and outcome",
		}, []string{"mode", "outcome"}),
		chunksForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_forwarded_total",
			Help:      "Event-stream chunks relayed to clients",
		}),
		authEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Registrations and logins by outcome",
		}, []string{"event", "outcome"}),
		summaries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_summaries_total",
			Help:      "Memory summaries by source",
		}, []string{"source"}),
	}
}

// RegisterGauge exposes a live value (e.g. active sessions) on /metrics.
func (mc *MetricsCollector) RegisterGauge(name, help string, fn func() float64) {
	mc.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// RecordRequest records a finished HTTP request.
func (mc *MetricsCollector) RecordRequest(route string, status int, d time.Duration) {
	mc.requests.Add(1)
	if status < 400 {
		mc.successes.Add(1)
	}
	mc.httpRequests.WithLabelValues(route, fmt.Sprint(status)).Inc()
	mc.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordRateLimited records a 429.
func (mc *MetricsCollector) RecordRateLimited() {
	mc.rateLimited.Add(1)
	mc.rejections.WithLabelValues("rate_limit").Inc()
}

// RecordForbidden records a disallowed origin.
func (mc *MetricsCollector) RecordForbidden() {
	mc.forbidden.Add(1)
	mc.rejections.WithLabelValues("origin").Inc()
}

// RecordChat records a chat proxy call. ok is false when upstream failed.
func (mc *MetricsCollector) RecordChat(stream, ok bool) {
	mc.chatRequests.Add(1)
	mode := "buffered"
	if stream {
		mc.streams.Add(1)
		mode = "stream"
	}
	outcome := "ok"
	if !ok {
		mc.upstreamErrors.Add(1)
		outcome = "error"
	}
	mc.upstreamCalls.WithLabelValues(mode, outcome).Inc()
}

// RecordChunks records relayed stream chunks.
func (mc *MetricsCollector) RecordChunks(n int) {
	mc.streamChunks.Add(int64(n))
	mc.chunksForwarded.Add(float64(n))
}

// RecordRegistration records a registration attempt.
func (mc *MetricsCollector) RecordRegistration(ok bool) {
	if ok {
		mc.registrations.Add(1)
	}
	mc.authEvents.WithLabelValues("register", outcome(ok)).Inc()
}

// RecordLogin records a login attempt.
func (mc *MetricsCollector) RecordLogin(ok bool) {
	if ok {
		mc.logins.Add(1)
	} else {
		mc.loginFailures.Add(1)
	}
	mc.authEvents.WithLabelValues("login", outcome(ok)).Inc()
}

// RecordMemoryWrite records an appended memory entry and how it was summarized.
func (mc *MetricsCollector) RecordMemoryWrite(source string, fallback bool) {
	mc.memoryWrites.Add(1)
	if fallback {
		mc.summaryFallbacks.Add(1)
	}
	mc.summaries.WithLabelValues(source).Inc()
}

// RecordGrowthWrite records a stored growth record or drill score.
func (mc *MetricsCollector) RecordGrowthWrite() { mc.growthWrites.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:       requests,
			Successful:  successes,
			Failed:      requests - successes,
			RateLimited: mc.rateLimited.Load(),
			Forbidden:   mc.forbidden.Load(),
		},
		Chat: ChatStats{
			Requests:       mc.chatRequests.Load(),
			Streams:        mc.streams.Load(),
			StreamChunks:   mc.streamChunks.Load(),
			UpstreamErrors: mc.upstreamErrors.Load(),
		},
		Accounts: AccountStats{
			Registrations: mc.registrations.Load(),
			Logins:        mc.logins.Load(),
			LoginFailures: mc.loginFailures.Load(),
		},
		History: HistoryStats{
			MemoryWrites:     mc.memoryWrites.Load(),
			SummaryFallbacks: mc.summaryFallbacks.Load(),
			GrowthWrites:     mc.growthWrites.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Chat          ChatStats    `json:"chat"`
	Accounts      AccountStats `json:"accounts"`
	History       HistoryStats `json:"history"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total       int64 `json:"total"`
	Successful  int64 `json:"successful"`
	Failed      int64 `json:"failed"`
	RateLimited int64 `json:"rate_limited"`
	Forbidden   int64 `json:"forbidden"`
}

// ChatStats holds proxy metrics.
type ChatStats struct {
	Requests       int64 `json:"requests"`
	Streams        int64 `json:"streams"`
	StreamChunks   int64 `json:"stream_chunks"`
	UpstreamErrors int64 `json:"upstream_errors"`
}

// AccountStats holds auth metrics.
type AccountStats struct {
	Registrations int64 `json:"registrations"`
	Logins        int64 `json:"logins"`
	LoginFailures int64 `json:"login_failures"`
}

// HistoryStats holds persistence metrics.
type HistoryStats struct {
	MemoryWrites     int64 `json:"memory_writes"`
	SummaryFallbacks int64 `json:"summary_fallbacks"`
	GrowthWrites     int64 `json:"growth_writes"`
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
