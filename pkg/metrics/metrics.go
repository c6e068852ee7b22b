package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics collects client-side counters for API calls, monitor polling and
// log streaming. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	polls        *prometheus.CounterVec
	stopRequests *prometheus.CounterVec
	streamBytes  prometheus.Counter
	streamMsgs   prometheus.Counter
	streamErrors prometheus.Counter
	etaSeconds   prometheus.Gauge
	progress     prometheus.Gauge
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfrun_api_requests_total",
				Help: "Backend API requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pfrun_api_request_duration_seconds",
				Help:    "Backend API request latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfrun_monitor_polls_total",
				Help: "Status polls by outcome (applied, failed, stale, skipped)",
			},
			[]string{"outcome"},
		),
		stopRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfrun_monitor_stop_requests_total",
				Help: "Stop requests by reported status",
			},
			[]string{"status"},
		),
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfrun_stream_bytes_total",
			Help: "Log bytes received over the stream",
		}),
		streamMsgs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfrun_stream_messages_total",
			Help: "Log messages received over the stream",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pfrun_stream_errors_total",
			Help: "Log streams that ended with an error",
		}),
		etaSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfrun_monitor_eta_seconds",
			Help: "Estimated total runtime from recent finished jobs",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pfrun_monitor_progress_ratio",
			Help: "Estimated completion of the monitored job",
		}),
	}

	m.registry.MustRegister(
		m.apiRequests,
		m.apiDuration,
		m.polls,
		m.stopRequests,
		m.streamBytes,
		m.streamMsgs,
		m.streamErrors,
		m.etaSeconds,
		m.progress,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAPI records one backend call
func (m *Metrics) ObserveAPI(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.apiRequests.WithLabelValues(operation, outcome).Inc()
	m.apiDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncPoll counts a poll outcome
func (m *Metrics) IncPoll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

// IncStop counts a stop request by its reported status
func (m *Metrics) IncStop(status string) {
	if m == nil {
		return
	}
	m.stopRequests.WithLabelValues(status).Inc()
}

// AddStreamMessage counts one inbound log message
func (m *Metrics) AddStreamMessage(size int) {
	if m == nil {
		return
	}
	m.streamMsgs.Inc()
	m.streamBytes.Add(float64(size))
}

// IncStreamError counts a stream that ended with an error
func (m *Metrics) IncStreamError() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

// SetETA records the current runtime estimate
func (m *Metrics) SetETA(seconds float64) {
	if m == nil {
		return
	}
	m.etaSeconds.Set(seconds)
}

// SetProgress records the current completion fraction
func (m *Metrics) SetProgress(v float64) {
	if m == nil {
		return
	}
	m.progress.Set(v)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family in the text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
