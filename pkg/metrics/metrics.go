// Package metrics exposes the engine's required instruments as
// Prometheus collectors: per-Host message
// counters, queue depth, processing latency, and restart counts, plus a
// runtime collector and the /metrics HTTP handler.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide instrument set.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	ProcessLatency    *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	RestartCount      *prometheus.CounterVec
	HostState         *prometheus.GaugeVec
	WALPending        prometheus.Gauge
	ServiceInfo       *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// Init builds and registers the engine's instrument set under namespace
// (and optional subsystem), as a Production's MetricsConfig selects.
func Init(namespace, subsystem string) *Metrics {
	m := &Metrics{
		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "messages_received_total",
				Help: "Total messages accepted onto a Host's queue",
			}, []string{"host"},
		),
		MessagesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "messages_processed_total",
				Help: "Total messages a Host's on_message completed successfully",
			}, []string{"host"},
		),
		MessagesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "messages_failed_total",
				Help: "Total messages a Host failed to process",
			}, []string{"host"},
		),
		MessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "messages_sent_total",
				Help: "Total messages a Host fanned out to a target",
			}, []string{"host", "target"},
		),
		ProcessLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name:    "process_latency_seconds",
				Help:    "Duration of a Host's on_message invocation",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}, []string{"host"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "queue_depth",
				Help: "Current number of messages queued on a Host",
			}, []string{"host"},
		),
		RestartCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "restart_count_total",
				Help: "Total times the supervisor restarted a Host",
			}, []string{"host"},
		),
		HostState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "host_state",
				Help: "1 if the Host is currently in the labelled state, else 0",
			}, []string{"host", "state"},
		),
		WALPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "wal_pending_entries",
				Help: "Entries currently pending in the write-ahead log",
			},
		),
		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "build_info",
				Help: "Static build information",
			}, []string{"version", "environment"},
		),
	}
	defaultMetrics = m
	return m
}

// Get returns the process-wide Metrics, lazily initialising it with the
// "ionbridge" namespace and no subsystem if Init was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return Init("ionbridge", "")
	}
	return defaultMetrics
}

// HostSnapshot is the narrow view of host.Metrics the recorder needs,
// kept here rather than importing pkg/host to avoid a cycle (pkg/host
// imports pkg/metrics).
type HostSnapshot struct {
	Name              string
	State             string
	MessagesReceived  int64
	MessagesProcessed int64
	MessagesFailed    int64
	MessagesSent      int64
	RestartCount      int64
	QueueDepth        int
}

// states lists every Host lifecycle value HostState ever sets, so stale
// states are zeroed instead of left dangling when a Host transitions.
var states = []string{"created", "starting", "running", "paused", "stopping", "stopped", "error"}

// RecordHost overwrites the gauges for one Host from a fresh snapshot:
// queue depth and the host_state series. The snapshot's message and
// restart counts are not written here; the Host increments those
// counters itself as each event happens.
func (m *Metrics) RecordHost(s HostSnapshot) {
	m.QueueDepth.WithLabelValues(s.Name).Set(float64(s.QueueDepth))
	for _, st := range states {
		v := 0.0
		if st == s.State {
			v = 1
		}
		m.HostState.WithLabelValues(s.Name, st).Set(v)
	}
}

// ObserveLatency records how long a Host's on_message call took.
func (m *Metrics) ObserveLatency(host string, d time.Duration) {
	m.ProcessLatency.WithLabelValues(host).Observe(d.Seconds())
}

// SetServiceInfo publishes static build metadata as a 1-valued gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// Serve runs a dedicated metrics HTTP server until ctx is cancelled.
func Serve(ctx context.Context, port int, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
