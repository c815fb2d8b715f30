// Package metrics exposes line counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zigstack/internal/session"
	"zigstack/internal/transport"
)

// Metrics owns a private registry so tests and multiple sessions do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	controls     *prometheus.CounterVec
	requests     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zigstack",
				Name:      "frames_total",
				Help:      "MT frames seen on the serial line.",
			},
			[]string{"direction", "subsystem", "type"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zigstack",
				Name:      "line_bytes_total",
				Help:      "Bytes carried by frames, control frames and dropped input.",
			},
			[]string{"direction"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zigstack",
				Name:      "decode_errors_total",
				Help:      "Inbound bytes dropped while resynchronizing, by cause.",
			},
			[]string{"kind"},
		),
		controls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zigstack",
				Name:      "link_controls_total",
				Help:      "Link control frames, by direction and kind.",
			},
			[]string{"direction", "kind"},
		),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zigstack",
				Name:      "request_duration_seconds",
				Help:      "SREQ round-trip time.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"command", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.frames, m.bytes, m.decodeErrors, m.controls, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts one session record.
func (m *Metrics) Observe(r session.Record) {
	dir := string(r.Direction)
	m.bytes.WithLabelValues(dir).Add(float64(len(r.Raw)))
	switch {
	case r.Err != nil:
		m.decodeErrors.WithLabelValues(transport.ErrorKind(r.Err)).Inc()
	case r.Control != nil:
		m.controls.WithLabelValues(dir, r.Control.Kind().String()).Inc()
	case r.Frame != nil:
		cmd := r.Frame.Command()
		m.frames.WithLabelValues(dir, cmd.Subsystem().String(), cmd.Type().String()).Inc()
	}
}

// ObserveRequest records how long a request took. err == nil counts as ok.
func (m *Metrics) ObserveRequest(command string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(command, outcome).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
