// Package metrics exposes Prometheus counters/gauges for the receive
// pipeline and pairing engine, and a handler for serving them, following
// the register-collectors-then-serve-/metrics pattern the corpus uses for
// its own Prometheus wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics this module records, all registered against
// a private prometheus.Registry so an embedding application's own default
// registry isn't polluted.
type Registry struct {
	reg *prometheus.Registry

	PacketsReceived   prometheus.Counter
	PacketsLost       *prometheus.CounterVec
	JitterBufferDepth prometheus.Gauge
	PairingAttempts   *prometheus.CounterVec
	ClockOffsetMillis prometheus.Gauge
}

// NewRegistry creates and registers every metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airplay",
			Subsystem: "rtp",
			Name:      "packets_received_total",
			Help:      "Audio RTP packets received.",
		}),
		PacketsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airplay",
			Subsystem: "rtp",
			Name:      "packets_lost_total",
			Help:      "Audio RTP packets detected as lost by the sequence tracker.",
		}, []string{"session"}),
		JitterBufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airplay",
			Subsystem: "rtp",
			Name:      "jitter_buffer_depth",
			Help:      "Current jitter buffer depth in packets.",
		}),
		PairingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airplay",
			Subsystem: "pairing",
			Name:      "attempts_total",
			Help:      "Pair-Setup/Pair-Verify attempts by outcome.",
		}, []string{"flow", "outcome"}),
		ClockOffsetMillis: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airplay",
			Subsystem: "clock",
			Name:      "offset_milliseconds",
			Help:      "Most recently accepted peer clock offset, in milliseconds.",
		}),
	}

	reg.MustRegister(
		r.PacketsReceived,
		r.PacketsLost,
		r.JitterBufferDepth,
		r.PairingAttempts,
		r.ClockOffsetMillis,
	)

	return r
}

// Handler returns the http.Handler to mount at "/metrics".
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
