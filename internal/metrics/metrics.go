// Package metrics defines the Prometheus instruments the runtime host
// exposes, built on a dedicated registry with every instrument
// registered at construction rather than the global default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the host exports.
type Collector struct {
	Registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	AuthOutcomesTotal   *prometheus.CounterVec
	RegistrationsTotal  prometheus.Counter
	DuplicateKicksTotal prometheus.Counter

	TickDuration *prometheus.HistogramVec

	UDPProbesTotal *prometheus.CounterVec

	ExtensionRefreshTotal           *prometheus.CounterVec
	ExtensionBootstrapFailuresTotal prometheus.Counter
}

// New creates and registers every metric on a fresh, independent
// registry. Safe to call more than once (e.g. in tests).
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sengoo_connections_active",
			Help: "Number of TCP connections currently tracked, in any state.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sengoo_connections_total",
			Help: "Total number of TCP connections accepted since startup.",
		}),
		AuthOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sengoo_auth_outcomes_total",
			Help: "Setup resolutions by outcome (ok, banned, capacity, malformed_setup, version_mismatch, md5_mismatch, invalid_name, not_whitelisted, device_cap, credential_fail, storage_error).",
		}, []string{"outcome"}),
		RegistrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sengoo_registrations_total",
			Help: "Total number of new user rows auto-registered.",
		}),
		DuplicateKicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sengoo_duplicate_kicks_total",
			Help: "Total number of prior connections force-closed by a duplicate-session Setup.",
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sengoo_tick_duration_seconds",
			Help:    "Duration of one tick-loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"progressed"}),
		UDPProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sengoo_udp_probes_total",
			Help: "UDP discovery probes handled, by kind (detect, detail, echo).",
		}, []string{"kind"}),
		ExtensionRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sengoo_extension_refresh_total",
			Help: "Registry refreshes, by whether the broadcast frame changed.",
		}, []string{"changed"}),
		ExtensionBootstrapFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sengoo_extension_bootstrap_failures_total",
			Help: "Total number of extension bootstrap calls that returned loaded=false.",
		}),
	}

	reg.MustRegister(
		c.ConnectionsActive,
		c.ConnectionsTotal,
		c.AuthOutcomesTotal,
		c.RegistrationsTotal,
		c.DuplicateKicksTotal,
		c.TickDuration,
		c.UDPProbesTotal,
		c.ExtensionRefreshTotal,
		c.ExtensionBootstrapFailuresTotal,
	)

	return c
}
