// Package metrics exposes the server's own operational counters as
// Prometheus metrics, in the style of the Redis exporter this corpus
// ships: a small set of gauges/counters registered once at startup and
// served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the exported series. Created once per process and shared
// by the listener and engine.
type Metrics struct {
	ConnectedClients  prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	KeyspaceKeys      prometheus.Gauge
	ConnectedReplicas prometheus.Gauge
	MasterReplOffset  prometheus.Gauge

	registry *prometheus.Registry
}

// New builds and registers the metric set against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redisd",
			Name:      "connected_clients",
			Help:      "Number of client connections currently open.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redisd",
			Name:      "commands_total",
			Help:      "Commands processed, labeled by command name.",
		}, []string{"command"}),
		KeyspaceKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redisd",
			Name:      "keyspace_keys",
			Help:      "Number of keys currently held in db 0.",
		}),
		ConnectedReplicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redisd",
			Name:      "connected_replicas",
			Help:      "Number of replicas currently attached to this primary.",
		}),
		MasterReplOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redisd",
			Name:      "master_repl_offset",
			Help:      "Current replication offset of this server.",
		}),
		registry: reg,
	}

	reg.MustRegister(m.ConnectedClients, m.CommandsTotal, m.KeyspaceKeys, m.ConnectedReplicas, m.MasterReplOffset)
	return m
}

// Handler returns the HTTP handler that serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
