// Package metrics exposes the Prometheus counters and histograms added by
// this expansion: request outcomes, forward latency, pool saturation, WS
// connection counts, and account-relationship rewrite outcomes. Purely
// observational — nothing here affects control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric this gateway exposes, registered against a
// dedicated prometheus.Registry so /metrics never leaks Go runtime defaults
// the caller did not ask for.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPForwardDuration     *prometheus.HistogramVec
	PoolInflight            *prometheus.GaugeVec
	WSConnections           *prometheus.GaugeVec
	AccountRelationshipRewr *prometheus.CounterVec
}

// New builds and registers all gateway metrics on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP JSON-RPC requests processed, by route and outcome.",
		}, []string{"route", "outcome"}),

		HTTPForwardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_forward_duration_seconds",
			Help:    "Latency of the upstream forward round trip, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		PoolInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_inflight",
			Help: "Upstream requests currently in the pool (holding or waiting for a slot), by route.",
		}, []string{"route"}),

		WSConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_ws_connections",
			Help: "Open WebSocket connections, by mode (relay|demo).",
		}, []string{"mode"}),

		AccountRelationshipRewr: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_account_relationship_rewrites_total",
			Help: "AccountRelationship sanitizer rewrites, by outcome.",
		}, []string{"outcome"}),
	}
}

// Registerer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.reg
}
