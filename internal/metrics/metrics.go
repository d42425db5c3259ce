// Package metrics instruments the agent with Prometheus counters and
// gauges (spec.md's ambient observability expansion). No HTTP handler is
// wired here: exposing a /metrics endpoint is a REST/UI concern and
// stays out of scope; tests and the supervisor read values directly off
// the registry's Gather().
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics owns one private registry so multiple agent instances in the
// same test binary never collide on the default global registry the way
// a package-level prometheus.MustRegister would.
type Metrics struct {
	Registry *prometheus.Registry

	PolicyRejectionsTotal     *prometheus.CounterVec
	ResourceExhaustionRetries *prometheus.CounterVec
	LSDBSize                  *prometheus.GaugeVec
	SPFRunsTotal              prometheus.Counter
	BGPFSMTransitionsTotal    *prometheus.CounterVec
}

// New builds and registers the full metric set.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		PolicyRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlab_agent_policy_rejections_total",
				Help: "Routes dropped by import/export policy, per peer (spec.md §7 PolicyRejection).",
			},
			[]string{"peer"},
		),
		ResourceExhaustionRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlab_agent_resource_exhaustion_retries_total",
				Help: "Retries after a resource-exhaustion failure (spec.md §7 ResourceExhaustion), per component.",
			},
			[]string{"component"},
		),
		LSDBSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netlab_agent_ospf_lsdb_size",
				Help: "Number of LSAs currently held in the LSDB, per area.",
			},
			[]string{"area"},
		),
		SPFRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netlab_agent_ospf_spf_runs_total",
				Help: "Number of completed Dijkstra/SPF runs.",
			},
		),
		BGPFSMTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlab_agent_bgp_fsm_transitions_total",
				Help: "BGP peer FSM state transitions, per peer and destination state.",
			},
			[]string{"peer", "state"},
		),
	}

	m.Registry.MustRegister(
		m.PolicyRejectionsTotal,
		m.ResourceExhaustionRetries,
		m.LSDBSize,
		m.SPFRunsTotal,
		m.BGPFSMTransitionsTotal,
	)
	return m
}
