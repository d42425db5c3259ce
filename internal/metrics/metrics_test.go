package metrics

import "testing"

func TestNewRegistersEveryMetricWithoutPanicking(t *testing.T) {
	m := New()
	// Vec families are only gathered once they hold at least one child.
	m.PolicyRejectionsTotal.WithLabelValues("10.0.0.1")
	m.ResourceExhaustionRetries.WithLabelValues("ospf")
	m.LSDBSize.WithLabelValues("0.0.0.0")
	m.BGPFSMTransitionsTotal.WithLabelValues("10.0.0.1", "Established")
	mfs, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 5 {
		t.Fatalf("expected 5 registered metric families, got %d", len(mfs))
	}
}

func TestCountersAreIndependentPerInstance(t *testing.T) {
	a := New()
	b := New()
	a.PolicyRejectionsTotal.WithLabelValues("10.0.0.1").Inc()

	mfs, _ := b.Registry.Gather()
	for _, mf := range mfs {
		if mf.GetName() == "netlab_agent_policy_rejections_total" {
			if len(mf.GetMetric()) != 0 {
				t.Fatal("expected a fresh registry to have no observed label values")
			}
		}
	}
}
