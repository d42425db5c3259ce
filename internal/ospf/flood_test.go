package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/netlab-emu/agent/internal/timerwheel"
)

func TestDecideFloodAction(t *testing.T) {
	db := NewLSDB()
	now := time.Now()
	lsa := routerLSA(5, 100)
	db.Install(lsa, now, false)

	if got := db.Decide(routerLSA(6, 0), now); got != InstallAckFlood {
		t.Fatalf("expected InstallAckFlood for a newer instance, got %v", got)
	}
	if got := db.Decide(lsa, now); got != AckOnly {
		t.Fatalf("expected AckOnly for an identical instance, got %v", got)
	}
	if got := db.Decide(routerLSA(4, 0), now); got != SendBackNewer {
		t.Fatalf("expected SendBackNewer for an older instance, got %v", got)
	}
}

func newFloodNeighbor(iface int, state State) *Neighbor {
	clock := timerwheel.NewFakeClock()
	wheel := timerwheel.New(clock)
	n := NewNeighbor(iface, uint32(iface)+1, netip.MustParseAddr("10.0.0.1"), wheel, Callbacks{})
	n.state = state
	return n
}

func TestEligibleFloodTargetsExcludesArrivalAndBelowExchange(t *testing.T) {
	neighbors := []*Neighbor{
		newFloodNeighbor(1, Full),   // arrival interface, excluded
		newFloodNeighbor(2, Full),   // eligible
		newFloodNeighbor(3, TwoWay), // below Exchange, excluded
		newFloodNeighbor(4, Loading),// eligible
	}
	out := EligibleFloodTargets(neighbors, 1)
	if len(out) != 2 {
		t.Fatalf("expected 2 eligible targets, got %d", len(out))
	}
	for _, n := range out {
		if n.InterfaceIndex == 1 {
			t.Error("arrival interface's neighbor must be excluded")
		}
		if n.State() < Exchange {
			t.Error("neighbor below Exchange must be excluded")
		}
	}
}

func TestShouldReFloodOnArrivalSegment(t *testing.T) {
	if !ShouldReFloodOnArrivalSegment(true, true) {
		t.Error("DR receiving on a broadcast segment must re-flood back onto it")
	}
	if ShouldReFloodOnArrivalSegment(false, true) {
		t.Error("non-DR must not re-flood back onto the arrival broadcast segment")
	}
	if ShouldReFloodOnArrivalSegment(true, false) {
		t.Error("point-to-point arrival has no split-horizon exception to apply")
	}
}
