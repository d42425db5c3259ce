package ospf

import (
	"testing"

	"github.com/netlab-emu/agent/internal/types"
)

// TestElectDRBDRFirstElection covers three routers on a broadcast
// segment, priorities 1/2/3, nobody declaring a DR/BDR yet (first
// election on the segment).
func TestElectDRBDRFirstElection(t *testing.T) {
	cands := []Candidate{
		{RouterID: 1, Priority: 1},
		{RouterID: 2, Priority: 2},
		{RouterID: 3, Priority: 3},
	}
	dr, bdr := ElectDRBDR(cands)
	if dr != 3 {
		t.Fatalf("expected router 3 (highest priority) to become DR, got %d", dr)
	}
	if bdr != 2 {
		t.Fatalf("expected router 2 (next highest) to become BDR, got %d", bdr)
	}
}

// TestElectDRBDRIsSticky checks RFC 2328 §9.4's key property: an
// already-elected DR is not displaced just because a higher-priority
// router later joins the segment.
func TestElectDRBDRIsSticky(t *testing.T) {
	cands := []Candidate{
		{RouterID: 2, Priority: 2, DeclaredDR: 2, DeclaredBDR: 0},
		{RouterID: 9, Priority: 9}, // newcomer, higher priority, declares nothing yet
	}
	dr, _ := ElectDRBDR(cands)
	if dr != 2 {
		t.Fatalf("expected existing DR to stick despite a higher-priority newcomer, got %d", dr)
	}
}

func TestElectDRBDRPriorityZeroExcluded(t *testing.T) {
	cands := []Candidate{
		{RouterID: 1, Priority: 0},
		{RouterID: 2, Priority: 1},
	}
	dr, bdr := ElectDRBDR(cands)
	if dr != 2 {
		t.Fatalf("expected priority-0 router excluded from DR, got dr=%d", dr)
	}
	if bdr == 1 {
		t.Fatal("priority-0 router must never become BDR either")
	}
}

func TestElectDRBDRAllPriorityZeroYieldsNone(t *testing.T) {
	cands := []Candidate{{RouterID: 1, Priority: 0}, {RouterID: 2, Priority: 0}}
	dr, bdr := ElectDRBDR(cands)
	if dr != 0 || bdr != 0 {
		t.Fatalf("expected no DR/BDR when every candidate is priority 0, got dr=%d bdr=%d", dr, bdr)
	}
}

func TestShouldFormAdjacencyPointToPointAlwaysTrue(t *testing.T) {
	if !ShouldFormAdjacency(types.PointToPoint, false, false) {
		t.Fatal("point-to-point links must always form full adjacency")
	}
}
