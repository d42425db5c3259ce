package ospf

import (
	"time"

	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

// FloodAction is the outcome of comparing a received LSA against the
// LSDB, per spec.md §4.2 "Flooding".
type FloodAction int

const (
	// InstallAckFlood: the LSA is strictly newer. Install it, acknowledge
	// it (delayed on broadcast, direct on point-to-point), and flood it
	// to every other eligible neighbor.
	InstallAckFlood FloodAction = iota
	// AckOnly: same instance already in the database; acknowledge, do
	// not reflood.
	AckOnly
	// SendBackNewer: our copy is strictly newer than what was received;
	// send our instance back to the originating neighbor, no install.
	SendBackNewer
)

// Decide classifies a received LSA for one neighbor's flooding
// behavior (spec.md §4.2). It does not mutate the LSDB; callers install
// separately once they decide to commit (keeping the decision pure and
// unit-testable).
func (db *LSDB) Decide(lsa wire.LSA, now time.Time) FloodAction {
	cmp := db.CompareIncoming(lsa, now)
	switch {
	case cmp > 0:
		return InstallAckFlood
	case cmp == 0:
		return AckOnly
	default:
		return SendBackNewer
	}
}

// EligibleFloodTargets returns, from a set of neighbors on interfaces
// other than the arrival interface, those in state >= Exchange (spec.md
// §4.2: "flooded to all neighbors in state >= Exchange on all eligible
// interfaces except the one of arrival"). DR re-flooding back onto the
// arrival segment is handled by the caller (the arrival Interface's own
// flood-to-segment step), which is the documented split-horizon
// exception.
func EligibleFloodTargets(neighbors []*Neighbor, arrivalInterfaceIndex int) []*Neighbor {
	var out []*Neighbor
	for _, n := range neighbors {
		if n.InterfaceIndex == arrivalInterfaceIndex {
			continue
		}
		if n.State() >= Exchange {
			out = append(out, n)
		}
	}
	return out
}

// ShouldReFloodOnArrivalSegment implements the DR split-horizon
// exception: a non-DR router that floods onto a broadcast segment must
// still re-flood through the DR so other neighbors on that same segment
// receive it, even though it arrived there (spec.md §4.2).
func ShouldReFloodOnArrivalSegment(localIsDR bool, arrivalIsBroadcast bool) bool {
	return localIsDR && arrivalIsBroadcast
}
