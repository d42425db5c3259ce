package bgp

import (
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

// Better reports whether a should be preferred over b by the decision
// process of spec.md §4.5: higher LOCAL_PREF, then shorter AS_PATH
// (AS_SET segments counting as one hop), then lower ORIGIN (IGP <
// EGP < Incomplete), then lower MED (only compared when both paths
// share the same first AS_PATH hop — spec.md's "MED is only compared
// between paths from the same neighboring AS" refinement of RFC 4271
// §9.1.2.2's deprecated always-compare default), then eBGP over iBGP,
// then lower IGP metric to NEXT_HOP, then lower BGP Identifier, then
// lower peer address.
func Better(a, b Path) bool {
	if a.LocalPref != b.LocalPref {
		return a.LocalPref > b.LocalPref
	}
	if la, lb := wire.PathLength(a.ASPath), wire.PathLength(b.ASPath); la != lb {
		return la < lb
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	if medComparable(a, b) {
		am, bm := medOrDefault(a), medOrDefault(b)
		if am != bm {
			return am < bm
		}
	}
	if a.PeerIsExternal != b.PeerIsExternal {
		return a.PeerIsExternal // eBGP preferred over iBGP
	}
	if a.IGPMetric != b.IGPMetric {
		return a.IGPMetric < b.IGPMetric
	}
	if a.PeerID != b.PeerID {
		return a.PeerID < b.PeerID
	}
	return a.PeerAddress.Less(b.PeerAddress)
}

func medOrDefault(p Path) uint32 {
	if p.HasMED {
		return p.MED
	}
	return 0
}

// medComparable implements the same-neighboring-AS refinement: MED is
// only used as a tie-break when both paths' AS_PATH begins with the
// same AS (or both are empty, e.g. directly-originated routes).
func medComparable(a, b Path) bool {
	af, aok := firstAS(a.ASPath)
	bf, bok := firstAS(b.ASPath)
	if !aok && !bok {
		return true
	}
	return aok && bok && af == bf
}

func firstAS(segments []wire.ASPathSegment) (uint32, bool) {
	for _, s := range segments {
		if len(s.ASNs) > 0 {
			return s.ASNs[0], true
		}
	}
	return 0, false
}

// Best returns the most preferred path in candidates, or false if
// candidates is empty. Ties are broken deterministically by Better's
// final two tie-break steps, so Best never depends on slice order.
func Best(candidates []Path) (Path, bool) {
	if len(candidates) == 0 {
		return Path{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if Better(c, best) {
			best = c
		}
	}
	return best, true
}
