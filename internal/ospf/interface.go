package ospf

import (
	"sync"

	"github.com/netlab-emu/agent/internal/types"
)

// Candidate is one DR/BDR election participant: either this router
// itself or a neighbor currently in state >= 2-Way (spec.md §4.2/§8
// scenario 2).
type Candidate struct {
	RouterID    uint32
	Priority    uint8
	DeclaredDR  uint32
	DeclaredBDR uint32
}

// ElectDRBDR runs the RFC 2328 §9.4 two-pass election: BDR first (among
// routers not claiming DR, preferring those that declared themselves
// BDR), then DR (among routers claiming DR, falling back to the elected
// BDR if none claim it). When the DR pass promotes the BDR, the BDR pass
// is run again without that router, so DR and BDR are never the same
// router. Priority-0 routers never participate. Ties break on higher
// Router ID.
func ElectDRBDR(candidates []Candidate) (dr, bdr uint32) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Priority > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return 0, 0
	}

	bdr = electBDR(eligible)
	dr = electDR(eligible, bdr)
	if dr == bdr {
		// The BDR was promoted to DR: rerun the BDR pass without it.
		others := make([]Candidate, 0, len(eligible))
		for _, c := range eligible {
			if c.RouterID != dr {
				others = append(others, c)
			}
		}
		bdr = 0
		if len(others) > 0 {
			bdr = electBDR(others)
		}
	}
	return dr, bdr
}

func electBDR(eligible []Candidate) uint32 {
	var declaredBDR []Candidate
	var rest []Candidate
	for _, c := range eligible {
		if c.DeclaredDR == c.RouterID {
			continue // declares itself DR, not a BDR candidate this pass
		}
		if c.DeclaredBDR == c.RouterID {
			declaredBDR = append(declaredBDR, c)
		} else {
			rest = append(rest, c)
		}
	}
	pool := declaredBDR
	if len(pool) == 0 {
		pool = rest
	}
	if len(pool) == 0 {
		// every eligible router declares itself DR; any of them can act
		// as BDR fallback candidate.
		pool = eligible
	}
	return highestPriority(pool)
}

func electDR(eligible []Candidate, bdr uint32) uint32 {
	var declaredDR []Candidate
	for _, c := range eligible {
		if c.DeclaredDR == c.RouterID {
			declaredDR = append(declaredDR, c)
		}
	}
	if len(declaredDR) == 0 {
		return bdr
	}
	return highestPriority(declaredDR)
}

func highestPriority(cands []Candidate) uint32 {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Priority > best.Priority || (c.Priority == best.Priority && c.RouterID > best.RouterID) {
			best = c
		}
	}
	return best.RouterID
}

// InterfaceState is the runtime DR/BDR election state for one OSPF
// interface (spec.md §2 C4), layered over the static types.Interface
// configuration.
type InterfaceState struct {
	mu sync.Mutex

	Config *types.Interface
	Area   types.AreaID

	DR  uint32
	BDR uint32

	Neighbors map[uint32]*Neighbor // keyed by neighbor Router ID
}

// NewInterfaceState creates interface runtime state with no neighbors
// and no elected DR/BDR yet.
func NewInterfaceState(cfg *types.Interface, area types.AreaID) *InterfaceState {
	return &InterfaceState{Config: cfg, Area: area, Neighbors: make(map[uint32]*Neighbor)}
}

// Elect re-runs DR/BDR election from the interface's current neighbor
// set (priority-0 local router never becomes DR/BDR itself) and reports
// whether the outcome changed, which drives Network-LSA regeneration
// (spec.md §4.2).
func (s *InterfaceState) Elect(localRouterID uint32, localPriority uint8) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cands := []Candidate{{RouterID: localRouterID, Priority: localPriority, DeclaredDR: s.DR, DeclaredBDR: s.BDR}}
	for _, n := range s.Neighbors {
		if n.State() < TwoWay {
			continue
		}
		cands = append(cands, Candidate{
			RouterID:    n.RouterID,
			Priority:    n.Priority,
			DeclaredDR:  n.NeighborDR,
			DeclaredBDR: n.NeighborBDR,
		})
	}
	dr, bdr := ElectDRBDR(cands)
	changed = dr != s.DR || bdr != s.BDR
	s.DR, s.BDR = dr, bdr
	return changed
}

// IsDROrBDR reports whether routerID is the current DR or BDR on this
// segment.
func (s *InterfaceState) IsDROrBDR(routerID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return routerID == s.DR || routerID == s.BDR
}

// AdjacencyEligible reports whether a 2-Way neighbor with the given
// Router ID should be promoted to ExStart, per ShouldFormAdjacency.
func (s *InterfaceState) AdjacencyEligible(localRouterID, neighborRouterID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	localIsDRBDR := localRouterID == s.DR || localRouterID == s.BDR
	neighborIsDRBDR := neighborRouterID == s.DR || neighborRouterID == s.BDR
	return ShouldFormAdjacency(s.Config.NetworkType, localIsDRBDR, neighborIsDRBDR)
}
