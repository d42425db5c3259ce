package bgp

import (
	"net/netip"
	"sync"
)

// AdjRIBIn holds every path accepted from one peer, indexed by prefix,
// before the decision process runs (spec.md §3, §4.5). Policy-rejected
// updates never reach here (spec.md §7: rejected at the inbound-policy
// boundary, counted but not stored).
type AdjRIBIn struct {
	mu    sync.Mutex
	paths map[netip.Prefix]Path
}

func NewAdjRIBIn() *AdjRIBIn {
	return &AdjRIBIn{paths: make(map[netip.Prefix]Path)}
}

// Update installs or replaces the path for its prefix.
func (r *AdjRIBIn) Update(p Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[p.Prefix] = p
}

// Withdraw removes the entry for prefix, reporting whether one existed.
func (r *AdjRIBIn) Withdraw(prefix netip.Prefix) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[prefix]
	delete(r.paths, prefix)
	return ok
}

// Get returns the path for prefix, if any.
func (r *AdjRIBIn) Get(prefix netip.Prefix) (Path, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[prefix]
	return p, ok
}

// Prefixes returns every prefix currently held (used when a peer
// session drops and every one of its paths must be withdrawn from
// Loc-RIB, spec.md §4.4's "Cleared" transition).
func (r *AdjRIBIn) Prefixes() []netip.Prefix {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]netip.Prefix, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	return out
}

// Clear empties the table, returning the prefixes that were present.
func (r *AdjRIBIn) Clear() []netip.Prefix {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]netip.Prefix, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	r.paths = make(map[netip.Prefix]Path)
	return out
}

// AdjRIBOut holds, per peer, the prefix set most recently advertised
// to it, so the next re-run of the decision process can diff against
// it and send only the changes (spec.md §4.5: "advertise only the
// delta since the previous Adj-RIB-Out state for that peer").
type AdjRIBOut struct {
	mu        sync.Mutex
	advertised map[netip.Prefix]Path
}

func NewAdjRIBOut() *AdjRIBOut {
	return &AdjRIBOut{advertised: make(map[netip.Prefix]Path)}
}

// Diff compares desired (the current best-path set that should be
// advertised to this peer) against what was last advertised, and
// returns the paths to announce and the prefixes to withdraw. It
// updates its internal record to desired as a side effect, matching
// the one-advertised-state-per-peer invariant (spec.md §3).
func (o *AdjRIBOut) Diff(desired map[netip.Prefix]Path) (announce []Path, withdraw []netip.Prefix) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for prefix, p := range desired {
		old, existed := o.advertised[prefix]
		if !existed || !samePath(old, p) {
			announce = append(announce, p)
		}
	}
	for prefix := range o.advertised {
		if _, ok := desired[prefix]; !ok {
			withdraw = append(withdraw, prefix)
		}
	}
	o.advertised = make(map[netip.Prefix]Path, len(desired))
	for prefix, p := range desired {
		o.advertised[prefix] = p
	}
	return announce, withdraw
}

func samePath(a, b Path) bool {
	if a.NextHop != b.NextHop || a.LocalPref != b.LocalPref || a.Origin != b.Origin {
		return false
	}
	if len(a.ASPath) != len(b.ASPath) {
		return false
	}
	for i := range a.ASPath {
		if a.ASPath[i].Type != b.ASPath[i].Type || len(a.ASPath[i].ASNs) != len(b.ASPath[i].ASNs) {
			return false
		}
		for j := range a.ASPath[i].ASNs {
			if a.ASPath[i].ASNs[j] != b.ASPath[i].ASNs[j] {
				return false
			}
		}
	}
	return true
}
