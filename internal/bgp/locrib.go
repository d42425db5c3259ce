package bgp

import (
	"net/netip"
	"sync"
)

// LocRIB holds the single best path per prefix selected from every
// peer's Adj-RIB-In (spec.md §3: "Loc-RIB never holds two best paths
// for the same prefix" — P4). Recompute is called whenever any
// contributing Adj-RIB-In changes.
type LocRIB struct {
	mu    sync.Mutex
	byPeer map[uint32]*AdjRIBIn
	best   map[netip.Prefix]Path
}

func NewLocRIB() *LocRIB {
	return &LocRIB{byPeer: make(map[uint32]*AdjRIBIn), best: make(map[netip.Prefix]Path)}
}

// AddPeer registers a peer's Adj-RIB-In as a decision-process input.
func (l *LocRIB) AddPeer(peerID uint32, in *AdjRIBIn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byPeer[peerID] = in
}

// RemovePeer drops a peer's Adj-RIB-In from consideration (its paths
// must already have been withdrawn by the caller via the peer's own
// AdjRIBIn.Clear before calling this, per spec.md §4.4's teardown
// sequencing).
func (l *LocRIB) RemovePeer(peerID uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byPeer, peerID)
}

// Recompute re-derives the best path for the given prefixes from every
// registered peer's Adj-RIB-In, and returns the prefixes whose best
// path actually changed (including those that lost their only path
// and must now be withdrawn; those are removed from the best-path table
// and listed in changed like any other).
func (l *LocRIB) Recompute(prefixes []netip.Prefix) (changed []netip.Prefix) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, prefix := range prefixes {
		var candidates []Path
		for _, in := range l.byPeer {
			if p, ok := in.Get(prefix); ok {
				candidates = append(candidates, p)
			}
		}
		newBest, ok := Best(candidates)
		oldBest, hadBest := l.best[prefix]

		switch {
		case !ok && !hadBest:
			// nothing before, nothing now
		case !ok && hadBest:
			delete(l.best, prefix)
			changed = append(changed, prefix)
		case ok && !hadBest:
			l.best[prefix] = newBest
			changed = append(changed, prefix)
		case ok && hadBest:
			if !samePath(oldBest, newBest) {
				l.best[prefix] = newBest
				changed = append(changed, prefix)
			}
		}
	}
	return changed
}

// Best returns the current best path for prefix, if any.
func (l *LocRIB) Best(prefix netip.Prefix) (Path, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.best[prefix]
	return p, ok
}

// Snapshot returns every currently installed best path, for RIB export
// to the kernel and for constructing each peer's Adj-RIB-Out.
func (l *LocRIB) Snapshot() map[netip.Prefix]Path {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[netip.Prefix]Path, len(l.best))
	for k, v := range l.best {
		out[k] = v
	}
	return out
}
