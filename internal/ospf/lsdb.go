// Package ospf implements the OSPFv2 speaker: per-interface DR/BDR
// election (C4), the per-neighbor 8-state adjacency machine (C5), the
// LSDB (C6), and Dijkstra-based SPF (C7) of spec.md §4.2-§4.3.
package ospf

import (
	"sync"
	"time"

	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

// LSRefreshTime is the self-originated-LSA re-origination interval
// (spec.md §4.3).
const LSRefreshTime = 1800 * time.Second

// Entry is one LSDB-resident LSA instance plus its aging bookkeeping.
// Age is wall-clock (spec.md §3): Entry.Header.Age holds the age at
// InstalledAt, and CurrentAge extrapolates from there.
type Entry struct {
	Header         wire.LSHeader
	Body           []byte
	InstalledAt    time.Time
	SelfOriginated bool

	// PendingFlush is set once the entry has been flooded as MaxAge; it
	// is removed once every neighbor that needs to see the MaxAge
	// instance has acknowledged or left the adjacency (spec.md §4.3).
	PendingFlush bool
	PendingAcks  map[int]bool // neighbor arena index -> ack outstanding
}

// CurrentAge returns the LSA's age at time now, capped at wire.MaxAge.
func (e *Entry) CurrentAge(now time.Time) uint16 {
	elapsed := int(now.Sub(e.InstalledAt).Seconds())
	age := int(e.Header.Age) + elapsed
	if age > wire.MaxAge {
		age = wire.MaxAge
	}
	if age < 0 {
		age = 0
	}
	return uint16(age)
}

// headerNow returns a copy of e.Header with Age set to CurrentAge(now),
// suitable for freshness comparison against a freshly received LSA.
func (e *Entry) headerNow(now time.Time) wire.LSHeader {
	h := e.Header
	h.Age = e.CurrentAge(now)
	return h
}

// LSDB is the per-area link-state database (spec.md §3: "the LSDB never
// contains two entries with equal identity" — P1). This implementation
// fixes a single backbone area (spec.md §4.3).
type LSDB struct {
	mu         sync.Mutex
	entries    map[wire.Identity]*Entry
	generation Generation
}

// NewLSDB creates an empty LSDB.
func NewLSDB() *LSDB {
	return &LSDB{entries: make(map[wire.Identity]*Entry)}
}

// Get returns the entry for id, if present.
func (db *LSDB) Get(id wire.Identity) (*Entry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[id]
	return e, ok
}

// Snapshot returns a copy of all entries, for external (telemetry)
// readers per spec.md §5.
func (db *LSDB) Snapshot() []*Entry {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*Entry, 0, len(db.entries))
	for _, e := range db.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// CompareIncoming reports the freshness of lsa relative to whatever is
// currently installed under its identity: >0 if lsa is strictly newer,
// 0 if it is the same instance, <0 if lsa is older. A missing entry
// always compares as strictly newer (there being nothing to beat).
func (db *LSDB) CompareIncoming(lsa wire.LSA, now time.Time) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	existing, ok := db.entries[lsa.Identity()]
	if !ok {
		return 1
	}
	return wire.CompareFreshness(lsa.Header, existing.headerNow(now))
}

// Install replaces (or creates) the entry for lsa.Identity() unconditionally.
// Callers must have already checked CompareIncoming > 0.
func (db *LSDB) Install(lsa wire.LSA, now time.Time, selfOriginated bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entries[lsa.Identity()] = &Entry{
		Header:         lsa.Header,
		Body:           lsa.Body,
		InstalledAt:    now,
		SelfOriginated: selfOriginated,
	}
	db.generation++
}

// MarkMaxAge flags an entry as flooded-at-MaxAge, expecting acks from
// the given set of neighbor arena indices before it can be purged
// (spec.md §4.3: "removed from the database after all neighbors have
// acknowledged or reached Full-reset").
func (db *LSDB) MarkMaxAge(id wire.Identity, pendingNeighbors []int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[id]
	if !ok {
		return
	}
	e.PendingFlush = true
	e.PendingAcks = make(map[int]bool, len(pendingNeighbors))
	for _, n := range pendingNeighbors {
		e.PendingAcks[n] = true
	}
	db.generation++
}

// Ack records that neighbor acknowledged (or left the adjacency for) id,
// and purges the entry once no acks remain outstanding. Returns true if
// the entry was purged.
func (db *LSDB) Ack(id wire.Identity, neighbor int) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[id]
	if !ok || !e.PendingFlush {
		return false
	}
	delete(e.PendingAcks, neighbor)
	if len(e.PendingAcks) == 0 {
		delete(db.entries, id)
		db.generation++
		return true
	}
	return false
}

// Remove deletes the entry for id unconditionally (used by tests and by
// explicit area teardown).
func (db *LSDB) Remove(id wire.Identity) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.entries, id)
	db.generation++
}

// Generation is a token that changes whenever the LSDB's identity set or
// contents change; comparing it with a previously captured token tells
// whether the LSDB changed in between. SPF uses this to
// implement "SPF is not run per event ... if the LSDB is unchanged since
// the last SPF, no run occurs" (spec.md §4.3). The generation counter is
// bumped by Install/MarkMaxAge/Ack/Remove.
type Generation uint64

func (db *LSDB) Generation() Generation {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.generation
}
