// Package kernelrib installs and withdraws routes in the host forwarding
// table (spec.md §4.6, C10): the terminal sink both the OSPF SPF run and
// the BGP decision process feed into.
package kernelrib

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/gaissmai/bart"

	"github.com/netlab-emu/agent/internal/errs"
	"github.com/netlab-emu/agent/internal/types"
)

// Installer performs the actual kernel syscalls (netlink route
// add/replace/delete on Linux). Abstracted behind an interface so the
// RIB's arbitration and retry logic can be tested without touching the
// host's routing table, the same separation the teacher draws between
// protocol logic and the one goroutine that touches a real socket.
type Installer interface {
	Install(types.RouteEntry) error
	Withdraw(netip.Prefix) error
}

// pending is a route that failed to install and is queued for retry.
type pending struct {
	entry   types.RouteEntry
	attempt int
	after   time.Time
}

// RIB arbitrates between OSPF- and BGP-sourced routes for the same
// prefix by administrative distance (spec.md §4.6, §5) and owns the
// disjoint IPv4/IPv6 bart.Table backing stores holding the installed
// routes. Get and Lookup read those stores; SPF and the BGP Loc-RIB do
// not.
type RIB struct {
	mu  sync.Mutex
	v4  *bart.Table[types.RouteEntry]
	v6  *bart.Table[types.RouteEntry]
	ins Installer

	retryMu sync.Mutex
	retry   map[netip.Prefix]*pending
}

// New creates a RIB backed by ins. ins may be nil for tests that only
// exercise arbitration and never expect a real install.
func New(ins Installer) *RIB {
	return &RIB{
		v4:    new(bart.Table[types.RouteEntry]),
		v6:    new(bart.Table[types.RouteEntry]),
		ins:   ins,
		retry: make(map[netip.Prefix]*pending),
	}
}

func (r *RIB) tableFor(p netip.Prefix) *bart.Table[types.RouteEntry] {
	if p.Addr().Is4() {
		return r.v4
	}
	return r.v6
}

// Add offers a candidate route for installation. If no route exists for
// the prefix, or the candidate carries a lower (better) administrative
// distance than the installed one, or it comes from the same source (same
// route type and distance) as the installed one, it wins arbitration and
// is installed — replacing the old entry if one existed. A losing candidate is
// simply dropped; its owning RIB (OSPF LSDB / BGP Loc-RIB) is
// unaffected, only the kernel's view of who currently "owns" the
// prefix.
func (r *RIB) Add(entry types.RouteEntry) error {
	r.mu.Lock()
	t := r.tableFor(entry.Prefix)
	existing, had := t.Get(entry.Prefix)
	if had && existing.Distance <= entry.Distance && !sameSource(existing, entry) {
		r.mu.Unlock()
		return nil
	}
	t.Insert(entry.Prefix, entry)
	r.mu.Unlock()

	if r.ins == nil {
		return nil
	}
	if err := r.ins.Install(entry); err != nil {
		r.scheduleRetry(entry)
		return errs.Exhausted("kernel route install", err)
	}
	r.clearRetry(entry.Prefix)
	return nil
}

// Del withdraws a prefix unconditionally. Called when the owning RIB
// (OSPF or BGP) has no remaining path for it at all, not merely a worse
// one — a worse-but-present alternate should go through Add so the
// runner-up can take over without a transient blackhole.
func (r *RIB) Del(prefix netip.Prefix) error {
	r.mu.Lock()
	t := r.tableFor(prefix)
	_, had := t.Get(prefix)
	if had {
		t.Delete(prefix)
	}
	r.mu.Unlock()
	r.clearRetry(prefix)

	if !had || r.ins == nil {
		return nil
	}
	if err := r.ins.Withdraw(prefix); err != nil {
		return errs.Exhausted("kernel route withdraw", err)
	}
	return nil
}

// Replace installs entry unconditionally, regardless of the currently
// installed distance — used when the owner of the installed route itself
// produces a metric change (not a competing source), since the RIB's
// own distance comparison only needs to run between different sources.
func (r *RIB) Replace(entry types.RouteEntry) error {
	r.mu.Lock()
	t := r.tableFor(entry.Prefix)
	t.Insert(entry.Prefix, entry)
	r.mu.Unlock()

	if r.ins == nil {
		return nil
	}
	if err := r.ins.Install(entry); err != nil {
		r.scheduleRetry(entry)
		return errs.Exhausted("kernel route replace", err)
	}
	r.clearRetry(entry.Prefix)
	return nil
}

// Get returns the currently installed route for prefix, if any.
func (r *RIB) Get(prefix netip.Prefix) (types.RouteEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tableFor(prefix).Get(prefix)
}

// Lookup performs a longest-prefix-match for addr over the installed
// routes.
func (r *RIB) Lookup(addr netip.Addr) (types.RouteEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr.Is4() {
		return r.v4.Lookup(addr)
	}
	return r.v6.Lookup(addr)
}

func sameSource(a, b types.RouteEntry) bool {
	return a.Type == b.Type && a.Distance == b.Distance
}

// initialRetryBackoff and maxRetryBackoff bound the exponential backoff
// applied to a route stuck failing installation (spec.md §7
// ResourceExhaustion: "retried with backoff; it does not invalidate the
// owning RIB entry").
const (
	initialRetryBackoff = 1 * time.Second
	maxRetryBackoff     = 60 * time.Second
)

func (r *RIB) scheduleRetry(entry types.RouteEntry) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	p, ok := r.retry[entry.Prefix]
	if !ok {
		p = &pending{entry: entry}
		r.retry[entry.Prefix] = p
	}
	p.entry = entry
	backoff := initialRetryBackoff << p.attempt
	if backoff > maxRetryBackoff || backoff <= 0 {
		backoff = maxRetryBackoff
	}
	p.attempt++
	p.after = time.Now().Add(backoff)
}

func (r *RIB) clearRetry(prefix netip.Prefix) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	delete(r.retry, prefix)
}

// RunRetryLoop drains the retry queue every tick until ctx is cancelled,
// re-attempting installation of every entry whose backoff has elapsed.
// Intended to run as one long-lived goroutine owned by the supervisor
// (C11).
func (r *RIB) RunRetryLoop(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.retryDue(now)
		}
	}
}

func (r *RIB) retryDue(now time.Time) {
	r.retryMu.Lock()
	due := make([]types.RouteEntry, 0)
	for prefix, p := range r.retry {
		if !now.Before(p.after) {
			due = append(due, p.entry)
			_ = prefix
		}
	}
	r.retryMu.Unlock()

	for _, entry := range due {
		if r.ins == nil {
			r.clearRetry(entry.Prefix)
			continue
		}
		if err := r.ins.Install(entry); err != nil {
			r.scheduleRetry(entry)
			continue
		}
		r.clearRetry(entry.Prefix)
	}
}
