package kernelrib

import (
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/netlab-emu/agent/internal/types"
)

type fakeInstaller struct {
	mu        sync.Mutex
	installed map[netip.Prefix]types.RouteEntry
	failNext  bool
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{installed: make(map[netip.Prefix]types.RouteEntry)}
}

func (f *fakeInstaller) Install(e types.RouteEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated install failure")
	}
	f.installed[e.Prefix] = e
	return nil
}

func (f *fakeInstaller) Withdraw(p netip.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installed, p)
	return nil
}

func pfx(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func TestAddPrefersLowerAdministrativeDistance(t *testing.T) {
	ins := newFakeInstaller()
	r := New(ins)
	prefix := pfx("10.0.0.0/24")

	ospf := types.RouteEntry{Prefix: prefix, Type: types.IntraArea, Distance: types.DistanceOSPFIntra}
	if err := r.Add(ospf); err != nil {
		t.Fatalf("add ospf: %v", err)
	}
	bgpEBGP := types.RouteEntry{Prefix: prefix, Type: types.BGPRoute, Distance: types.DistanceBGPExternal}
	if err := r.Add(bgpEBGP); err != nil {
		t.Fatalf("add ebgp: %v", err)
	}

	got, ok := r.Get(prefix)
	if !ok || got.Type != types.BGPRoute {
		t.Fatalf("expected eBGP (distance 20) to win over OSPF intra (110), got %+v", got)
	}
}

func TestAddRejectsWorseDistance(t *testing.T) {
	ins := newFakeInstaller()
	r := New(ins)
	prefix := pfx("10.0.1.0/24")

	bgpEBGP := types.RouteEntry{Prefix: prefix, Type: types.BGPRoute, Distance: types.DistanceBGPExternal}
	if err := r.Add(bgpEBGP); err != nil {
		t.Fatalf("add ebgp: %v", err)
	}
	bgpIBGP := types.RouteEntry{Prefix: prefix, Type: types.BGPRoute, Distance: types.DistanceBGPInternal}
	if err := r.Add(bgpIBGP); err != nil {
		t.Fatalf("add ibgp: %v", err)
	}

	got, _ := r.Get(prefix)
	if got.Distance != types.DistanceBGPExternal {
		t.Fatalf("expected the better eBGP distance to remain installed, got distance %d", got.Distance)
	}
}

func TestDelRemovesOnlyExistingRoute(t *testing.T) {
	ins := newFakeInstaller()
	r := New(ins)
	prefix := pfx("10.0.2.0/24")

	if err := r.Del(prefix); err != nil {
		t.Fatalf("del on empty rib must be a no-op, got %v", err)
	}

	entry := types.RouteEntry{Prefix: prefix, Type: types.IntraArea, Distance: types.DistanceOSPFIntra}
	if err := r.Add(entry); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Del(prefix); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok := r.Get(prefix); ok {
		t.Fatal("expected prefix to be gone after Del")
	}
}

func TestAddFailureSchedulesRetryWithoutLosingRIBEntry(t *testing.T) {
	ins := newFakeInstaller()
	ins.failNext = true
	r := New(ins)
	prefix := pfx("10.0.3.0/24")

	entry := types.RouteEntry{Prefix: prefix, Type: types.IntraArea, Distance: types.DistanceOSPFIntra}
	if err := r.Add(entry); err == nil {
		t.Fatal("expected the simulated install failure to propagate")
	}

	// The RIB's own view of the route must survive a kernel install
	// failure (spec.md §4.6: "does not invalidate the owning RIB entry").
	got, ok := r.Get(prefix)
	if !ok || got.Prefix != prefix {
		t.Fatal("expected the route to remain tracked despite the failed install")
	}

	r.retryDue(r.retry[prefix].after)
	if _, stillPending := ins.installed[prefix]; !stillPending {
		t.Fatal("expected the retry loop to successfully install on the next attempt")
	}
}

func TestIPv4AndIPv6UseDisjointTables(t *testing.T) {
	r := New(nil)
	v4 := pfx("10.0.4.0/24")
	v6 := pfx("2001:db8::/32")

	if err := r.Add(types.RouteEntry{Prefix: v4, Type: types.IntraArea, Distance: 110}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(types.RouteEntry{Prefix: v6, Type: types.IntraArea, Distance: 110}); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get(v4); !ok {
		t.Fatal("expected v4 prefix present")
	}
	if _, ok := r.Get(v6); !ok {
		t.Fatal("expected v6 prefix present")
	}
}
