package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/netlab-emu/agent/internal/types"
	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

func installRouterLSA(t *testing.T, db *LSDB, routerID uint32, links []wire.RouterLink) {
	t.Helper()
	h := wire.LSHeader{
		Type:              wire.RouterLSA,
		LinkStateID:       routerID,
		AdvertisingRouter: routerID,
		SequenceNumber:    1,
	}
	body := wire.EncodeRouterLSABody(wire.RouterLSABody{Links: links})
	h.Length = uint16(wire.LSHeaderLen + len(body))
	h.Checksum = wire.LSAChecksum(h, body)
	db.Install(wire.LSA{Header: h, Body: body}, time.Now(), routerID == 0x01010101)
}

// TestComputeTwoRouterPointToPoint exercises spec.md §8 scenario 1: two
// routers directly connected point-to-point, each with one stub LAN.
func TestComputeTwoRouterPointToPoint(t *testing.T) {
	db := NewLSDB()
	const r1, r2 = uint32(0x01010101), uint32(0x02020202)

	installRouterLSA(t, db, r1, []wire.RouterLink{
		{ID: r2, Data: 0xC0000101, LinkType: 1, Metric: 10},                              // p2p to r2
		{ID: 0xC0A80000, Data: 0xFFFFFF00, LinkType: 3, Metric: 1},                        // stub 192.168.0.0/24
	})
	installRouterLSA(t, db, r2, []wire.RouterLink{
		{ID: r1, Data: 0xC0000102, LinkType: 1, Metric: 10},
		{ID: 0xC0A80100, Data: 0xFFFFFF00, LinkType: 3, Metric: 1}, // stub 192.168.1.0/24
	})

	lookup := func(linkData uint32) (int, netip.Addr, bool) {
		if linkData == 0 {
			return 0, netip.MustParseAddr("0.0.0.0"), true
		}
		ip := netip.AddrFrom4([4]byte{byte(linkData >> 24), byte(linkData >> 16), byte(linkData >> 8), byte(linkData)})
		return 1, ip, true
	}

	routes := Compute(db, r1, lookup)

	want := map[string]uint32{
		"192.168.1.0/24": 11, // via r2, metric 10 (link) + 1 (stub)
		"192.168.0.0/24": 1,  // directly connected stub
	}
	got := map[string]uint32{}
	for _, r := range routes {
		got[r.Prefix.String()] = r.Metric
		if r.Distance != types.DistanceOSPFIntra {
			t.Errorf("route %s: expected intra-area OSPF distance, got %d", r.Prefix, r.Distance)
		}
	}
	for prefix, metric := range want {
		gotMetric, ok := got[prefix]
		if !ok {
			t.Errorf("missing expected route for %s", prefix)
			continue
		}
		if gotMetric != metric {
			t.Errorf("route %s: expected metric %d, got %d", prefix, metric, gotMetric)
		}
	}
}

func TestComputeIgnoresMaxAgeLSAs(t *testing.T) {
	db := NewLSDB()
	const r1, r2 = uint32(0x01010101), uint32(0x02020202)
	installRouterLSA(t, db, r1, []wire.RouterLink{{ID: r2, Data: 1, LinkType: 1, Metric: 10}})

	h := wire.LSHeader{Type: wire.RouterLSA, LinkStateID: r2, AdvertisingRouter: r2, SequenceNumber: 1, Age: wire.MaxAge}
	body := wire.EncodeRouterLSABody(wire.RouterLSABody{Links: []wire.RouterLink{
		{ID: 0xC0A80100, Data: 0xFFFFFF00, LinkType: 3, Metric: 1},
	}})
	h.Length = uint16(wire.LSHeaderLen + len(body))
	h.Checksum = wire.LSAChecksum(h, body)
	db.entries[h.Identity()] = &Entry{Header: h, Body: body, InstalledAt: time.Now()}

	lookup := func(linkData uint32) (int, netip.Addr, bool) {
		return 1, netip.MustParseAddr("10.0.0.2"), true
	}
	routes := Compute(db, r1, lookup)
	for _, r := range routes {
		if r.Prefix.String() == "192.168.1.0/24" {
			t.Fatal("MaxAge LSA's stub network must not contribute a route")
		}
	}
}
