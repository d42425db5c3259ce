package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/netlab-emu/agent/internal/kernelrib"
	"github.com/netlab-emu/agent/internal/transport"
	"github.com/netlab-emu/agent/internal/types"
	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

func noopLog(string, ...any) {}

func testInterface(index int, networkType types.NetworkType, prefix string) *types.Interface {
	return &types.Interface{
		Name:          "eth0",
		Index:         index,
		NetworkType:   networkType,
		Primary:       netip.MustParsePrefix(prefix),
		Cost:          10,
		HelloInterval: 10 * time.Second,
		DeadInterval:  40 * time.Second,
		MTU:           1500,
	}
}

func TestRegenerateRouterLSALoopbackStub(t *testing.T) {
	p := NewProcess(1, nil, nil, nil, noopLog)
	cfg := testInterface(0, types.Loopback, "10.0.0.1/32")
	p.AddInterface(cfg, nil)

	e, ok := p.lsdb.Get(wire.Identity{Type: wire.RouterLSA, LinkStateID: 1, AdvertisingRouter: 1})
	if !ok {
		t.Fatal("expected a self-originated Router-LSA after adding a loopback interface")
	}
	body, err := wire.DecodeRouterLSABody(e.Body)
	if err != nil {
		t.Fatalf("decode router LSA body: %v", err)
	}
	if len(body.Links) != 1 || body.Links[0].LinkType != 3 {
		t.Fatalf("expected one stub link for the loopback, got %+v", body.Links)
	}
}

func TestHandleHelloPromotesPointToPointNeighborToExStart(t *testing.T) {
	p := NewProcess(1, nil, nil, nil, noopLog)
	cfg := testInterface(0, types.PointToPoint, "192.0.2.1/30")
	rt := p.AddInterface(cfg, nil)

	neighborAddr := netip.MustParseAddr("192.0.2.2")
	h := wire.Header{RouterID: 2}

	// First Hello does not list us: Down -> Init only.
	p.handleHello(rt, h, wire.Hello{}, neighborAddr, time.Now())
	n := p.neighborIfExists(rt, 2)
	if n == nil || n.State() != Init {
		t.Fatalf("expected Init after a Hello that doesn't list us, got %v", n)
	}

	// Second Hello lists us: point-to-point is always adjacency-eligible,
	// so this drives Init -> 2-Way -> ExStart in one Handle call.
	p.handleHello(rt, h, wire.Hello{Neighbors: []uint32{1}}, neighborAddr, time.Now())
	if n.State() != ExStart {
		t.Fatalf("expected ExStart once the Hello lists us, got %s", n.State())
	}
}

func TestHandleHelloElectsDRAndRegeneratesNetworkLSA(t *testing.T) {
	p := NewProcess(3, nil, nil, nil, noopLog)
	cfg := testInterface(0, types.Broadcast, "198.51.100.1/24")
	rt := p.AddInterface(cfg, nil)

	// Only candidate is the local router (priority 1 for Broadcast
	// interfaces, per localPriority); it must elect itself DR once it
	// sees a 2-Way neighbor triggering re-election.
	h := wire.Header{RouterID: 4}
	p.handleHello(rt, h, wire.Hello{Neighbors: []uint32{3}, RouterPriority: 1}, netip.MustParseAddr("198.51.100.2"), time.Now())

	if rt.state.DR != 3 {
		t.Fatalf("expected local router (highest/only priority-1 candidate) elected DR, got %d", rt.state.DR)
	}
	if _, ok := p.lsdb.Get(wire.Identity{Type: wire.NetworkLSA, LinkStateID: addrUint32(cfg.Primary.Addr()), AdvertisingRouter: 3}); !ok {
		t.Fatal("expected a Network-LSA once the local router became DR")
	}
}

func TestHandleLSUInstallsAndTriggersSPF(t *testing.T) {
	p := NewProcess(1, nil, kernelrib.New(nil), nil, noopLog)
	cfg := testInterface(0, types.PointToPoint, "192.0.2.1/30")
	rt := p.AddInterface(cfg, nil)

	neighborAddr := netip.MustParseAddr("192.0.2.2")
	helloHdr := wire.Header{RouterID: 2}
	p.handleHello(rt, helloHdr, wire.Hello{Neighbors: []uint32{1}}, neighborAddr, time.Now())
	n := p.neighborIfExists(rt, 2)
	if n == nil {
		t.Fatal("expected neighbor to exist after Hello")
	}

	// A Router-LSA from neighbor 2 describing a stub network reachable
	// at cost 5, arriving over an LSU the way a Full-adjacency flood
	// would deliver it.
	body := wire.EncodeRouterLSABody(wire.RouterLSABody{
		Links: []wire.RouterLink{
			{ID: 0xC6336400, Data: 0xFFFFFF00, LinkType: 3, Metric: 5}, // 198.51.100.0/24
		},
	})
	lsa := wire.LSA{Header: wire.LSHeader{Type: wire.RouterLSA, LinkStateID: 2, AdvertisingRouter: 2, SequenceNumber: 1}}
	lsa.Header.Length = uint16(wire.LSHeaderLen + len(body))
	lsa.Header.Checksum = wire.LSAChecksum(lsa.Header, body)
	lsa.Body = body

	p.handleLSU(rt, helloHdr, wire.LSU{LSAs: []wire.LSA{lsa}}, time.Now())

	if _, ok := p.lsdb.Get(lsa.Identity()); !ok {
		t.Fatal("expected the received Router-LSA to be installed")
	}

	// runSPF only reaches the neighbor's stub via a first-hop edge out of
	// our own Router-LSA; since no adjacency reached Full here, our own
	// Router-LSA carries no link to router 2, so the stub is unreachable.
	// This confirms runSPF executes without panicking even when nothing
	// new becomes reachable.
	p.runSPF()
}

func TestHandlePacketForcesExStartOnMalformedDBD(t *testing.T) {
	p := NewProcess(1, nil, nil, nil, noopLog)
	cfg := testInterface(0, types.PointToPoint, "192.0.2.1/30")
	rt := p.AddInterface(cfg, nil)

	neighborAddr := netip.MustParseAddr("192.0.2.2")
	helloHdr := wire.Header{RouterID: 2}
	p.handleHello(rt, helloHdr, wire.Hello{Neighbors: []uint32{1}}, neighborAddr, time.Now())
	n := p.neighborIfExists(rt, 2)
	if n == nil || n.State() != ExStart {
		t.Fatalf("expected ExStart after Hello, got %v", n)
	}
	n.Handle(NegotiationDone, p.routerID, true, time.Now())
	if n.State() != Exchange {
		t.Fatalf("expected Exchange before the malformed DBD, got %s", n.State())
	}

	// A DBD body shorter than the mandatory 8 octets.
	raw := wire.EncodeHeader(wire.Header{Version: 2, Type: wire.TypeDBD, RouterID: 2}, []byte{0, 0, 0})
	p.handlePacket(transport.Packet{Payload: raw, Src: neighborAddr.AsSlice(), IfIndex: 0})

	if n.State() != ExStart {
		t.Fatalf("expected a malformed DBD to force the neighbor back to ExStart, got %s", n.State())
	}
}

func TestHandlePacketDecapsulatesTunneledFrame(t *testing.T) {
	p := NewProcess(1, nil, nil, nil, noopLog)
	cfg := testInterface(0, types.PointToPoint, "192.0.2.1/30")
	cfg.Tunnel = &types.TunnelParams{
		Source: netip.MustParseAddr("192.0.2.1"),
		Dest:   netip.MustParseAddr("192.0.2.2"),
		Key:    7,
		HasKey: true,
	}
	rt := p.AddInterface(cfg, nil)

	hello := wire.EncodeHello(wire.Hello{Neighbors: []uint32{1}})
	frame := wire.EncodeHeader(wire.Header{Version: 2, Type: wire.TypeHello, RouterID: 2}, hello)
	wrapped := encapsulateTunnel(cfg.Tunnel, frame)

	p.handlePacket(transport.Packet{Payload: wrapped, Src: netip.MustParseAddr("192.0.2.2").AsSlice(), IfIndex: 0})

	n := p.neighborIfExists(rt, 2)
	if n == nil {
		t.Fatal("expected a neighbor to be learned from the decapsulated Hello")
	}
}

func TestRemoveLSRDropsOnlyMatchingEntry(t *testing.T) {
	list := []wire.LSR{
		{Type: wire.RouterLSA, LinkStateID: 1, AdvertisingRouter: 1},
		{Type: wire.RouterLSA, LinkStateID: 2, AdvertisingRouter: 2},
	}
	out := removeLSR(list, wire.Identity{Type: wire.RouterLSA, LinkStateID: 1, AdvertisingRouter: 1})
	if len(out) != 1 || out[0].LinkStateID != 2 {
		t.Fatalf("expected only the matching entry removed, got %+v", out)
	}
}
