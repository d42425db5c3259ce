package ospf

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/netlab-emu/agent/internal/kernelrib"
	"github.com/netlab-emu/agent/internal/metrics"
	"github.com/netlab-emu/agent/internal/timerwheel"
	"github.com/netlab-emu/agent/internal/transport"
	"github.com/netlab-emu/agent/internal/types"
	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

// dbdChunk bounds how many LSA headers ride in one DBD packet; real MTU
// pacing is out of scope, but an unbounded single packet would never
// exercise the More-bit pagination spec.md §4.1 documents.
const dbdChunk = 32

// ifaceRuntime is the owning Process's runtime state for one configured
// interface: its static config, DR/BDR election state, neighbor table,
// and the per-interface Hello/Dead timer wheel. Grounded on the same
// arena-by-index shape types.Interface.Index documents, generalized from
// neighbor.go's single-neighbor Wheel field to one wheel shared by every
// neighbor on the segment plus the interface's own Hello ticker.
type ifaceRuntime struct {
	cfg   *types.Interface
	nic   *net.Interface
	state *InterfaceState
	wheel *timerwheel.Wheel

	mu        sync.Mutex
	neighbors map[uint32]*Neighbor // keyed by neighbor Router ID
}

// Process is the OSPF integration driver neighbor.go's buildDBSummary
// and restartInactivity doc comments describe as "the owning Area": it
// holds the raw socket, every configured interface's DR/BDR and
// neighbor state, the single backbone-area LSDB, and the SPF scheduler,
// and is the thing that actually drives Neighbor.Handle from decoded
// wire traffic. Grounded on the teacher's bgp/speaker.go Speaker for the
// accept/dispatch-loop shape (here: one shared multicast socket instead
// of per-peer TCP), generalized to OSPF's multi-neighbor-per-interface
// topology.
type Process struct {
	routerID uint32
	socket   *transport.Socket
	lsdb     *LSDB
	sched    *Scheduler
	rib      *kernelrib.RIB
	metrics  *metrics.Metrics
	log      func(format string, args ...any)

	mu      sync.Mutex
	ifaces  map[int]*ifaceRuntime // keyed by types.Interface.Index
	routes  map[netip.Prefix]types.RouteEntry
	lsaSeq  int32
}

// NewProcess creates a Process with no interfaces registered yet and an
// empty LSDB. The SPF scheduler is wired to runSPF so every LSDB
// mutation coalesces into at most one Dijkstra run per spf-hold (spec.md
// §4.3), matching spf_scheduler.go's documented contract.
func NewProcess(routerID uint32, socket *transport.Socket, rib *kernelrib.RIB, m *metrics.Metrics, log func(format string, args ...any)) *Process {
	p := &Process{
		routerID: routerID,
		socket:   socket,
		lsdb:     NewLSDB(),
		rib:      rib,
		metrics:  m,
		log:      log,
		ifaces:   make(map[int]*ifaceRuntime),
		routes:   make(map[netip.Prefix]types.RouteEntry),
		lsaSeq:   1,
	}
	p.sched = NewScheduler(p.lsdb, timerwheel.New(timerwheel.RealClock{}), DefaultSPFHold, p.runSPF)
	return p
}

// AddInterface registers cfg as an active OSPF interface, joins the
// AllSPFRouters multicast group on nic, and begins sending periodic
// Hellos. Loopback interfaces are registered for SPF purposes (their
// /32 becomes a stub route) but never join a multicast group or send
// Hello.
func (p *Process) AddInterface(cfg *types.Interface, nic *net.Interface) *ifaceRuntime {
	rt := &ifaceRuntime{
		cfg:       cfg,
		nic:       nic,
		state:     NewInterfaceState(cfg, types.Backbone),
		wheel:     timerwheel.New(timerwheel.RealClock{}),
		neighbors: make(map[uint32]*Neighbor),
	}
	p.mu.Lock()
	p.ifaces[cfg.Index] = rt
	p.mu.Unlock()

	if cfg.NetworkType == types.Loopback {
		p.regenerateRouterLSA()
		return rt
	}

	if p.socket != nil {
		if err := p.socket.JoinGroup(nic, net.ParseIP(wire.AllSPFRouters)); err != nil && p.log != nil {
			p.log("ospf: join AllSPFRouters on %s: %v", cfg.Name, err)
		}
	}
	rt.wheel.Start(timerwheel.Hello, cfg.HelloInterval, func() { p.sendHello(rt) })
	p.regenerateRouterLSA()
	return rt
}

// Run reads OSPF packets off the shared socket until ctx is cancelled,
// dispatching each to its arrival interface. Intended to run on its own
// goroutine, the same one-goroutine-per-listener shape bgp.Speaker.Start
// uses for its TCP listener.
func (p *Process) Run(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		pkt, err := p.socket.ReadFrom(ctx, buf)
		if err != nil {
			return err
		}
		p.handlePacket(pkt)
	}
}

func (p *Process) ifaceByIndex(idx int) *ifaceRuntime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ifaces[idx]
}

func (p *Process) handlePacket(pkt transport.Packet) {
	rt := p.ifaceByIndex(pkt.IfIndex)
	if rt == nil {
		return // arrived on an interface we don't run OSPF over
	}

	payload := pkt.Payload
	if rt.cfg.Tunnel != nil {
		_, inner, err := transport.Decapsulate(payload)
		if err != nil {
			return
		}
		payload = inner
	}

	if !wire.VerifyChecksum(payload) {
		return
	}
	h, body, err := wire.DecodeHeader(payload)
	if err != nil {
		return
	}
	if types.AreaID(h.AreaID) != types.Backbone {
		return // single-area implementation (spec.md §4.3)
	}

	srcAddr, _ := netip.AddrFromSlice(pkt.Src.To4())

	now := time.Now()
	switch h.Type {
	case wire.TypeHello:
		hello, err := wire.DecodeHello(body)
		if err == nil {
			p.handleHello(rt, h, hello, srcAddr, now)
		}
	case wire.TypeDBD:
		dbd, err := wire.DecodeDBD(body)
		if err == nil {
			p.handleDBD(rt, h, dbd, now)
		} else {
			p.forceExStart(rt, h.RouterID, now)
		}
	case wire.TypeLSR:
		reqs, err := wire.DecodeLSRequests(body)
		if err == nil {
			p.handleLSR(rt, h, reqs)
		} else {
			p.forceExStart(rt, h.RouterID, now)
		}
	case wire.TypeLSU:
		lsu, err := wire.DecodeLSU(body)
		if err == nil {
			p.handleLSU(rt, h, lsu, now)
		}
	case wire.TypeLSAck:
		ack, err := wire.DecodeLSAckBody(body)
		if err == nil {
			p.handleLSAck(rt, h, ack)
		} else {
			p.forceExStart(rt, h.RouterID, now)
		}
	}
}

// forceExStart raises BadLSReq against the neighbor that sent a
// malformed DBD, LSR, or LSAck: unlike Hello/LSU, where a bad PDU is
// simply dropped, spec.md §4.2 forces these three back to ExStart so
// the DD exchange restarts from a known-good state.
func (p *Process) forceExStart(rt *ifaceRuntime, routerID uint32, now time.Time) {
	n := p.neighborIfExists(rt, routerID)
	if n == nil {
		return
	}
	n.Handle(BadLSReq, p.routerID, true, now)
}

func (p *Process) neighborCallbacks(rt *ifaceRuntime) Callbacks {
	return Callbacks{
		SendDBD:               func(n *Neighbor) { p.sendDBD(rt, n, false) },
		SendLSR:               func(n *Neighbor) { p.sendLSR(rt, n) },
		RegenerateRouterLSA:   p.regenerateRouterLSA,
		RegenerateNetworkLSA:  func() { p.regenerateNetworkLSA(rt) },
		Log:                   p.log,
	}
}

func (p *Process) neighbor(rt *ifaceRuntime, routerID uint32, addr netip.Addr) *Neighbor {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n, ok := rt.neighbors[routerID]
	if !ok {
		n = NewNeighbor(rt.cfg.Index, routerID, addr, rt.wheel, p.neighborCallbacks(rt))
		rt.neighbors[routerID] = n
	}
	return n
}

// handleHello implements the Down/Init/2-Way portion of spec.md §4.2:
// every Hello restarts the neighbor's inactivity timer and, once the
// local router sees itself listed, raises TwoWayReceived (which itself
// decides, via InterfaceState.AdjacencyEligible, whether to promote the
// neighbor toward ExStart or leave it parked at 2-Way).
func (p *Process) handleHello(rt *ifaceRuntime, h wire.Header, hello wire.Hello, addr netip.Addr, now time.Time) {
	n := p.neighbor(rt, h.RouterID, addr)
	n.Priority = hello.RouterPriority
	n.NeighborDR = hello.DesignatedRouter
	n.NeighborBDR = hello.BackupDesignatedRouter

	n.Handle(HelloReceived, p.routerID, false, now)

	rt.wheel.Start(timerwheel.Dead+"-"+ridString(h.RouterID), rt.cfg.DeadInterval, func() {
		n.Handle(InactivityTimer, p.routerID, false, time.Now())
	})

	if changed := rt.state.Elect(p.routerID, localPriority(rt.cfg)); changed {
		p.regenerateRouterLSA()
		if rt.state.DR == p.routerID {
			p.regenerateNetworkLSA(rt)
		}
	}

	eligible := rt.state.AdjacencyEligible(p.routerID, h.RouterID)
	if hello.ListsRouter(p.routerID) {
		n.Handle(TwoWayReceived, p.routerID, eligible, now)
	} else {
		n.Handle(OneWayReceived, p.routerID, eligible, now)
	}
}

// localPriority reports this router's configured DR priority on rt;
// priority-0 interfaces never become DR/BDR (spec.md §4.2, RFC 2328
// §9.4). This implementation does not model a distinct per-interface
// priority field beyond NetworkType, so broadcast interfaces default to
// priority 1 and point-to-point/loopback links (which never elect a
// DR) report 0.
func localPriority(cfg *types.Interface) uint8 {
	if cfg.NetworkType == types.Broadcast {
		return 1
	}
	return 0
}

// handleDBD drives the ExStart negotiation and Exchange summary
// exchange (spec.md §4.2). Simplifications against full RFC 2328 §10.6:
// MTU mismatch is not checked, and the negotiated master/slave role is
// taken entirely from beginNegotiation's Router-ID comparison rather
// than re-validated against the peer's declared flags on every packet.
func (p *Process) handleDBD(rt *ifaceRuntime, h wire.Header, dbd wire.DBD, now time.Time) {
	n := p.neighborIfExists(rt, h.RouterID)
	if n == nil {
		return
	}
	switch n.State() {
	case ExStart:
		if dbd.Init() && dbd.More() && dbd.Master() && len(dbd.Headers) == 0 {
			n.mu.Lock()
			n.DDSequence = dbd.SequenceNumber
			n.mu.Unlock()
			n.Handle(NegotiationDone, p.routerID, true, now)
			p.sendDBD(rt, n, true)
		}
	case Exchange:
		p.ingestSummary(n, dbd)
		if !n.Master {
			n.mu.Lock()
			n.DDSequence++
			n.mu.Unlock()
			p.sendDBD(rt, n, true)
		}
		if !dbd.More() && len(n.DBSummaryList) == 0 {
			n.Handle(ExchangeDone, p.routerID, true, now)
		}
	default:
		// duplicate or stray DBD once past Exchange; RFC 2328 handles
		// retransmission/duplicate detection via DD sequence number,
		// elided here since neighbor.go's pure FSM has nowhere to record
		// the last-seen sequence outside DDSequence itself.
	}
}

func (p *Process) neighborIfExists(rt *ifaceRuntime, routerID uint32) *Neighbor {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.neighbors[routerID]
}

// ingestSummary compares every header the peer advertised against our
// LSDB, queuing anything we lack or hold an older copy of onto the
// neighbor's LSRequestList (spec.md §4.2 Exchange state).
func (p *Process) ingestSummary(n *Neighbor, dbd wire.DBD) {
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, hdr := range dbd.Headers {
		existing, ok := p.lsdb.Get(hdr.Identity())
		if !ok || wire.CompareFreshness(hdr, existing.headerNow(now)) > 0 {
			n.LSRequestList = append(n.LSRequestList, wire.LSR{
				Type:              hdr.Type,
				LinkStateID:       hdr.LinkStateID,
				AdvertisingRouter: hdr.AdvertisingRouter,
			})
		}
	}
}

// sendDBD transmits the next (or, if init, the first) DBD packet to n,
// draining up to dbdChunk headers from its DBSummaryList.
func (p *Process) sendDBD(rt *ifaceRuntime, n *Neighbor, initial bool) {
	n.mu.Lock()
	var flags uint8
	var headers []wire.LSHeader
	if initial && n.state == ExStart {
		flags = wire.FlagI | wire.FlagM
		if n.Master {
			flags |= wire.FlagMS
		}
	} else {
		chunk := n.DBSummaryList
		if len(chunk) > dbdChunk {
			chunk = chunk[:dbdChunk]
		}
		headers = chunk
		n.DBSummaryList = n.DBSummaryList[len(chunk):]
		if len(n.DBSummaryList) > 0 {
			flags |= wire.FlagM
		}
		if n.Master {
			flags |= wire.FlagMS
		}
	}
	seq := n.DDSequence
	addr := n.Address
	n.mu.Unlock()

	d := wire.DBD{MTU: uint16(rt.cfg.EffectiveMTU()), Flags: flags, SequenceNumber: seq, Headers: headers}
	p.send(rt, wire.TypeDBD, wire.EncodeDBD(d), addr)
}

// handleLSR answers a neighbor's LS Request with a direct (unicast) LSU
// carrying every requested LSA we actually hold (spec.md §4.2 Loading
// state); a request we cannot satisfy is silently dropped, matching
// RFC 2328's "BadLSReq" path which this minimal driver reports only
// through the neighbor's own FSM rather than a fine-grained retry.
func (p *Process) handleLSR(rt *ifaceRuntime, h wire.Header, reqs []wire.LSR) {
	n := p.neighborIfExists(rt, h.RouterID)
	if n == nil {
		return
	}
	var lsas []wire.LSA
	for _, r := range reqs {
		id := wire.Identity{Type: r.Type, LinkStateID: r.LinkStateID, AdvertisingRouter: r.AdvertisingRouter}
		e, ok := p.lsdb.Get(id)
		if !ok {
			continue
		}
		lsas = append(lsas, wire.LSA{Header: e.Header, Body: e.Body})
	}
	if len(lsas) == 0 {
		return
	}
	p.send(rt, wire.TypeLSU, wire.EncodeLSU(wire.LSU{LSAs: lsas}), n.Address)
}

// handleLSU is the flooding procedure's receive side (spec.md §4.2):
// each LSA is classified via LSDB.Decide, installed/acked/reflooded or
// bounced back as appropriate, and the SPF scheduler is notified of
// every mutation.
func (p *Process) handleLSU(rt *ifaceRuntime, h wire.Header, lsu wire.LSU, now time.Time) {
	n := p.neighborIfExists(rt, h.RouterID)
	if n == nil {
		return
	}
	var acked []wire.LSHeader
	for _, lsa := range lsu.LSAs {
		switch p.lsdb.Decide(lsa, now) {
		case InstallAckFlood:
			p.lsdb.Install(lsa, now, false)
			p.sched.NotifyMutation()
			if p.metrics != nil {
				p.metrics.LSDBSize.WithLabelValues("0.0.0.0").Set(float64(len(p.lsdb.Snapshot())))
			}
			n.mu.Lock()
			n.LSRequestList = removeLSR(n.LSRequestList, lsa.Identity())
			requestsLeft := len(n.LSRequestList)
			n.mu.Unlock()
			acked = append(acked, lsa.Header)
			p.reflood(rt, n, lsa, now)
			if n.State() == Loading && requestsLeft == 0 {
				n.Handle(LoadingDone, p.routerID, true, now)
			}
		case AckOnly:
			acked = append(acked, lsa.Header)
		case SendBackNewer:
			if e, ok := p.lsdb.Get(lsa.Identity()); ok {
				p.send(rt, wire.TypeLSU, wire.EncodeLSU(wire.LSU{LSAs: []wire.LSA{{Header: e.Header, Body: e.Body}}}), n.Address)
			}
		}
	}
	if len(acked) > 0 {
		p.send(rt, wire.TypeLSAck, wire.EncodeLSAck(wire.LSAck{Headers: acked}), n.Address)
	}
}

func removeLSR(list []wire.LSR, id wire.Identity) []wire.LSR {
	out := list[:0]
	for _, r := range list {
		if (wire.Identity{Type: r.Type, LinkStateID: r.LinkStateID, AdvertisingRouter: r.AdvertisingRouter}) != id {
			out = append(out, r)
		}
	}
	return out
}

// reflood forwards lsa to every other eligible neighbor (spec.md §4.2):
// state >= Exchange on every interface other than the arrival one, plus
// the DR split-horizon exception back onto the arrival broadcast
// segment.
func (p *Process) reflood(arrival *ifaceRuntime, from *Neighbor, lsa wire.LSA, now time.Time) {
	p.mu.Lock()
	ifaces := make([]*ifaceRuntime, 0, len(p.ifaces))
	for _, rt := range p.ifaces {
		ifaces = append(ifaces, rt)
	}
	p.mu.Unlock()

	for _, rt := range ifaces {
		rt.mu.Lock()
		var neighbors []*Neighbor
		for _, n := range rt.neighbors {
			neighbors = append(neighbors, n)
		}
		rt.mu.Unlock()

		if rt.cfg.Index == arrival.cfg.Index {
			if ShouldReFloodOnArrivalSegment(arrival.state.DR == p.routerID, arrival.cfg.NetworkType == types.Broadcast) {
				p.floodToSegment(rt, lsa)
			}
			continue
		}
		for _, n := range EligibleFloodTargets(neighbors, arrival.cfg.Index) {
			if n.RouterID == from.RouterID {
				continue
			}
			p.send(rt, wire.TypeLSU, wire.EncodeLSU(wire.LSU{LSAs: []wire.LSA{lsa}}), n.Address)
		}
	}
}

func (p *Process) floodToSegment(rt *ifaceRuntime, lsa wire.LSA) {
	if p.socket == nil {
		return
	}
	body := wire.EncodeLSU(wire.LSU{LSAs: []wire.LSA{lsa}})
	h := wire.Header{Version: 2, Type: wire.TypeLSU, RouterID: p.routerID, AreaID: uint32(types.Backbone)}
	frame := wire.EncodeHeader(h, body)
	if err := p.socket.SendTo(frame, net.ParseIP(wire.AllSPFRouters), rt.nic); err != nil && p.log != nil {
		p.log("ospf: flood to segment %s: %v", rt.cfg.Name, err)
	}
}

func (p *Process) handleLSAck(rt *ifaceRuntime, h wire.Header, ack wire.LSAck) {
	n := p.neighborIfExists(rt, h.RouterID)
	if n == nil {
		return
	}
	for _, hdr := range ack.Headers {
		p.lsdb.Ack(hdr.Identity(), rt.cfg.Index)
	}
}

func (p *Process) sendHello(rt *ifaceRuntime) {
	if p.socket == nil {
		return
	}
	rt.mu.Lock()
	var neighborIDs []uint32
	for id := range rt.neighbors {
		neighborIDs = append(neighborIDs, id)
	}
	rt.mu.Unlock()

	mask := uint32(0xFFFFFFFF) << (32 - rt.cfg.Primary.Bits())
	hello := wire.Hello{
		NetworkMask:            mask,
		HelloInterval:          uint16(rt.cfg.HelloInterval.Seconds()),
		RouterPriority:         localPriority(rt.cfg),
		RouterDeadInterval:     uint32(rt.cfg.DeadInterval.Seconds()),
		DesignatedRouter:       rt.state.DR,
		BackupDesignatedRouter: rt.state.BDR,
		Neighbors:              neighborIDs,
	}
	h := wire.Header{Version: 2, Type: wire.TypeHello, RouterID: p.routerID, AreaID: uint32(types.Backbone)}
	frame := wire.EncodeHeader(h, wire.EncodeHello(hello))
	dst := net.ParseIP(wire.AllSPFRouters)
	if rt.cfg.Tunnel != nil {
		dst = net.IP(rt.cfg.Tunnel.Dest.AsSlice())
		frame = encapsulateTunnel(rt.cfg.Tunnel, frame)
	}
	if err := p.socket.SendTo(frame, dst, rt.nic); err != nil && p.log != nil {
		p.log("ospf: send hello on %s: %v", rt.cfg.Name, err)
	}
}

func (p *Process) send(rt *ifaceRuntime, t wire.PacketType, body []byte, dst netip.Addr) {
	if p.socket == nil {
		return
	}
	h := wire.Header{Version: 2, Type: t, RouterID: p.routerID, AreaID: uint32(types.Backbone)}
	frame := wire.EncodeHeader(h, body)
	ip := net.IP(dst.AsSlice())
	if rt.cfg.Tunnel != nil {
		// A GRE tunnel is itself point-to-point: the encapsulated frame
		// always goes to the tunnel's remote endpoint regardless of the
		// OSPF-level destination (unicast neighbor or multicast group).
		ip = net.IP(rt.cfg.Tunnel.Dest.AsSlice())
		frame = encapsulateTunnel(rt.cfg.Tunnel, frame)
	}
	if err := p.socket.SendTo(frame, ip, rt.nic); err != nil && p.log != nil {
		p.log("ospf: send %v to %s: %v", t, dst, err)
	}
}

// encapsulateTunnel wraps an OSPF frame in a GRE header (RFC 2784/2890)
// for a tunnel-backed interface, carrying the tunnel's configured Key so
// multiple emulated point-to-point links can multiplex across one
// underlying socket (spec.md §6.1).
func encapsulateTunnel(tp *types.TunnelParams, frame []byte) []byte {
	gh := transport.Header{
		HasChecksum: tp.Keepalive > 0,
		HasKey:      tp.HasKey,
		HasSequence: tp.Keepalive > 0,
		Protocol:    transport.GREProtocolIPv4,
		Key:         tp.Key,
	}
	return transport.Encapsulate(gh, frame)
}

// regenerateRouterLSA rebuilds and installs this router's self-originated
// Router-LSA from every registered interface's current state (spec.md
// §4.2: "Each transition to Full or away from Full triggers
// regeneration"). Links: point-to-point interfaces contribute a type-1
// link to the Full neighbor, broadcast interfaces with an elected DR
// contribute a type-2 transit link (or a type-3 stub if no DR is
// elected yet), and loopback interfaces contribute a type-3 host stub.
func (p *Process) regenerateRouterLSA() {
	p.mu.Lock()
	ifaces := make([]*ifaceRuntime, 0, len(p.ifaces))
	for _, rt := range p.ifaces {
		ifaces = append(ifaces, rt)
	}
	p.mu.Unlock()

	var links []wire.RouterLink
	for _, rt := range ifaces {
		switch rt.cfg.NetworkType {
		case types.Loopback:
			links = append(links, wire.RouterLink{
				ID: addrUint32(rt.cfg.Primary.Addr()), Data: 0xFFFFFFFF, LinkType: 3, Metric: rt.cfg.Cost,
			})
		case types.PointToPoint:
			rt.mu.Lock()
			for _, n := range rt.neighbors {
				if n.State() == Full {
					links = append(links, wire.RouterLink{ID: n.RouterID, Data: addrUint32(rt.cfg.Primary.Addr()), LinkType: 1, Metric: rt.cfg.Cost})
				}
			}
			rt.mu.Unlock()
		case types.Broadcast:
			if rt.state.DR != 0 {
				links = append(links, wire.RouterLink{ID: rt.state.DR, Data: addrUint32(rt.cfg.Primary.Addr()), LinkType: 2, Metric: rt.cfg.Cost})
			} else {
				links = append(links, wire.RouterLink{ID: networkAddr(rt.cfg.Primary), Data: maskOf(rt.cfg.Primary), LinkType: 3, Metric: rt.cfg.Cost})
			}
		}
	}

	body := wire.EncodeRouterLSABody(wire.RouterLSABody{Links: links})
	p.lsaSeq++
	lsa := wire.LSA{
		Header: wire.LSHeader{Type: wire.RouterLSA, LinkStateID: p.routerID, AdvertisingRouter: p.routerID, SequenceNumber: p.lsaSeq},
		Body:   body,
	}
	now := time.Now()
	p.lsdb.Install(lsa, now, true)
	p.sched.NotifyMutation()
	p.floodSelfOriginated(lsa, now)
}

// regenerateNetworkLSA rebuilds the Network-LSA for rt, originated only
// while the local router is DR on that segment (spec.md §4.2).
func (p *Process) regenerateNetworkLSA(rt *ifaceRuntime) {
	if rt.state.DR != p.routerID {
		return
	}
	rt.mu.Lock()
	attached := []uint32{p.routerID}
	for _, n := range rt.neighbors {
		if n.State() == Full {
			attached = append(attached, n.RouterID)
		}
	}
	rt.mu.Unlock()

	body := wire.EncodeNetworkLSABody(wire.NetworkLSABody{NetworkMask: maskOf(rt.cfg.Primary), AttachedRouters: attached})
	p.lsaSeq++
	lsa := wire.LSA{
		Header: wire.LSHeader{Type: wire.NetworkLSA, LinkStateID: addrUint32(rt.cfg.Primary.Addr()), AdvertisingRouter: p.routerID, SequenceNumber: p.lsaSeq},
		Body:   body,
	}
	now := time.Now()
	p.lsdb.Install(lsa, now, true)
	p.sched.NotifyMutation()
	p.floodSelfOriginated(lsa, now)
}

func (p *Process) floodSelfOriginated(lsa wire.LSA, now time.Time) {
	p.mu.Lock()
	ifaces := make([]*ifaceRuntime, 0, len(p.ifaces))
	for _, rt := range p.ifaces {
		ifaces = append(ifaces, rt)
	}
	p.mu.Unlock()
	for _, rt := range ifaces {
		if rt.cfg.NetworkType == types.Loopback {
			continue
		}
		if rt.cfg.NetworkType == types.Broadcast {
			p.floodToSegment(rt, lsa)
			continue
		}
		rt.mu.Lock()
		var neighbors []*Neighbor
		for _, n := range rt.neighbors {
			neighbors = append(neighbors, n)
		}
		rt.mu.Unlock()
		for _, n := range neighbors {
			if n.State() >= Exchange {
				p.send(rt, wire.TypeLSU, wire.EncodeLSU(wire.LSU{LSAs: []wire.LSA{lsa}}), n.Address)
			}
		}
	}
}

// runSPF is the Scheduler's coalesced-run callback (spec.md §4.3): it
// recomputes the shortest-path tree, diffs the resulting route set
// against what was installed after the previous run, and pushes the
// delta into the kernel RIB (C10), withdrawing anything no longer
// reachable.
func (p *Process) runSPF() {
	entries := Compute(p.lsdb, p.routerID, p.resolveNextHop)
	if p.metrics != nil {
		p.metrics.SPFRunsTotal.Inc()
	}

	next := make(map[netip.Prefix]types.RouteEntry, len(entries))
	for _, e := range entries {
		next[e.Prefix] = e
	}

	p.mu.Lock()
	prev := p.routes
	p.routes = next
	p.mu.Unlock()

	for prefix, e := range next {
		if old, ok := prev[prefix]; !ok || old != e {
			if p.rib != nil {
				if err := p.rib.Replace(e); err != nil && p.log != nil {
					p.log("ospf: install route %s: %v", prefix, err)
				}
			}
		}
	}
	for prefix := range prev {
		if _, ok := next[prefix]; !ok && p.rib != nil {
			if err := p.rib.Del(prefix); err != nil && p.log != nil {
				p.log("ospf: withdraw route %s: %v", prefix, err)
			}
		}
	}
}

// Shutdown floods every self-originated LSA at MaxAge so neighbors purge
// this router's state immediately instead of waiting up to an hour for
// it to age out on its own. This implementation has no hitless-restart
// signaling, so flushing before the socket closes is the only way to
// avoid stale routes persisting elsewhere after the process exits. The
// caller (the supervisor, C11) closes the transport socket only after
// this returns.
func (p *Process) Shutdown() {
	for _, e := range p.lsdb.Snapshot() {
		if !e.SelfOriginated {
			continue
		}
		h := e.Header
		h.Age = wire.MaxAge
		h.SequenceNumber++
		h.Checksum = wire.LSAChecksum(h, e.Body)
		lsa := wire.LSA{Header: h, Body: e.Body}
		now := time.Now()
		p.lsdb.Install(lsa, now, true)
		p.floodSelfOriginated(lsa, now)
	}
}

// resolveNextHop maps an SPF first-hop's advertised link data (the
// neighbor's interface address on our segment, per RFC 2328 §16.1) to a
// local interface arena index and the next-hop address to forward
// through — here, the link data address itself, since this
// implementation does not model onward per-hop address translation.
func (p *Process) resolveNextHop(linkData uint32) (int, netip.Addr, bool) {
	if linkData == 0 {
		return 0, netip.Addr{}, false
	}
	nh := netip.AddrFrom4([4]byte{byte(linkData >> 24), byte(linkData >> 16), byte(linkData >> 8), byte(linkData)})
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rt := range p.ifaces {
		if rt.cfg.Primary.Contains(nh) {
			return rt.cfg.Index, nh, true
		}
	}
	return 0, netip.Addr{}, false
}

func addrUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func maskOf(p netip.Prefix) uint32 {
	bits := p.Bits()
	if bits <= 0 {
		return 0
	}
	return uint32(0xFFFFFFFF) << (32 - bits)
}

func networkAddr(p netip.Prefix) uint32 {
	return addrUint32(p.Masked().Addr())
}
