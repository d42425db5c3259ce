package bgp

import (
	"context"
	"hash/fnv"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netlab-emu/agent/internal/metrics"
	"github.com/netlab-emu/agent/internal/timerwheel"
	"github.com/netlab-emu/agent/internal/transport"
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

// PeerConfig is one configured peer, decoded by the caller from
// internal/config's bgp.peer[addr] section.
type PeerConfig struct {
	Addr             netip.Addr
	RemoteAS         uint32
	HoldTime         time.Duration
	ConnectRetryTime time.Duration
	PassiveOnly      bool
	MRAI             time.Duration
}

// Speaker owns every configured peer's FSM/Peer pair, the listening
// socket inbound sessions arrive on, and the Loc-RIB decision-process
// pipeline each peer's Adj-RIB-In change triggers: the full protocol
// core spec.md §3/§4 describes, wired end to end. Grounded on the
// teacher's bgp/speaker.go Speaker (`fsm []*fsm`, a `listener()` method
// accepting on `net.Listen("tcp4", ...)`), generalized from a flat FSM
// slice serviced by one shared listener to a per-peer-address map plus
// the MRAI-paced UPDATE pipeline the teacher's Speaker never had to
// build (it logged decoded messages rather than redistributing them).
type Speaker struct {
	localAS    uint32
	localBGPID uint32

	mu    sync.Mutex
	peers map[netip.Addr]*peerEntry

	locRIB   *LocRIB
	metrics  *metrics.Metrics
	log      func(format string, args ...any)
	listener *transport.Listener
}

type peerEntry struct {
	peer *Peer
	cfg  PeerConfig
	mrai *MRAI

	mu          sync.Mutex
	remoteBGPID uint32 // learned from OPEN; 0 until first Established
}

// NewSpeaker creates a Speaker with no peers registered yet; call
// AddPeer once per configured bgp.peer[addr] entry before Run.
func NewSpeaker(localAS, localBGPID uint32, m *metrics.Metrics, log func(format string, args ...any)) *Speaker {
	return &Speaker{
		localAS:    localAS,
		localBGPID: localBGPID,
		peers:      make(map[netip.Addr]*peerEntry),
		locRIB:     NewLocRIB(),
		metrics:    m,
		log:        log,
	}
}

// AddPeer registers a configured peer's FSM, wiring Dial to
// transport.Dial and Established/Cleared to Loc-RIB registration and
// the decision-process re-run spec.md §4.4's teardown sequencing
// requires. It does not start the FSM; the supervisor (C11) calls
// Start once every peer is registered.
func (s *Speaker) AddPeer(pc PeerConfig) *Peer {
	wheel := timerwheel.New(timerwheel.RealClock{})
	entry := &peerEntry{cfg: pc, mrai: NewMRAI(pc.MRAI)}
	if pc.MRAI == 0 && pc.RemoteAS == s.localAS {
		entry.mrai.interval = 0 // iBGP peers default to no MRAI pacing
	}

	p := NewPeer(Config{
		LocalAS:          s.localAS,
		RemoteAS:         pc.RemoteAS,
		LocalBGPID:       s.localBGPID,
		PassiveOnly:      pc.PassiveOnly,
		HoldTime:         pc.HoldTime,
		ConnectRetryTime: pc.ConnectRetryTime,
	}, wheel, pc.Addr, func() { s.dial(pc.Addr) }, Callbacks{
		Established: func(remote wire.Open) { s.onEstablished(pc.Addr, remote) },
		Cleared:     func() { s.onCleared(pc.Addr) },
		Log:         s.log,
	})
	entry.peer = p

	s.mu.Lock()
	s.peers[pc.Addr] = entry
	s.mu.Unlock()
	s.locRIB.AddPeer(peerID(pc.Addr), p.AdjIn)
	return p
}

// peerID derives a LocRIB registry key from the configured peer
// address: this implementation has no RIB of learned BGP Identifiers
// before OPEN exchange, so the configured address doubles as the
// per-peer key (unique by construction, since spec.md §6.2 keys
// bgp.peer by address). It must not be confused with the peer's real,
// negotiated BGP Identifier (peerEntry.remoteBGPID), which is what
// split-horizon filtering in redistributeToPeer actually compares
// against.
func peerID(addr netip.Addr) uint32 {
	h := fnv.New32a()
	h.Write(addr.AsSlice())
	return h.Sum32()
}

// Start drives every registered peer's FSM out of Idle (RFC 4271's
// ManualStart) and begins listening for inbound sessions on bindAddr.
func (s *Speaker) Start(ctx context.Context, bindAddr string) error {
	l, err := transport.Listen("tcp", bindAddr)
	if err != nil {
		return err
	}
	s.listener = l

	s.mu.Lock()
	entries := make([]*peerEntry, 0, len(s.peers))
	for _, e := range s.peers {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.peer.FSM.Handle(ManualStart, time.Now())
	}

	go l.Serve(ctx, s.accept, func(err error) { s.log("bgp listener: %v", err) })
	return nil
}

// LocRIBPaths flattens the current Loc-RIB into a slice, the shape
// internal/snapshot persists across restarts for faster cold-start
// convergence (spec.md §6.3).
func (s *Speaker) LocRIBPaths() []Path {
	snapshot := s.locRIB.Snapshot()
	out := make([]Path, 0, len(snapshot))
	for _, p := range snapshot {
		out = append(out, p)
	}
	return out
}

// Stop sends a Cease/Administrative Shutdown NOTIFICATION to every
// Established peer and closes the listening socket, the drain the
// supervisor (C11) performs before exit.
func (s *Speaker) Stop() {
	s.mu.Lock()
	entries := make([]*peerEntry, 0, len(s.peers))
	for _, e := range s.peers {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.peer.FSM.Handle(ManualStop, time.Now())
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

// accept matches an inbound TCP connection to a configured peer by
// remote address and hands it to that peer's FSM/Run, the same
// dispatch-by-source-address the teacher's Speaker.listener performs
// before constructing a peer struct per accepted conn — this
// implementation instead looks up the pre-registered Peer so Dial-
// initiated and Accept-initiated connections for the same neighbor
// converge on one FSM, which RFC 4271 §6.8 collision resolution
// requires.
func (s *Speaker) accept(conn net.Conn) {
	remoteAddr, ok := netip.AddrFromSlice(conn.RemoteAddr().(*net.TCPAddr).IP)
	if !ok {
		conn.Close()
		return
	}
	remoteAddr = remoteAddr.Unmap()

	s.mu.Lock()
	entry, ok := s.peers[remoteAddr]
	s.mu.Unlock()
	if !ok {
		s.log("bgp: rejecting inbound connection from unconfigured peer %s", remoteAddr)
		conn.Close()
		return
	}

	entry.peer.FSM.Handle(TCPConnectionConfirmed, time.Now())
	if err := entry.peer.Run(conn); err != nil {
		s.log("bgp peer %s: session ended: %v", remoteAddr, err)
	}
}

// dial is the FSM's Dial callback for a non-PassiveOnly peer: it opens
// the outbound TCP connection and, on success, raises
// TCPConnectionSucceeded and runs the read loop; on failure it raises
// TCPConnectionFails so the FSM's own ConnectRetryTimer governs the
// next attempt rather than this goroutine retrying itself.
func (s *Speaker) dial(addr netip.Addr) {
	s.mu.Lock()
	entry, ok := s.peers[addr]
	s.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		conn, err := transport.Dial(context.Background(), net.IP(addr.AsSlice()))
		if err != nil {
			entry.peer.FSM.Handle(TCPConnectionFails, time.Now())
			return
		}
		entry.peer.FSM.Handle(TCPConnectionSucceeded, time.Now())
		if err := entry.peer.Run(conn); err != nil {
			s.log("bgp peer %s: session ended: %v", addr, err)
		}
	}()
}

// onEstablished registers the just-established peer's OnUpdate hook,
// which recomputes Loc-RIB for any prefix the UPDATE touched and
// redistributes the result to every other peer's Adj-RIB-Out.
func (s *Speaker) onEstablished(addr netip.Addr, remote wire.Open) {
	if s.metrics != nil {
		s.metrics.BGPFSMTransitionsTotal.WithLabelValues(addr.String(), "Established").Inc()
	}
	s.mu.Lock()
	entry := s.peers[addr]
	s.mu.Unlock()
	if entry == nil {
		return
	}
	entry.mu.Lock()
	entry.remoteBGPID = remote.BGPIdentifier
	entry.mu.Unlock()
	entry.peer.OnUpdate = func(_ *Peer, paths []Path, withdrawn []netip.Prefix) {
		s.onUpdate(addr, paths, withdrawn)
	}
}

// onCleared withdraws everything the departed peer contributed and
// redistributes the result (spec.md §4.4's teardown sequencing: a
// peer's Adj-RIB-In is cleared, Loc-RIB is recomputed, and any prefix
// that lost its only path is withdrawn from every remaining peer).
func (s *Speaker) onCleared(addr netip.Addr) {
	s.mu.Lock()
	entry := s.peers[addr]
	s.mu.Unlock()
	if entry == nil {
		return
	}
	prefixes := entry.peer.AdjIn.Clear()
	changed := s.locRIB.Recompute(prefixes)
	s.redistribute(changed)
}

func (s *Speaker) onUpdate(_ netip.Addr, paths []Path, withdrawn []netip.Prefix) {
	prefixes := make([]netip.Prefix, 0, len(paths)+len(withdrawn))
	for _, p := range paths {
		prefixes = append(prefixes, p.Prefix)
	}
	prefixes = append(prefixes, withdrawn...)
	changed := s.locRIB.Recompute(prefixes)
	s.redistribute(changed)
}

// redistribute re-derives each peer's advertised-state diff against
// the new Loc-RIB snapshot, paced by that peer's MRAI, and sends the
// resulting UPDATEs. A peer never receives back a path whose PeerID is
// its own (spec.md §9's BGP split-horizon).
func (s *Speaker) redistribute(changed []netip.Prefix) {
	if len(changed) == 0 {
		return
	}
	snapshot := s.locRIB.Snapshot()

	s.mu.Lock()
	entries := make([]*peerEntry, 0, len(s.peers))
	for _, e := range s.peers {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			s.redistributeToPeer(e, snapshot)
			return nil
		})
	}
	g.Wait()
}

func (s *Speaker) redistributeToPeer(e *peerEntry, snapshot map[netip.Prefix]Path) {
	e.mu.Lock()
	remoteBGPID := e.remoteBGPID
	e.mu.Unlock()

	peerIsExternal := e.cfg.RemoteAS != s.localAS

	desired := make(map[netip.Prefix]Path, len(snapshot))
	for prefix, p := range snapshot {
		if p.PeerID == remoteBGPID {
			continue
		}
		// spec.md §4.5 step 5: a route learned from an iBGP peer must
		// not be re-advertised to another iBGP peer (full-mesh iBGP;
		// no route reflection in scope).
		if !p.PeerIsExternal && !peerIsExternal {
			continue
		}
		desired[prefix] = p
	}

	announce, withdraw := e.peer.AdjOut.Diff(desired)
	now := time.Now()

	for _, p := range announce {
		if ok, _ := e.mrai.Allow(p.Prefix, now); !ok {
			continue
		}
		_, asn4 := e.peer.FSM.remoteOpen.ASN4()
		e.peer.SendUpdate(p.EncodeAnnounce(asn4))
		e.mrai.MarkSent(p.Prefix, now)
	}
	if len(withdraw) > 0 {
		e.peer.SendUpdate(EncodeWithdraw(withdraw))
	}
}
