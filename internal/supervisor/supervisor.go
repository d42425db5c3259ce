// Package supervisor wires the loaded configuration (C... internal/config)
// into a running agent: it resolves declared interfaces, opens the BGP
// and OSPF transport sockets (C2), constructs and registers the BGP
// Speaker and OSPF Process, and owns the startup/shutdown sequencing
// spec.md §6.2 and §9 describe. It is the one package that imports both
// protocol cores; neither core imports the other, or this package.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/netlab-emu/agent/internal/bgp"
	"github.com/netlab-emu/agent/internal/config"
	"github.com/netlab-emu/agent/internal/errs"
	"github.com/netlab-emu/agent/internal/kernelrib"
	"github.com/netlab-emu/agent/internal/metrics"
	"github.com/netlab-emu/agent/internal/ospf"
	"github.com/netlab-emu/agent/internal/snapshot"
	"github.com/netlab-emu/agent/internal/transport"
	"github.com/netlab-emu/agent/internal/types"
)

// BGPBindAddr is the address the BGP listener binds on every interface;
// spec.md's in-scope deployment model is one agent per network
// namespace, so there is no need to bind per-interface.
const BGPBindAddr = "0.0.0.0"

// Agent holds every running component a successful Start produces. The
// zero value is not usable; construct one with New.
type Agent struct {
	cfg *config.Config
	log func(format string, args ...any)

	metrics *metrics.Metrics
	rib     *kernelrib.RIB

	bgpSpeaker *bgp.Speaker
	ospfProc   *ospf.Process
	ospfSocket *transport.Socket

	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// New builds the Agent's components from cfg but does not yet touch the
// network; call Start to raise interfaces, open sockets and begin
// running the protocol cores.
func New(cfg *config.Config, m *metrics.Metrics, log func(format string, args ...any)) *Agent {
	return &Agent{
		cfg:     cfg,
		log:     log,
		metrics: m,
		rib:     kernelrib.New(nil),
	}
}

// Start resolves every declared interface against the host's network
// stack, opens the OSPF raw socket and the BGP listener, constructs the
// Speaker and Process, registers every configured interface and peer,
// and begins the read loops. It does not block; the loops run until ctx
// is cancelled or Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	ifaces, err := a.resolveInterfaces()
	if err != nil {
		return err
	}

	a.bgpSpeaker = bgp.NewSpeaker(a.cfg.Router.LocalAS, a.cfg.Router.ID, a.metrics, a.log)
	for addrStr, peerCfg := range a.cfg.BGP.Peers {
		addr, perr := netip.ParseAddr(addrStr)
		if perr != nil {
			return errs.Config("bgp.peer["+addrStr+"] is not a valid address", perr)
		}
		a.bgpSpeaker.AddPeer(bgp.PeerConfig{
			Addr:             addr,
			RemoteAS:         peerCfg.RemoteAS,
			HoldTime:         time.Duration(peerCfg.HoldSeconds) * time.Second,
			ConnectRetryTime: time.Duration(peerCfg.ConnectRetrySeconds) * time.Second,
		})
	}

	a.loadSnapshot()

	sock, err := transport.NewOSPFv2Socket()
	if err != nil {
		return errs.Exhausted("open ospf socket", err)
	}
	a.ospfSocket = sock
	a.ospfProc = ospf.NewProcess(a.cfg.Router.ID, sock, a.rib, a.metrics, a.log)

	for _, rifc := range ifaces {
		a.ospfProc.AddInterface(rifc.iface, rifc.nic)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.bgpSpeaker.Start(runCtx, BGPBindAddr); err != nil {
		cancel()
		return errs.Exhausted("start bgp listener", err)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.ospfProc.Run(runCtx); err != nil && runCtx.Err() == nil && a.log != nil {
			a.log("ospf: run loop exited: %v", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.rib.RunRetryLoop(runCtx, time.Second)
	}()

	return nil
}

// Stop drains both protocol cores in the teardown order spec.md §9
// requires (signal peers/neighbors before tearing down the transport
// they're signaled over): BGP sends NOTIFICATION Cease/Administrative
// Shutdown to every Established peer, OSPF floods its self-originated
// LSAs at MaxAge, and only then are the underlying sockets closed.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	a.saveSnapshot()

	if a.bgpSpeaker != nil {
		a.bgpSpeaker.Stop()
	}
	if a.ospfProc != nil {
		a.ospfProc.Shutdown()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	if a.ospfSocket != nil {
		a.ospfSocket.Close()
	}
}

// loadSnapshot seeds the kernel RIB with the last-saved Loc-RIB so the
// host's forwarding table already carries a (possibly stale) route for
// every prefix BGP previously held, before the speaker has reconverged
// with any peer (spec.md §6.3's "faster cold-start convergence"). It
// never touches the BGP Loc-RIB itself: that structure is re-derived
// only from live Adj-RIB-In contributions. The speaker does not write to
// the kernel RIB, so a seeded entry stays installed until a later Add,
// Replace or Del for the same prefix from OSPF's SPF output changes it.
func (a *Agent) loadSnapshot() {
	if a.cfg.Snapshot.Path == "" {
		return
	}
	paths, ok := snapshot.Load(a.cfg.Snapshot.Path)
	if !ok {
		return
	}
	for _, p := range paths {
		if err := a.rib.Add(snapshotRouteEntry(p)); err != nil && a.log != nil {
			a.log("supervisor: seeding snapshot route for %s: %v", p.Prefix, err)
		}
	}
	if a.log != nil {
		a.log("supervisor: seeded %d route(s) from %s", len(paths), a.cfg.Snapshot.Path)
	}
}

// saveSnapshot persists the speaker's current Loc-RIB; failure is
// logged, not fatal, matching snapshot's own best-effort contract.
func (a *Agent) saveSnapshot() {
	if a.cfg.Snapshot.Path == "" || a.bgpSpeaker == nil {
		return
	}
	if err := snapshot.Save(a.cfg.Snapshot.Path, a.bgpSpeaker.LocRIBPaths()); err != nil && a.log != nil {
		a.log("supervisor: saving snapshot to %s: %v", a.cfg.Snapshot.Path, err)
	}
}

// snapshotRouteEntry converts a Loc-RIB Path into the provisional kernel
// RIB entry loadSnapshot installs; Interface is left unresolved (0).
// BGP never replaces the seeded entry, since the speaker does not write
// to the kernel RIB.
func snapshotRouteEntry(p bgp.Path) types.RouteEntry {
	distance := types.DistanceBGPExternal
	if !p.PeerIsExternal {
		distance = types.DistanceBGPInternal
	}
	asPath := make([]types.ASN, 0, len(p.ASPath))
	for _, seg := range p.ASPath {
		for _, asn := range seg.ASNs {
			asPath = append(asPath, types.ASN(asn))
		}
	}
	return types.RouteEntry{
		Prefix:   p.Prefix,
		Type:     types.BGPRoute,
		NextHop:  p.NextHop,
		Metric:   uint32(len(asPath)),
		ASPath:   asPath,
		Distance: distance,
	}
}

type resolvedInterface struct {
	iface *types.Interface
	nic   *net.Interface
}

// resolveInterfaces cross-references the flat interface[name] block
// against the per-area ospf.area[id].interface[name] overrides, builds
// one types.Interface per declared name, and resolves it to the host's
// net.Interface by name. Raising an administratively-down interface, or
// creating a GRE device from Tunnel params, is deployment/provisioning
// and out of this repo's scope; an interface absent from the host is a
// ConfigurationError, the same class cfg.Validate already uses for
// every other unresolvable reference.
func (a *Agent) resolveInterfaces() ([]resolvedInterface, error) {
	ospfByName := make(map[string]config.OSPFInterface)
	for _, area := range a.cfg.OSPF.Areas {
		for name, ifCfg := range area.Interfaces {
			ospfByName[name] = ifCfg
		}
	}

	out := make([]resolvedInterface, 0, len(a.cfg.Interfaces))
	index := 1
	for name, ifCfg := range a.cfg.Interfaces {
		nic, err := net.InterfaceByName(name)
		if err != nil {
			return nil, errs.Config("interface["+name+"] not found on host", err)
		}

		primary, addl, err := splitAddresses(ifCfg.Addresses)
		if err != nil {
			return nil, errs.Config("interface["+name+"].addresses", err)
		}

		t := &types.Interface{
			Name:          name,
			Primary:       primary,
			Additional:    addl,
			MTU:           ifCfg.MTU,
			AdminUp:       true,
			OperUp:        nic.Flags&net.FlagUp != 0,
			NetworkType:   types.PointToPoint,
			Cost:          10,
			HelloInterval: 10 * time.Second,
			DeadInterval:  40 * time.Second,
			Index:         index,
		}
		index++

		if ospfCfg, ok := ospfByName[name]; ok {
			nt, err := parseNetworkType(ospfCfg.NetworkType)
			if err != nil {
				return nil, errs.Config("interface["+name+"]", err)
			}
			t.NetworkType = nt
			if ospfCfg.Cost != 0 {
				t.Cost = ospfCfg.Cost
			}
			if ospfCfg.Hello != 0 {
				t.HelloInterval = time.Duration(ospfCfg.Hello) * time.Second
			}
			if ospfCfg.Dead != 0 {
				t.DeadInterval = time.Duration(ospfCfg.Dead) * time.Second
			}
		}

		if ifCfg.Tunnel != nil {
			src, serr := netip.ParseAddr(ifCfg.Tunnel.Src)
			dst, derr := netip.ParseAddr(ifCfg.Tunnel.Dst)
			if serr != nil || derr != nil {
				return nil, errs.Config("interface["+name+"].tunnel has an invalid src/dst address", nil)
			}
			t.Tunnel = &types.TunnelParams{
				Source:    src,
				Dest:      dst,
				Key:       ifCfg.Tunnel.Key,
				HasKey:    ifCfg.Tunnel.HasKey,
				Keepalive: time.Duration(ifCfg.Tunnel.Keepalive) * time.Second,
			}
		}

		out = append(out, resolvedInterface{iface: t, nic: nic})
	}
	return out, nil
}

// parseNetworkType maps config's lowercase network_type strings to
// types.NetworkType, defaulting to PointToPoint (spec.md §6.2's
// implicit default for an interface with no explicit override).
func parseNetworkType(s string) (types.NetworkType, error) {
	switch s {
	case "", "p2p":
		return types.PointToPoint, nil
	case "broadcast":
		return types.Broadcast, nil
	case "loopback":
		return types.Loopback, nil
	default:
		return 0, fmt.Errorf("unrecognized network_type %q", s)
	}
}

// splitAddresses parses a config interface's address list, the first
// entry becoming Primary (spec.md §3: every Interface has exactly one
// Primary address) and the rest Additional.
func splitAddresses(addrs []string) (primary netip.Prefix, additional []netip.Prefix, err error) {
	if len(addrs) == 0 {
		return netip.Prefix{}, nil, fmt.Errorf("no addresses declared")
	}
	primary, err = netip.ParsePrefix(addrs[0])
	if err != nil {
		return netip.Prefix{}, nil, err
	}
	for _, s := range addrs[1:] {
		p, perr := netip.ParsePrefix(s)
		if perr != nil {
			return netip.Prefix{}, nil, perr
		}
		additional = append(additional, p)
	}
	return primary, additional, nil
}
