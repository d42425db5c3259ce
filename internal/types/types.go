// Package types holds the identity and data-model values shared between
// the OSPF and BGP stacks: router identity, interfaces, and routing
// table entries (spec.md §3).
package types

import (
	"net/netip"
	"time"
)

// RouterID is a 32-bit value, conventionally printed as a dotted quad,
// stable for the process lifetime. Changing it is equivalent to restart.
type RouterID uint32

func (r RouterID) String() string {
	return netip.AddrFrom4([4]byte{byte(r >> 24), byte(r >> 16), byte(r >> 8), byte(r)}).String()
}

// AreaID is a 32-bit OSPF area identifier. This implementation fixes a
// single backbone area, 0.0.0.0.
type AreaID uint32

// Backbone is the only area this implementation supports (spec.md §4.3).
const Backbone AreaID = 0

// ASN is a BGP Autonomous System Number, 16- or 32-bit (spec.md §3, §6.1
// RFC 6793 4-octet ASN support).
type ASN uint32

// ASTrans is the placeholder 2-octet ASN advertised in OPEN when the
// real ASN exceeds 16 bits (RFC 6793).
const ASTrans ASN = 23456

// NetworkType classifies an interface's OSPF link behavior.
type NetworkType int

const (
	PointToPoint NetworkType = iota
	Broadcast
	Loopback
)

// TunnelParams configures a GRE tunnel interface (spec.md §3, §6.1).
type TunnelParams struct {
	Source    netip.Addr
	Dest      netip.Addr
	Key       uint32
	HasKey    bool
	Keepalive time.Duration
}

// Interface is the data model of spec.md §3's "Interface" entity.
type Interface struct {
	Name string

	Primary   netip.Prefix
	Additional []netip.Prefix

	V6LinkLocal netip.Prefix
	V6Global    []netip.Prefix

	MTU int

	AdminUp bool
	OperUp  bool

	NetworkType NetworkType
	Cost        uint16

	HelloInterval time.Duration
	DeadInterval  time.Duration

	Tunnel *TunnelParams

	// Index is a stable arena handle (spec.md §9: cyclic graphs become
	// arena + integer handles). Interfaces, Neighbors and Areas are kept
	// in slab-like containers and referred to by this index rather than
	// by pointer.
	Index int
}

// EffectiveMTU returns the interface's usable MTU after subtracting GRE
// encapsulation overhead when the interface is a tunnel (spec.md §6.1:
// 24 octets base, up to 36 with all options).
func (i *Interface) EffectiveMTU() int {
	if i.Tunnel == nil {
		return i.MTU
	}
	overhead := 24
	if i.Tunnel.HasKey {
		overhead += 4
	}
	if i.Tunnel.Keepalive > 0 {
		overhead += 8 // checksum (RFC 2784) and sequence number (RFC 2890) fields
	}
	return i.MTU - overhead
}

// RouteType classifies a routing table entry's origin (spec.md §3).
type RouteType int

const (
	IntraArea RouteType = iota
	InterArea
	External1
	External2
	BGPRoute
)

// Administrative distances, spec.md §5.
const (
	DistanceOSPFIntra  = 110
	DistanceBGPExternal = 20
	DistanceBGPInternal = 200
)

// RouteEntry is spec.md §3's "Routing table entry".
type RouteEntry struct {
	Prefix    netip.Prefix
	Type      RouteType
	NextHop   netip.Addr
	Interface int // arena index into the owning Interface table
	Metric    uint32
	ASPath    []ASN // only meaningful for RouteType == BGPRoute
	Distance  int
}
