package bgp

import (
	"encoding/binary"
	"net/netip"

	"github.com/netlab-emu/agent/internal/errs"
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

// Path is one candidate route for a prefix: the decoded path
// attributes plus the metadata the decision process needs (spec.md
// §4.5). It is the unit stored in Adj-RIB-In, compared against other
// Paths in Loc-RIB, and re-derived for Adj-RIB-Out.
type Path struct {
	Prefix netip.Prefix

	Origin      uint8
	ASPath      []wire.ASPathSegment
	NextHop     netip.Addr
	MED         uint32
	HasMED      bool
	LocalPref   uint32
	Communities []uint32

	// PeerID and PeerIsExternal identify where the path was learned,
	// used for the eBGP-over-iBGP decision tie-break (spec.md §4.5 step
	// e) and to exclude a peer's own advertisement from being
	// re-readvertised back to it (spec.md §9: "split-horizon applies to
	// BGP just as it does to OSPF flooding").
	PeerID         uint32
	PeerIsExternal bool
	PeerAddress    netip.Addr

	// IGPMetric is the local route's cost to NextHop, used for the IGP
	// metric tie-break (spec.md §4.5 step f); resolved by the caller
	// from the kernel/OSPF RIB, not by this package.
	IGPMetric uint32
}

// FromUpdate builds one Path per NLRI entry from a decoded UPDATE,
// using asn4 to select the AS_PATH attribute width and applying the
// default LOCAL_PREF when the attribute (iBGP-only) is absent.
func FromUpdate(u wire.Update, peerID uint32, peerIsExternal bool, peerAddr netip.Addr, asn4 bool, defaultLocalPref, localAS uint32) ([]Path, error) {
	var origin uint8
	if raw, ok := u.Attr(wire.AttrOrigin); ok {
		o, err := wire.DecodeOrigin(raw)
		if err != nil {
			return nil, err
		}
		origin = o
	}

	var asPath []wire.ASPathSegment
	if raw, ok := u.Attr(wire.AttrASPath); ok {
		segs, err := wire.DecodeASPath(raw, asn4)
		if err != nil {
			return nil, err
		}
		asPath = segs
	}
	// spec.md §4.5 step 2: a route received from an eBGP peer whose
	// AS_PATH already carries our own AS is a loop and must be rejected,
	// not merely deprioritized.
	if peerIsExternal && wire.ContainsAS(asPath, localAS) {
		return nil, errs.Violation("AS_PATH contains local AS: routing loop")
	}

	var nextHop netip.Addr
	if raw, ok := u.Attr(wire.AttrNextHop); ok {
		nh, err := wire.DecodeNextHop(raw)
		if err != nil {
			return nil, err
		}
		nextHop = nh
	}

	var med uint32
	hasMED := false
	if raw, ok := u.Attr(wire.AttrMED); ok {
		m, err := wire.DecodeUint32Attr(raw)
		if err != nil {
			return nil, err
		}
		med, hasMED = m, true
	}

	localPref := defaultLocalPref
	if raw, ok := u.Attr(wire.AttrLocalPref); ok {
		lp, err := wire.DecodeUint32Attr(raw)
		if err != nil {
			return nil, err
		}
		localPref = lp
	}

	var communities []uint32
	if raw, ok := u.Attr(wire.AttrCommunities); ok {
		c, err := wire.DecodeCommunities(raw)
		if err != nil {
			return nil, err
		}
		communities = c
	}

	base := Path{
		Origin: origin, ASPath: asPath, NextHop: nextHop, MED: med, HasMED: hasMED,
		LocalPref: localPref, Communities: communities,
		PeerID: peerID, PeerIsExternal: peerIsExternal, PeerAddress: peerAddr,
	}

	var paths []Path
	for _, p := range u.NLRI {
		cp := base
		cp.Prefix = p
		paths = append(paths, cp)
	}

	if raw, ok := u.Attr(wire.AttrMPReachNLRI); ok {
		mp, err := wire.DecodeMPReach(raw)
		if err != nil {
			return nil, err
		}
		mpBase := base
		mpBase.NextHop = mp.NextHop.Global
		for _, p := range mp.NLRI {
			cp := mpBase
			cp.Prefix = p
			paths = append(paths, cp)
		}
	}

	return paths, nil
}

// EncodeAnnounce builds a complete UPDATE message body (everything
// after the 19-octet header) announcing a single path. One UPDATE per
// path keeps attribute construction simple at the cost of batching
// NLRI that share an attribute set into separate messages; spec.md
// §4.5 never requires the batched form, only that the Adj-RIB-Out
// delta be advertised.
func (p Path) EncodeAnnounce(asn4 bool) []byte {
	var attrs []byte
	attrs = append(attrs, wire.EncodeOrigin(p.Origin)...)
	attrs = append(attrs, wire.EncodeASPath(p.ASPath, wire.AttrASPath, asn4)...)

	var nlri []byte
	v6 := p.Prefix.Addr().Is6()
	if v6 {
		attrs = append(attrs, wire.EncodeMPReach(wire.MPReach{
			AFI:     wire.AFIIPv6,
			SAFI:    wire.SAFIUnicast,
			NextHop: wire.MPNextHop{Global: p.NextHop},
			NLRI:    []netip.Prefix{p.Prefix},
		})...)
	} else {
		attrs = append(attrs, wire.EncodeNextHop(p.NextHop)...)
		nlri = wire.EncodeNLRI(p.Prefix)
	}

	if p.HasMED {
		attrs = append(attrs, wire.EncodeMED(p.MED)...)
	}
	attrs = append(attrs, wire.EncodeLocalPref(p.LocalPref)...)
	if len(p.Communities) > 0 {
		attrs = append(attrs, wire.EncodeCommunities(p.Communities)...)
	}

	withdrawnLen := make([]byte, 2)
	attrLen := make([]byte, 2)
	binary.BigEndian.PutUint16(attrLen, uint16(len(attrs)))

	buf := make([]byte, 0, 4+len(attrs)+len(nlri))
	buf = append(buf, withdrawnLen...)
	buf = append(buf, attrLen...)
	buf = append(buf, attrs...)
	buf = append(buf, nlri...)
	return buf
}

// EncodeWithdraw builds a complete UPDATE message body withdrawing
// prefixes, split by address family since IPv4 uses the legacy
// WITHDRAWN_ROUTES field and IPv6 uses MP_UNREACH_NLRI (spec.md §4.1,
// §6.1). Mixed-family input is supported; the caller need not split it.
func EncodeWithdraw(prefixes []netip.Prefix) []byte {
	var v4, v6 []netip.Prefix
	for _, p := range prefixes {
		if p.Addr().Is6() {
			v6 = append(v6, p)
		} else {
			v4 = append(v4, p)
		}
	}

	var withdrawn []byte
	for _, p := range v4 {
		withdrawn = append(withdrawn, wire.EncodeNLRI(p)...)
	}

	var attrs []byte
	if len(v6) > 0 {
		attrs = append(attrs, wire.EncodeMPUnreach(wire.MPUnreach{
			AFI: wire.AFIIPv6, SAFI: wire.SAFIUnicast, NLRI: v6,
		})...)
	}

	withdrawnLen := make([]byte, 2)
	binary.BigEndian.PutUint16(withdrawnLen, uint16(len(withdrawn)))
	attrLen := make([]byte, 2)
	binary.BigEndian.PutUint16(attrLen, uint16(len(attrs)))

	buf := make([]byte, 0, 4+len(withdrawn)+len(attrs))
	buf = append(buf, withdrawnLen...)
	buf = append(buf, withdrawn...)
	buf = append(buf, attrLen...)
	buf = append(buf, attrs...)
	return buf
}

// WithdrawnPrefixes extracts the legacy WITHDRAWN_ROUTES and (if
// present) MP_UNREACH_NLRI prefixes from an UPDATE.
func WithdrawnPrefixes(u wire.Update) ([]netip.Prefix, error) {
	out := append([]netip.Prefix(nil), u.WithdrawnRoutes...)
	if raw, ok := u.Attr(wire.AttrMPUnreachNLRI); ok {
		mu, err := wire.DecodeMPUnreach(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, mu.NLRI...)
	}
	return out, nil
}
