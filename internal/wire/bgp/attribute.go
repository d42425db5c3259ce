package bgp

import (
	"encoding/binary"
	"net/netip"

	"github.com/netlab-emu/agent/internal/errs"
)

// Attribute flag bits (spec.md §4.1/§9).
const (
	FlagOptional       = 0x80
	FlagTransitive     = 0x40
	FlagPartial        = 0x20
	FlagExtendedLength = 0x10
)

// Well-known path attribute type codes (spec.md §3, §4.1, §6.1).
const (
	AttrOrigin          = 1
	AttrASPath          = 2
	AttrNextHop         = 3
	AttrMED             = 4
	AttrLocalPref       = 5
	AttrAtomicAggregate = 6
	AttrAggregator      = 7
	AttrCommunities     = 8
	AttrMPReachNLRI     = 14
	AttrMPUnreachNLRI   = 15
	AttrAS4Path         = 17
	AttrAS4Aggregator   = 18
)

// Origin codes (spec.md §4.5 decision process step c).
const (
	OriginIGP        = 0
	OriginEGP        = 1
	OriginIncomplete = 2
)

// AS_PATH segment types.
const (
	ASSet      = 1
	ASSequence = 2
)

// RawAttribute is the generic wire form: flags, type, and value bytes.
// Every typed attribute below round-trips through this shape; unknown
// (to this implementation) attribute types are kept as RawAttribute
// verbatim so they can be transparently re-advertised when
// Partial+Transitive, per RFC 4271 and spec.md §9.
type RawAttribute struct {
	Flags uint8
	Type  uint8
	Value []byte
}

func encodeRaw(a RawAttribute) []byte {
	flags := a.Flags
	var lenBytes []byte
	if len(a.Value) > 255 {
		flags |= FlagExtendedLength
		lenBytes = make([]byte, 2)
		binary.BigEndian.PutUint16(lenBytes, uint16(len(a.Value)))
	} else {
		flags &^= FlagExtendedLength
		lenBytes = []byte{byte(len(a.Value))}
	}
	buf := make([]byte, 0, 2+len(lenBytes)+len(a.Value))
	buf = append(buf, flags, a.Type)
	buf = append(buf, lenBytes...)
	buf = append(buf, a.Value...)
	return buf
}

// DecodeAttributes parses the full path attribute list of an UPDATE
// message into RawAttribute values; typed decode happens one level up
// via the Decode* helpers below, since interpreting an attribute
// correctly sometimes depends on other attributes (e.g. AS4_PATH merge).
func DecodeAttributes(buf []byte) ([]RawAttribute, error) {
	var out []RawAttribute
	for len(buf) > 0 {
		if len(buf) < 3 {
			return nil, errs.Malformed(0, "truncated path attribute")
		}
		flags := buf[0]
		atype := buf[1]
		var length int
		var header int
		if flags&FlagExtendedLength != 0 {
			if len(buf) < 4 {
				return nil, errs.Malformed(0, "truncated extended-length attribute")
			}
			length = int(binary.BigEndian.Uint16(buf[2:4]))
			header = 4
		} else {
			length = int(buf[2])
			header = 3
		}
		if len(buf) < header+length {
			return nil, errs.Malformed(header, "attribute length exceeds buffer")
		}
		out = append(out, RawAttribute{Flags: flags, Type: atype, Value: buf[header : header+length]})
		buf = buf[header+length:]
	}
	return out, nil
}

func EncodeOrigin(origin uint8) []byte {
	return encodeRaw(RawAttribute{Flags: FlagTransitive, Type: AttrOrigin, Value: []byte{origin}})
}

func DecodeOrigin(raw RawAttribute) (uint8, error) {
	if len(raw.Value) != 1 {
		return 0, errs.Violation("ORIGIN attribute must be 1 octet")
	}
	if raw.Value[0] > OriginIncomplete {
		return 0, errs.Violation("invalid ORIGIN value")
	}
	return raw.Value[0], nil
}

// ASPathSegment is one AS_SET or AS_SEQUENCE segment.
type ASPathSegment struct {
	Type uint8
	ASNs []uint32
}

// EncodeASPath serializes AS_PATH using 4-octet ASNs when asn4 is true
// (RFC 6793), else legacy 2-octet ASNs.
func EncodeASPath(segments []ASPathSegment, attrType uint8, asn4 bool) []byte {
	var value []byte
	width := 2
	if asn4 {
		width = 4
	}
	for _, seg := range segments {
		value = append(value, seg.Type, byte(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			b := make([]byte, width)
			if asn4 {
				binary.BigEndian.PutUint32(b, asn)
			} else {
				binary.BigEndian.PutUint16(b, uint16(asn))
			}
			value = append(value, b...)
		}
	}
	return encodeRaw(RawAttribute{Flags: FlagTransitive, Type: attrType, Value: value})
}

func DecodeASPath(raw RawAttribute, asn4 bool) ([]ASPathSegment, error) {
	width := 2
	if asn4 {
		width = 4
	}
	buf := raw.Value
	var segs []ASPathSegment
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, errs.Malformed(0, "truncated AS_PATH segment")
		}
		segType := buf[0]
		count := int(buf[1])
		need := 2 + count*width
		if len(buf) < need {
			return nil, errs.Malformed(2, "AS_PATH segment shorter than declared count")
		}
		seg := ASPathSegment{Type: segType}
		for i := 0; i < count; i++ {
			o := 2 + i*width
			if asn4 {
				seg.ASNs = append(seg.ASNs, binary.BigEndian.Uint32(buf[o:o+4]))
			} else {
				seg.ASNs = append(seg.ASNs, uint32(binary.BigEndian.Uint16(buf[o:o+2])))
			}
		}
		segs = append(segs, seg)
		buf = buf[need:]
	}
	return segs, nil
}

// PathLength implements the "AS_SET counts as 1" rule of spec.md §4.5b.
func PathLength(segments []ASPathSegment) int {
	n := 0
	for _, s := range segments {
		if s.Type == ASSet {
			n++
		} else {
			n += len(s.ASNs)
		}
	}
	return n
}

// ContainsAS reports whether asn appears anywhere in the path, used for
// the eBGP loop check of spec.md §4.5 step 2.
func ContainsAS(segments []ASPathSegment, asn uint32) bool {
	for _, s := range segments {
		for _, a := range s.ASNs {
			if a == asn {
				return true
			}
		}
	}
	return false
}

func EncodeNextHop(addr netip.Addr) []byte {
	return encodeRaw(RawAttribute{Flags: FlagTransitive, Type: AttrNextHop, Value: addr.AsSlice()})
}

func DecodeNextHop(raw RawAttribute) (netip.Addr, error) {
	if len(raw.Value) != 4 {
		return netip.Addr{}, errs.Violation("NEXT_HOP attribute must be 4 octets")
	}
	return netip.AddrFrom4([4]byte(raw.Value)), nil
}

func EncodeMED(med uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, med)
	return encodeRaw(RawAttribute{Flags: FlagOptional, Type: AttrMED, Value: b})
}

func DecodeUint32Attr(raw RawAttribute) (uint32, error) {
	if len(raw.Value) != 4 {
		return 0, errs.Violation("attribute must be 4 octets")
	}
	return binary.BigEndian.Uint32(raw.Value), nil
}

func EncodeLocalPref(pref uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, pref)
	return encodeRaw(RawAttribute{Flags: FlagTransitive, Type: AttrLocalPref, Value: b})
}

func EncodeAtomicAggregate() []byte {
	return encodeRaw(RawAttribute{Flags: FlagTransitive, Type: AttrAtomicAggregate})
}

// Aggregator is the AGGREGATOR attribute value.
type Aggregator struct {
	ASN     uint32
	Address netip.Addr
}

func EncodeAggregator(a Aggregator, asn4 bool, attrType uint8) []byte {
	var value []byte
	if asn4 {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, a.ASN)
		value = append(value, b...)
	} else {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(a.ASN))
		value = append(value, b...)
	}
	value = append(value, a.Address.AsSlice()...)
	return encodeRaw(RawAttribute{Flags: FlagOptional | FlagTransitive, Type: attrType, Value: value})
}

func DecodeAggregator(raw RawAttribute, asn4 bool) (Aggregator, error) {
	width := 2
	if asn4 {
		width = 4
	}
	if len(raw.Value) != width+4 {
		return Aggregator{}, errs.Violation("AGGREGATOR attribute has wrong length")
	}
	var asn uint32
	if asn4 {
		asn = binary.BigEndian.Uint32(raw.Value[0:4])
	} else {
		asn = uint32(binary.BigEndian.Uint16(raw.Value[0:2]))
	}
	addr := netip.AddrFrom4([4]byte(raw.Value[width:]))
	return Aggregator{ASN: asn, Address: addr}, nil
}

func EncodeCommunities(communities []uint32) []byte {
	b := make([]byte, 4*len(communities))
	for i, c := range communities {
		binary.BigEndian.PutUint32(b[4*i:4*i+4], c)
	}
	return encodeRaw(RawAttribute{Flags: FlagOptional | FlagTransitive, Type: AttrCommunities, Value: b})
}

func DecodeCommunities(raw RawAttribute) ([]uint32, error) {
	if len(raw.Value)%4 != 0 {
		return nil, errs.Violation("COMMUNITIES attribute not a multiple of 4 octets")
	}
	var out []uint32
	for i := 0; i < len(raw.Value); i += 4 {
		out = append(out, binary.BigEndian.Uint32(raw.Value[i:i+4]))
	}
	return out, nil
}

// MPNextHop is the next hop carried in MP_REACH_NLRI: a global IPv6
// address, and optionally a link-local address (RFC 2545).
type MPNextHop struct {
	Global    netip.Addr
	LinkLocal netip.Addr
	HasLinkLocal bool
}

// MPReach is the decoded MP_REACH_NLRI attribute (attribute type 14,
// spec.md §4.1/§6.1), restricted to AFI=2 (IPv6) SAFI=1 (unicast) since
// that is the only multiprotocol family this implementation supports.
type MPReach struct {
	AFI     uint16
	SAFI    uint8
	NextHop MPNextHop
	NLRI    []netip.Prefix
}

func EncodeMPReach(r MPReach) []byte {
	var nh []byte
	nh = append(nh, r.NextHop.Global.AsSlice()...)
	if r.NextHop.HasLinkLocal {
		nh = append(nh, r.NextHop.LinkLocal.AsSlice()...)
	}
	value := make([]byte, 0, 4+len(nh))
	afiBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(afiBuf, r.AFI)
	value = append(value, afiBuf...)
	value = append(value, r.SAFI, byte(len(nh)))
	value = append(value, nh...)
	value = append(value, 0) // reserved (SNPA count)
	for _, p := range r.NLRI {
		value = append(value, EncodeNLRI(p)...)
	}
	return encodeRaw(RawAttribute{Flags: FlagOptional, Type: AttrMPReachNLRI, Value: value})
}

func DecodeMPReach(raw RawAttribute) (MPReach, error) {
	buf := raw.Value
	if len(buf) < 4 {
		return MPReach{}, errs.Malformed(0, "MP_REACH_NLRI truncated")
	}
	afi := binary.BigEndian.Uint16(buf[0:2])
	safi := buf[2]
	nhLen := int(buf[3])
	buf = buf[4:]
	if len(buf) < nhLen+1 {
		return MPReach{}, errs.Malformed(4, "MP_REACH_NLRI next hop truncated")
	}
	nh := buf[:nhLen]
	buf = buf[nhLen+1:] // skip reserved SNPA count octet
	if afi != AFIIPv6 || safi != SAFIUnicast {
		return MPReach{AFI: afi, SAFI: safi}, errs.Violation("unsupported AFI/SAFI in MP_REACH_NLRI")
	}
	var next MPNextHop
	switch nhLen {
	case 16:
		addr := netip.AddrFrom16([16]byte(nh))
		if IsIPv4Mapped(addr) {
			return MPReach{}, errs.Violation("IPv6 next hop must not be IPv4-mapped")
		}
		next.Global = addr
	case 32:
		g := netip.AddrFrom16([16]byte(nh[0:16]))
		ll := netip.AddrFrom16([16]byte(nh[16:32]))
		if IsIPv4Mapped(g) || IsIPv4Mapped(ll) {
			return MPReach{}, errs.Violation("IPv6 next hop must not be IPv4-mapped")
		}
		next.Global = g
		next.LinkLocal = ll
		next.HasLinkLocal = true
	default:
		return MPReach{}, errs.Malformed(4, "MP_REACH_NLRI next hop length must be 16 or 32")
	}
	nlri, err := DecodeNLRIList(buf, 16)
	if err != nil {
		return MPReach{}, err
	}
	return MPReach{AFI: afi, SAFI: safi, NextHop: next, NLRI: nlri}, nil
}

// MPUnreach is the decoded MP_UNREACH_NLRI attribute (type 15).
type MPUnreach struct {
	AFI  uint16
	SAFI uint8
	NLRI []netip.Prefix
}

func EncodeMPUnreach(u MPUnreach) []byte {
	value := make([]byte, 3)
	binary.BigEndian.PutUint16(value[0:2], u.AFI)
	value[2] = u.SAFI
	for _, p := range u.NLRI {
		value = append(value, EncodeNLRI(p)...)
	}
	return encodeRaw(RawAttribute{Flags: FlagOptional, Type: AttrMPUnreachNLRI, Value: value})
}

func DecodeMPUnreach(raw RawAttribute) (MPUnreach, error) {
	if len(raw.Value) < 3 {
		return MPUnreach{}, errs.Malformed(0, "MP_UNREACH_NLRI truncated")
	}
	afi := binary.BigEndian.Uint16(raw.Value[0:2])
	safi := raw.Value[2]
	if afi != AFIIPv6 || safi != SAFIUnicast {
		return MPUnreach{AFI: afi, SAFI: safi}, errs.Violation("unsupported AFI/SAFI in MP_UNREACH_NLRI")
	}
	nlri, err := DecodeNLRIList(raw.Value[3:], 16)
	if err != nil {
		return MPUnreach{}, err
	}
	return MPUnreach{AFI: afi, SAFI: safi, NLRI: nlri}, nil
}

// EncodeAttribute re-serializes a RawAttribute unchanged, used to
// transparently re-advertise an attribute this implementation does not
// recognize (spec.md §9: unknown attribute types keep their flags and
// raw bytes).
func EncodeAttribute(raw RawAttribute) []byte {
	return encodeRaw(raw)
}
