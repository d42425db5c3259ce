package ospf

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// LSAType identifies the LSA types in scope (spec.md §3).
type LSAType uint8

const (
	RouterLSA   LSAType = 1
	NetworkLSA  LSAType = 2
	SummaryLSA  LSAType = 3
	ASBRSummaryLSA LSAType = 4
	ASExternalLSA  LSAType = 5
)

// MaxAge is the constant signaling an LSA is to be purged (spec.md §3).
const MaxAge = 3600

// LSHeaderLen is the fixed 20-octet LSA header length.
const LSHeaderLen = 20

// LSHeader is the common LSA header (spec.md §3).
type LSHeader struct {
	Age             uint16
	Options         uint8
	Type            LSAType
	LinkStateID     uint32
	AdvertisingRouter uint32
	SequenceNumber  int32
	Checksum        uint16
	Length          uint16
}

// Identity is the (type, LS ID, Advertising Router) tuple that uniquely
// identifies an LSA instance in the LSDB (spec.md §3 invariant).
type Identity struct {
	Type              LSAType
	LinkStateID       uint32
	AdvertisingRouter uint32
}

func (h LSHeader) Identity() Identity {
	return Identity{h.Type, h.LinkStateID, h.AdvertisingRouter}
}

// EncodeLSHeader serializes just the 20-octet header.
func EncodeLSHeader(h LSHeader) []byte {
	buf := make([]byte, LSHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], h.Age)
	buf[2] = h.Options
	buf[3] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[4:8], h.LinkStateID)
	binary.BigEndian.PutUint32(buf[8:12], h.AdvertisingRouter)
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.SequenceNumber))
	binary.BigEndian.PutUint16(buf[16:18], h.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], h.Length)
	return buf
}

// DecodeLSHeader parses a 20-octet LSA header.
func DecodeLSHeader(buf []byte) (LSHeader, error) {
	if len(buf) < LSHeaderLen {
		return LSHeader{}, errs.Malformed(len(buf), "LSA header shorter than 20 octets")
	}
	h := LSHeader{
		Age:               binary.BigEndian.Uint16(buf[0:2]),
		Options:           buf[2],
		Type:              LSAType(buf[3]),
		LinkStateID:       binary.BigEndian.Uint32(buf[4:8]),
		AdvertisingRouter: binary.BigEndian.Uint32(buf[8:12]),
		SequenceNumber:    int32(binary.BigEndian.Uint32(buf[12:16])),
		Checksum:          binary.BigEndian.Uint16(buf[16:18]),
		Length:            binary.BigEndian.Uint16(buf[18:20]),
	}
	if h.Type < RouterLSA || h.Type > ASExternalLSA {
		return LSHeader{}, errs.Malformed(3, "unknown LSA type")
	}
	if h.Length < LSHeaderLen {
		return LSHeader{}, errs.Malformed(18, "LSA length shorter than header")
	}
	return h, nil
}

// RouterLink is one link entry in a Router-LSA body.
type RouterLink struct {
	ID       uint32 // Link ID: neighbor router ID, or transit network address
	Data     uint32 // Link Data: interface address or subnet mask
	LinkType uint8  // 1=p2p, 2=transit network, 3=stub network
	Metric   uint16
}

// RouterLSABody is the Router-LSA (type 1) body.
type RouterLSABody struct {
	Bits  uint8 // V|E|B flags, upper bits reserved
	Links []RouterLink
}

func EncodeRouterLSABody(b RouterLSABody) []byte {
	buf := make([]byte, 4+12*len(b.Links))
	buf[0] = b.Bits
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(b.Links)))
	for i, l := range b.Links {
		o := 4 + 12*i
		binary.BigEndian.PutUint32(buf[o:o+4], l.ID)
		binary.BigEndian.PutUint32(buf[o+4:o+8], l.Data)
		buf[o+8] = l.LinkType
		buf[o+9] = 0 // # of TOS metrics, always 0 here
		binary.BigEndian.PutUint16(buf[o+10:o+12], l.Metric)
	}
	return buf
}

func DecodeRouterLSABody(buf []byte) (RouterLSABody, error) {
	if len(buf) < 4 {
		return RouterLSABody{}, errs.Malformed(0, "Router-LSA body shorter than 4 octets")
	}
	count := int(binary.BigEndian.Uint16(buf[2:4]))
	if len(buf) != 4+12*count {
		return RouterLSABody{}, errs.Malformed(2, "Router-LSA link count inconsistent with length")
	}
	b := RouterLSABody{Bits: buf[0]}
	for i := 0; i < count; i++ {
		o := 4 + 12*i
		b.Links = append(b.Links, RouterLink{
			ID:       binary.BigEndian.Uint32(buf[o : o+4]),
			Data:     binary.BigEndian.Uint32(buf[o+4 : o+8]),
			LinkType: buf[o+8],
			Metric:   binary.BigEndian.Uint16(buf[o+10 : o+12]),
		})
	}
	return b, nil
}

// NetworkLSABody is the Network-LSA (type 2) body, originated by the DR
// on a broadcast segment.
type NetworkLSABody struct {
	NetworkMask     uint32
	AttachedRouters []uint32
}

func EncodeNetworkLSABody(b NetworkLSABody) []byte {
	buf := make([]byte, 4+4*len(b.AttachedRouters))
	binary.BigEndian.PutUint32(buf[0:4], b.NetworkMask)
	for i, r := range b.AttachedRouters {
		binary.BigEndian.PutUint32(buf[4+4*i:8+4*i], r)
	}
	return buf
}

func DecodeNetworkLSABody(buf []byte) (NetworkLSABody, error) {
	if len(buf) < 4 || (len(buf)-4)%4 != 0 {
		return NetworkLSABody{}, errs.Malformed(0, "Network-LSA body malformed")
	}
	b := NetworkLSABody{NetworkMask: binary.BigEndian.Uint32(buf[0:4])}
	for i := 4; i < len(buf); i += 4 {
		b.AttachedRouters = append(b.AttachedRouters, binary.BigEndian.Uint32(buf[i:i+4]))
	}
	return b, nil
}

// ExternalLSABody is the AS-External-LSA (type 5) body, one route entry.
type ExternalLSABody struct {
	NetworkMask  uint32
	EBit         bool // type-2 metric if set
	Metric       uint32 // 24 bits
	ForwardingAddress uint32
	ExternalRouteTag  uint32
}

func EncodeExternalLSABody(b ExternalLSABody) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], b.NetworkMask)
	m := b.Metric & 0x00FFFFFF
	if b.EBit {
		m |= 0x80000000
	}
	binary.BigEndian.PutUint32(buf[4:8], m)
	binary.BigEndian.PutUint32(buf[8:12], b.ForwardingAddress)
	binary.BigEndian.PutUint32(buf[12:16], b.ExternalRouteTag)
	return buf
}

func DecodeExternalLSABody(buf []byte) (ExternalLSABody, error) {
	if len(buf) < 16 {
		return ExternalLSABody{}, errs.Malformed(0, "AS-External-LSA body shorter than 16 octets")
	}
	m := binary.BigEndian.Uint32(buf[4:8])
	return ExternalLSABody{
		NetworkMask:       binary.BigEndian.Uint32(buf[0:4]),
		EBit:              m&0x80000000 != 0,
		Metric:            m & 0x00FFFFFF,
		ForwardingAddress: binary.BigEndian.Uint32(buf[8:12]),
		ExternalRouteTag:  binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// CompareFreshness implements the freshness ordering of spec.md §3:
// higher sequence wins; on tie, higher checksum wins; on tie, smaller
// age wins; an instance at MaxAge always wins. Returns >0 if a is
// fresher than b, <0 if b is fresher, 0 if indistinguishable.
func CompareFreshness(a, b LSHeader) int {
	if a.Age == MaxAge && b.Age != MaxAge {
		return 1
	}
	if b.Age == MaxAge && a.Age != MaxAge {
		return -1
	}
	if a.SequenceNumber != b.SequenceNumber {
		if a.SequenceNumber > b.SequenceNumber {
			return 1
		}
		return -1
	}
	if a.Checksum != b.Checksum {
		if a.Checksum > b.Checksum {
			return 1
		}
		return -1
	}
	if a.Age != b.Age {
		if a.Age < b.Age {
			return 1
		}
		return -1
	}
	return 0
}

// LSAChecksum computes the Fletcher-16 LSA checksum with the LS-age
// field treated as zero (spec.md §4.1), over header bytes [2:] + body
// (the age field occupies header bytes [0:2] and is excluded entirely
// rather than zeroed, since it is not part of the checksummed region per
// RFC 2328 Appendix C.1; the checksum field itself, at header offset 14
// relative to that region, is zeroed during the sum).
func LSAChecksum(header LSHeader, body []byte) uint16 {
	h := header
	h.Checksum = 0
	hb := EncodeLSHeader(h)
	buf := make([]byte, 0, len(hb)-2+len(body))
	buf = append(buf, hb[2:]...) // skip LS age
	buf = append(buf, body...)
	return ChecksumFletcher16(buf, 14) // checksum field now at offset 16-2=14
}
