package bgp

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// Version is the only supported BGP version (spec.md §4.1).
const Version = 4

// Optional parameter types.
const (
	OptParamCapabilities = 2
)

// Capability codes (spec.md §4.1, §4.4, §6.1).
const (
	CapMultiprotocol = 1
	CapRouteRefresh  = 2
	CapASN4          = 65
)

// AFI/SAFI constants (spec.md §4.1: IPv6 unicast is mandatory to support).
const (
	AFIIPv4 = 1
	AFIIPv6 = 2
	SAFIUnicast = 1
)

// Capability is a single BGP capability (RFC 5492) carried inside an
// Optional Parameter of type 2.
type Capability struct {
	Code  uint8
	Value []byte
}

// MultiprotocolValue returns the 4-byte AFI/reserved/SAFI value for a
// Multiprotocol Extensions capability (RFC 4760 §8).
func MultiprotocolValue(afi uint16, safi uint8) []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], afi)
	v[3] = safi
	return v
}

// ASN4Value returns the 4-byte value for the 4-octet-ASN capability.
func ASN4Value(asn uint32) []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, asn)
	return v
}

// Open is the OPEN message body.
type Open struct {
	Version       uint8
	MyAS          uint16 // AS_TRANS (23456) when the real ASN exceeds 16 bits
	HoldTime      uint16
	BGPIdentifier uint32
	Capabilities  []Capability
}

func encodeCapabilities(caps []Capability) []byte {
	var buf []byte
	for _, c := range caps {
		buf = append(buf, c.Code, byte(len(c.Value)))
		buf = append(buf, c.Value...)
	}
	param := append([]byte{OptParamCapabilities, byte(len(buf))}, buf...)
	return param
}

// EncodeOpen serializes an OPEN body.
func EncodeOpen(o Open) []byte {
	optParams := encodeCapabilities(o.Capabilities)
	buf := make([]byte, 10, 10+len(optParams))
	buf[0] = o.Version
	binary.BigEndian.PutUint16(buf[1:3], o.MyAS)
	binary.BigEndian.PutUint16(buf[3:5], o.HoldTime)
	binary.BigEndian.PutUint32(buf[5:9], o.BGPIdentifier)
	buf[9] = byte(len(optParams))
	buf = append(buf, optParams...)
	return buf
}

// DecodeOpen parses an OPEN body.
func DecodeOpen(body []byte) (Open, error) {
	if len(body) < 10 {
		return Open{}, errs.Malformed(len(body), "OPEN body shorter than 10 octets")
	}
	o := Open{
		Version:       body[0],
		MyAS:          binary.BigEndian.Uint16(body[1:3]),
		HoldTime:      binary.BigEndian.Uint16(body[3:5]),
		BGPIdentifier: binary.BigEndian.Uint32(body[5:9]),
	}
	optLen := int(body[9])
	rest := body[10:]
	if len(rest) != optLen {
		return Open{}, errs.Malformed(9, "optional parameters length inconsistent")
	}
	for len(rest) > 0 {
		if len(rest) < 2 {
			return Open{}, errs.Malformed(10, "truncated optional parameter")
		}
		ptype := rest[0]
		plen := int(rest[1])
		if len(rest) < 2+plen {
			return Open{}, errs.Malformed(10, "optional parameter length exceeds buffer")
		}
		pval := rest[2 : 2+plen]
		if ptype == OptParamCapabilities {
			caps, err := decodeCapabilities(pval)
			if err != nil {
				return Open{}, err
			}
			o.Capabilities = append(o.Capabilities, caps...)
		}
		rest = rest[2+plen:]
	}
	return o, nil
}

func decodeCapabilities(buf []byte) ([]Capability, error) {
	var caps []Capability
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, errs.Malformed(0, "truncated capability")
		}
		code := buf[0]
		clen := int(buf[1])
		if len(buf) < 2+clen {
			return nil, errs.Malformed(0, "capability length exceeds buffer")
		}
		caps = append(caps, Capability{Code: code, Value: buf[2 : 2+clen]})
		buf = buf[2+clen:]
	}
	return caps, nil
}

// Has reports whether o carries the given capability code.
func (o Open) Has(code uint8) bool {
	for _, c := range o.Capabilities {
		if c.Code == code {
			return true
		}
	}
	return false
}

// MultiprotocolAFISAFI reports whether o's Multiprotocol capability set
// includes (afi, safi).
func (o Open) MultiprotocolAFISAFI(afi uint16, safi uint8) bool {
	for _, c := range o.Capabilities {
		if c.Code == CapMultiprotocol && len(c.Value) == 4 {
			if binary.BigEndian.Uint16(c.Value[0:2]) == afi && c.Value[3] == safi {
				return true
			}
		}
	}
	return false
}

// ASN4 returns the real 4-octet ASN carried in the ASN4 capability and
// whether it was present.
func (o Open) ASN4() (uint32, bool) {
	for _, c := range o.Capabilities {
		if c.Code == CapASN4 && len(c.Value) == 4 {
			return binary.BigEndian.Uint32(c.Value), true
		}
	}
	return 0, false
}

// Valid validates an OPEN per the basics of spec.md §4.4 (version,
// hold time floor).
func (o Open) Valid() *errs.Error {
	if o.Version != Version {
		return errs.Violation("unsupported BGP version")
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return errs.Violation("Hold Time must be 0 or >= 3")
	}
	return nil
}
