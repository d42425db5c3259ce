package bgp

import (
	"net/netip"

	"github.com/netlab-emu/agent/internal/errs"
)

// EncodeNLRI packs a prefix as one length octet (in bits) followed by
// the minimum number of octets needed to hold that many bits, per
// spec.md §4.1 (legacy NLRI field) and §6.1 (RFC 4760 NLRI encoding,
// used identically inside MP_REACH/MP_UNREACH).
func EncodeNLRI(p netip.Prefix) []byte {
	bits := p.Bits()
	nbytes := (bits + 7) / 8
	addr := p.Addr().AsSlice()
	buf := make([]byte, 1+nbytes)
	buf[0] = byte(bits)
	copy(buf[1:], addr[:nbytes])
	return buf
}

// DecodeNLRI parses one length-prefixed NLRI entry for the given address
// family (4 or 16 octet address). Returns the prefix and bytes consumed.
func DecodeNLRI(buf []byte, addrLen int) (netip.Prefix, int, error) {
	if len(buf) < 1 {
		return netip.Prefix{}, 0, errs.Malformed(0, "truncated NLRI")
	}
	bits := int(buf[0])
	maxBits := addrLen * 8
	if bits > maxBits {
		return netip.Prefix{}, 0, errs.Malformed(0, "NLRI prefix length exceeds address width")
	}
	nbytes := (bits + 7) / 8
	if len(buf) < 1+nbytes {
		return netip.Prefix{}, 0, errs.Malformed(1, "NLRI truncated before declared length")
	}
	raw := make([]byte, addrLen)
	copy(raw, buf[1:1+nbytes])
	var addr netip.Addr
	if addrLen == 4 {
		addr = netip.AddrFrom4([4]byte(raw))
	} else {
		addr = netip.AddrFrom16([16]byte(raw))
	}
	p := netip.PrefixFrom(addr, bits)
	return p, 1 + nbytes, nil
}

// DecodeNLRIList decodes all NLRI entries in buf for the given address
// width (used for the legacy IPv4 NLRI field and for MP_REACH/UNREACH
// NLRI lists, which share the same per-entry encoding).
func DecodeNLRIList(buf []byte, addrLen int) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for len(buf) > 0 {
		p, n, err := DecodeNLRI(buf, addrLen)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		buf = buf[n:]
	}
	return out, nil
}

// IsIPv4Mapped reports whether addr is an IPv4-mapped IPv6 address.
// spec.md §4.1/§8 P7: the IPv6 next hop must never be one of these.
func IsIPv4Mapped(addr netip.Addr) bool {
	return addr.Is4In6()
}
