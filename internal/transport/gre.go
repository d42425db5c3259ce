package transport

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// GRE protocol types carried in the GRE header's Protocol Type field
// (RFC 2784 §2.1), matching the EtherType values for the encapsulated
// payload.
const (
	GREProtocolIPv4 = 0x0800
	GREProtocolIPv6 = 0x86DD
)

// greBaseLen is the 4-octet mandatory GRE header (RFC 2784 §2.1): the
// C/K/S/Reserved0/Version flags word plus the Protocol Type.
const greBaseLen = 4

// Header is a GRE header (RFC 2784, extended by RFC 2890's Key and
// Sequence Number fields). Checksum and the Key/Sequence Number fields
// are present on the wire only when their corresponding flag is set;
// this implementation always sets Checksum and SequenceNumber together,
// matching internal/types.Interface.EffectiveMTU's overhead accounting
// (a keepalive-bearing tunnel reserves room for both).
type Header struct {
	HasChecksum bool
	HasKey      bool
	HasSequence bool
	Protocol    uint16
	Key         uint32
	Sequence    uint32
}

// Len returns the encoded header length in octets.
func (h Header) Len() int {
	n := greBaseLen
	if h.HasChecksum {
		n += 4 // Checksum (2) + Reserved1 (2)
	}
	if h.HasKey {
		n += 4
	}
	if h.HasSequence {
		n += 4
	}
	return n
}

// Encode writes the GRE header. Version is always 0 (RFC 2784 does not
// define the GRE routing field of the obsolete RFC 1701 that Version 1
// PPTP uses).
func (h Header) Encode() []byte {
	buf := make([]byte, h.Len())
	var flags uint16
	if h.HasChecksum {
		flags |= 0x8000
	}
	if h.HasKey {
		flags |= 0x2000
	}
	if h.HasSequence {
		flags |= 0x1000
	}
	binary.BigEndian.PutUint16(buf[0:2], flags)
	binary.BigEndian.PutUint16(buf[2:4], h.Protocol)

	off := greBaseLen
	if h.HasChecksum {
		// Checksum covers the whole GRE frame including payload, so it
		// cannot be filled in until Encapsulate has the full frame; left
		// zero here and patched by Encapsulate.
		binary.BigEndian.PutUint16(buf[off:off+2], 0)
		binary.BigEndian.PutUint16(buf[off+2:off+4], 0)
		off += 4
	}
	if h.HasKey {
		binary.BigEndian.PutUint32(buf[off:off+4], h.Key)
		off += 4
	}
	if h.HasSequence {
		binary.BigEndian.PutUint32(buf[off:off+4], h.Sequence)
		off += 4
	}
	return buf
}

// Decode parses a GRE header from the front of buf, returning the header
// and the number of octets consumed.
func Decode(buf []byte) (Header, int, error) {
	if len(buf) < greBaseLen {
		return Header{}, 0, errs.Malformed(0, "gre header shorter than 4 octets")
	}
	flags := binary.BigEndian.Uint16(buf[0:2])
	version := flags & 0x0007
	if version != 0 {
		return Header{}, 0, errs.Violation("unsupported gre version")
	}
	h := Header{
		HasChecksum: flags&0x8000 != 0,
		HasKey:      flags&0x2000 != 0,
		HasSequence: flags&0x1000 != 0,
		Protocol:    binary.BigEndian.Uint16(buf[2:4]),
	}
	off := greBaseLen
	if h.HasChecksum {
		if len(buf) < off+4 {
			return Header{}, 0, errs.Malformed(off, "truncated gre checksum field")
		}
		off += 4
	}
	if h.HasKey {
		if len(buf) < off+4 {
			return Header{}, 0, errs.Malformed(off, "truncated gre key field")
		}
		h.Key = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if h.HasSequence {
		if len(buf) < off+4 {
			return Header{}, 0, errs.Malformed(off, "truncated gre sequence field")
		}
		h.Sequence = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return h, off, nil
}

// Encapsulate prepends a GRE header to payload. When h.HasChecksum is
// set, the checksum is computed over the complete frame (header with
// the checksum field zeroed, plus payload) and patched in, since RFC
// 2784 §2.2.1 covers the full GRE packet, not just the header.
func Encapsulate(h Header, payload []byte) []byte {
	hdr := h.Encode()
	out := make([]byte, 0, len(hdr)+len(payload))
	out = append(out, hdr...)
	out = append(out, payload...)
	if h.HasChecksum {
		sum := internetChecksum(out)
		binary.BigEndian.PutUint16(out[greBaseLen:greBaseLen+2], sum)
	}
	return out
}

// Decapsulate strips and parses the GRE header, returning the inner
// payload.
func Decapsulate(frame []byte) (Header, []byte, error) {
	h, n, err := Decode(frame)
	if err != nil {
		return Header{}, nil, err
	}
	return h, frame[n:], nil
}

// internetChecksum computes the RFC 1071 Internet checksum (the
// one's-complement sum of 16-bit words) over buf.
func internetChecksum(buf []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(buf); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[i : i+2]))
	}
	if len(buf)%2 == 1 {
		sum += uint32(buf[len(buf)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
