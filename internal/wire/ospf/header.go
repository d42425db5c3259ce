package ospf

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// PacketType identifies the five OSPFv2 packet types (spec.md §4.1).
type PacketType uint8

const (
	TypeHello PacketType = 1
	TypeDBD   PacketType = 2
	TypeLSR   PacketType = 3
	TypeLSU   PacketType = 4
	TypeLSAck PacketType = 5
)

// HeaderLen is the fixed 24-octet OSPFv2 header length (spec.md §4.1).
const HeaderLen = 24

// Multicast destinations (spec.md §6.1).
const (
	AllSPFRouters = "224.0.0.5"
	AllDRouters   = "224.0.0.6"
)

// Header is the 24-octet OSPFv2 packet header.
type Header struct {
	Version    uint8
	Type       PacketType
	Length     uint16
	RouterID   uint32
	AreaID     uint32
	Checksum   uint16
	AuType     uint16
	Authentication [8]byte
}

// EncodeHeader writes the header, computing the checksum over header+body
// with the AuType/Authentication region (bytes 14..22) zeroed during the
// sum, per spec.md §4.1.
func EncodeHeader(h Header, body []byte) []byte {
	total := HeaderLen + len(body)
	buf := make([]byte, total)
	buf[0] = h.Version
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint32(buf[4:8], h.RouterID)
	binary.BigEndian.PutUint32(buf[8:12], h.AreaID)
	// buf[12:14] checksum, filled below
	binary.BigEndian.PutUint16(buf[14:16], h.AuType)
	copy(buf[16:24], h.Authentication[:])
	copy(buf[24:], body)

	// Zero the AuType/Authentication region for the checksum computation,
	// then restore it.
	saved := make([]byte, 10)
	copy(saved, buf[14:24])
	for i := 14; i < 24; i++ {
		buf[i] = 0
	}
	sum := ChecksumFletcher16(buf, 12)
	binary.BigEndian.PutUint16(buf[12:14], sum)
	copy(buf[14:24], saved)
	return buf
}

// DecodeHeader parses the fixed header. It does not validate the
// checksum (callers validate separately since LSU bodies require
// advancing through; see VerifyChecksum).
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, errs.Malformed(len(buf), "OSPF header shorter than 24 octets")
	}
	h := Header{
		Version:  buf[0],
		Type:     PacketType(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		RouterID: binary.BigEndian.Uint32(buf[4:8]),
		AreaID:   binary.BigEndian.Uint32(buf[8:12]),
		Checksum: binary.BigEndian.Uint16(buf[12:14]),
		AuType:   binary.BigEndian.Uint16(buf[14:16]),
	}
	copy(h.Authentication[:], buf[16:24])
	if h.Version != 2 {
		return Header{}, nil, errs.Malformed(0, "unsupported OSPF version")
	}
	if int(h.Length) > len(buf) || h.Length < HeaderLen {
		return Header{}, nil, errs.Malformed(2, "inconsistent packet length")
	}
	if h.Type < TypeHello || h.Type > TypeLSAck {
		return Header{}, nil, errs.Malformed(1, "unknown OSPF packet type")
	}
	return h, buf[HeaderLen:h.Length], nil
}

// VerifyChecksum recomputes the Fletcher-16 checksum of a full packet
// (header+body) with the AuType/Authentication region zeroed and
// compares it against the embedded value, matching how EncodeHeader
// computed it.
func VerifyChecksum(full []byte) bool {
	if len(full) < HeaderLen {
		return false
	}
	tmp := make([]byte, len(full))
	copy(tmp, full)
	want := binary.BigEndian.Uint16(tmp[12:14])
	for i := 12; i < 24; i++ {
		tmp[i] = 0
	}
	got := ChecksumFletcher16(tmp, 12)
	return got == want
}
