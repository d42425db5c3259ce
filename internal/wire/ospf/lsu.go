package ospf

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// LSA is a full link-state advertisement: header plus raw type-specific
// body bytes. Callers that need the typed body call DecodeBody.
type LSA struct {
	Header LSHeader
	Body   []byte
}

// Identity returns the LSA's database identity.
func (l LSA) Identity() Identity { return l.Header.Identity() }

// Encode serializes header+body and fixes up Length and Checksum.
func (l LSA) Encode() []byte {
	l.Header.Length = uint16(LSHeaderLen + len(l.Body))
	l.Header.Checksum = LSAChecksum(l.Header, l.Body)
	buf := make([]byte, 0, l.Header.Length)
	buf = append(buf, EncodeLSHeader(l.Header)...)
	buf = append(buf, l.Body...)
	return buf
}

// DecodeLSA parses one LSA (header + body) from buf, returning the LSA
// and the number of bytes consumed.
func DecodeLSA(buf []byte) (LSA, int, error) {
	h, err := DecodeLSHeader(buf)
	if err != nil {
		return LSA{}, 0, err
	}
	if int(h.Length) > len(buf) {
		return LSA{}, 0, errs.Malformed(18, "LSA length exceeds available buffer")
	}
	body := buf[LSHeaderLen:h.Length]
	got := LSAChecksum(h, body)
	if got != h.Checksum {
		return LSA{}, 0, errs.Malformed(16, "LSA checksum mismatch")
	}
	return LSA{Header: h, Body: body}, int(h.Length), nil
}

// LSU is the Link State Update packet body: a count followed by
// concatenated LSAs (spec.md §4.1).
type LSU struct {
	LSAs []LSA
}

func EncodeLSU(u LSU) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(u.LSAs)))
	for _, l := range u.LSAs {
		buf = append(buf, l.Encode()...)
	}
	return buf
}

func DecodeLSU(body []byte) (LSU, error) {
	if len(body) < 4 {
		return LSU{}, errs.Malformed(len(body), "LSU body shorter than 4 octets")
	}
	count := binary.BigEndian.Uint32(body[0:4])
	rest := body[4:]
	var u LSU
	for i := uint32(0); i < count; i++ {
		if len(rest) < LSHeaderLen {
			return LSU{}, errs.Malformed(4, "LSU truncated before declared LSA count satisfied")
		}
		lsa, n, err := DecodeLSA(rest)
		if err != nil {
			return LSU{}, err
		}
		u.LSAs = append(u.LSAs, lsa)
		rest = rest[n:]
	}
	return u, nil
}

// LSAck is the Link State Acknowledgment packet body: concatenated LSA
// headers only (spec.md §4.1).
type LSAck struct {
	Headers []LSHeader
}

func EncodeLSAck(a LSAck) []byte {
	buf := make([]byte, LSHeaderLen*len(a.Headers))
	for i, h := range a.Headers {
		copy(buf[LSHeaderLen*i:], EncodeLSHeader(h))
	}
	return buf
}

func DecodeLSAckBody(body []byte) (LSAck, error) {
	if len(body)%LSHeaderLen != 0 {
		return LSAck{}, errs.Malformed(0, "LSAck body not a multiple of 20 octets")
	}
	var a LSAck
	for i := 0; i < len(body); i += LSHeaderLen {
		h, err := DecodeLSHeader(body[i : i+LSHeaderLen])
		if err != nil {
			return LSAck{}, err
		}
		a.Headers = append(a.Headers, h)
	}
	return a, nil
}
