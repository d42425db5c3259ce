package bgp

import (
	"encoding/binary"
	"net/netip"

	"github.com/netlab-emu/agent/internal/errs"
)

// Update is the decoded UPDATE message body (spec.md §3, §4.5).
type Update struct {
	WithdrawnRoutes []netip.Prefix
	PathAttributes  []RawAttribute
	NLRI            []netip.Prefix
}

// EncodeUpdate serializes withdrawn-routes, total-path-attributes
// length, path attributes, and NLRI in that order (spec.md §4.1).
func EncodeUpdate(u Update) []byte {
	var withdrawn []byte
	for _, p := range u.WithdrawnRoutes {
		withdrawn = append(withdrawn, EncodeNLRI(p)...)
	}
	var attrs []byte
	for _, a := range u.PathAttributes {
		attrs = append(attrs, EncodeAttribute(a)...)
	}
	var nlri []byte
	for _, p := range u.NLRI {
		nlri = append(nlri, EncodeNLRI(p)...)
	}

	buf := make([]byte, 2, 2+len(withdrawn)+2+len(attrs)+len(nlri))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(withdrawn)))
	buf = append(buf, withdrawn...)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(attrs)))
	buf = append(buf, lenBuf...)
	buf = append(buf, attrs...)
	buf = append(buf, nlri...)
	return buf
}

// DecodeUpdate parses an UPDATE body. NLRI decoding assumes IPv4
// (legacy NLRI field); IPv6 reachability comes exclusively through
// MP_REACH_NLRI/MP_UNREACH_NLRI (spec.md §4.5 "IPv6 specifics").
func DecodeUpdate(body []byte) (Update, error) {
	if len(body) < 2 {
		return Update{}, errs.Malformed(0, "UPDATE body shorter than 2 octets")
	}
	wLen := int(binary.BigEndian.Uint16(body[0:2]))
	if len(body) < 2+wLen+2 {
		return Update{}, errs.Malformed(2, "withdrawn routes length exceeds buffer")
	}
	withdrawn, err := DecodeNLRIList(body[2:2+wLen], 4)
	if err != nil {
		return Update{}, err
	}
	rest := body[2+wLen:]
	attrLen := int(binary.BigEndian.Uint16(rest[0:2]))
	if len(rest) < 2+attrLen {
		return Update{}, errs.Malformed(2+wLen, "path attribute length exceeds buffer")
	}
	attrs, err := DecodeAttributes(rest[2 : 2+attrLen])
	if err != nil {
		return Update{}, err
	}
	nlriBuf := rest[2+attrLen:]
	nlri, err := DecodeNLRIList(nlriBuf, 4)
	if err != nil {
		return Update{}, err
	}
	return Update{WithdrawnRoutes: withdrawn, PathAttributes: attrs, NLRI: nlri}, nil
}

// Attr looks up the first attribute of the given type.
func (u Update) Attr(atype uint8) (RawAttribute, bool) {
	for _, a := range u.PathAttributes {
		if a.Type == atype {
			return a, true
		}
	}
	return RawAttribute{}, false
}

// ValidateMandatory checks presence of the well-known mandatory
// attributes required whenever NLRI (legacy or MP_REACH) is present:
// ORIGIN, AS_PATH, and a next hop (NEXT_HOP or MP_REACH_NLRI's next
// hop) — spec.md §4.5 step 2.
func (u Update) ValidateMandatory() *errs.Error {
	hasNLRI := len(u.NLRI) > 0
	_, hasMPReach := u.Attr(AttrMPReachNLRI)
	if !hasNLRI && !hasMPReach {
		return nil
	}
	if _, ok := u.Attr(AttrOrigin); !ok {
		return errs.Violation("missing well-known mandatory attribute ORIGIN")
	}
	if _, ok := u.Attr(AttrASPath); !ok {
		return errs.Violation("missing well-known mandatory attribute AS_PATH")
	}
	if hasNLRI {
		if _, ok := u.Attr(AttrNextHop); !ok {
			return errs.Violation("missing well-known mandatory attribute NEXT_HOP")
		}
	}
	return nil
}
