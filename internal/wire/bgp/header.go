// Package bgp implements the BGP-4 wire codec (spec.md §4.1, §6.1):
// the 19-octet message header, OPEN/UPDATE/NOTIFICATION/KEEPALIVE/
// ROUTE-REFRESH bodies, path attributes including MP_REACH_NLRI and
// MP_UNREACH_NLRI (RFC 4760), and 4-octet ASN support (RFC 6793).
package bgp

import (
	"bytes"
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// MessageType identifies the five BGP message types (spec.md §4.1).
type MessageType uint8

const (
	TypeOpen         MessageType = 1
	TypeUpdate       MessageType = 2
	TypeNotification MessageType = 3
	TypeKeepalive    MessageType = 4
	TypeRouteRefresh MessageType = 5
)

// HeaderLen is the fixed 19-octet BGP header length.
const HeaderLen = 19

// MinMessageLen and MaxMessageLen bound the BGP header's Length field
// (spec.md §4.1: "length (19..4096)").
const (
	MinMessageLen = 19
	MaxMessageLen = 4096
)

var allOnesMarker = bytes.Repeat([]byte{0xFF}, 16)

// Header is the 19-octet BGP message header.
type Header struct {
	Length uint16
	Type   MessageType
}

// EncodeHeader writes the 16-octet all-ones marker, length, and type,
// followed by body.
func EncodeHeader(h Header, body []byte) []byte {
	total := HeaderLen + len(body)
	buf := make([]byte, total)
	copy(buf[0:16], allOnesMarker)
	binary.BigEndian.PutUint16(buf[16:18], uint16(total))
	buf[18] = byte(h.Type)
	copy(buf[19:], body)
	return buf
}

// DecodeHeader parses the header and returns the remaining body. A
// marker deviation is a MalformedPacket; callers map it specifically to
// NOTIFICATION(Message Header, Connection Not Synchronized) per
// spec.md §4.1.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, errs.Malformed(len(buf), "BGP header shorter than 19 octets")
	}
	if !bytes.Equal(buf[0:16], allOnesMarker) {
		return Header{}, nil, errs.Malformed(0, "marker is not all-ones: Connection Not Synchronized")
	}
	length := binary.BigEndian.Uint16(buf[16:18])
	if length < MinMessageLen || length > MaxMessageLen {
		return Header{}, nil, errs.Malformed(16, "message length out of range")
	}
	if int(length) > len(buf) {
		return Header{}, nil, errs.Malformed(16, "message length exceeds available buffer")
	}
	h := Header{Length: length, Type: MessageType(buf[18])}
	return h, buf[HeaderLen:length], nil
}

// NOTIFICATION error codes/subcodes referenced by this implementation
// (spec.md §4.1, §4.4, §7).
const (
	ErrMessageHeader     = 1
	SubConnNotSynced     = 1
	SubBadMessageLength  = 2
	SubBadMessageType    = 3

	ErrOpenMessage         = 2
	SubUnsupportedVersion  = 1
	SubBadPeerAS           = 2
	SubBadBGPIdentifier    = 3
	SubUnsupportedOptParam = 4
	SubUnacceptableHold    = 6
	SubUnsupportedCapability = 7

	ErrUpdateMessage          = 3
	SubMalformedAttrList      = 1
	SubUnrecognizedWellKnown  = 2
	SubMissingWellKnown       = 3
	SubAttrFlagsError         = 4
	SubAttrLengthError        = 5
	SubInvalidOrigin          = 6
	SubInvalidNextHop         = 8
	SubOptionalAttrError      = 9
	SubInvalidNetworkField    = 10
	SubMalformedASPath        = 11

	ErrHoldTimerExpired = 4

	ErrFSM = 5

	ErrCease                         = 6
	SubCeaseAdminShutdown            = 2
	SubCeaseConnectionCollision      = 7
)

// Notification is the NOTIFICATION message body.
type Notification struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func EncodeNotification(n Notification) []byte {
	return append([]byte{n.Code, n.Subcode}, n.Data...)
}

func DecodeNotification(body []byte) (Notification, error) {
	if len(body) < 2 {
		return Notification{}, errs.Malformed(len(body), "NOTIFICATION body shorter than 2 octets")
	}
	return Notification{Code: body[0], Subcode: body[1], Data: body[2:]}, nil
}
