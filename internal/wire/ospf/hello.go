package ospf

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// Hello is the OSPFv2 Hello packet body (spec.md §4.1).
type Hello struct {
	NetworkMask     uint32
	HelloInterval   uint16
	Options         uint8
	RouterPriority  uint8
	RouterDeadInterval uint32
	DesignatedRouter   uint32
	BackupDesignatedRouter uint32
	Neighbors       []uint32
}

// EncodeHello serializes a Hello body (not including the 24-octet header).
func EncodeHello(h Hello) []byte {
	buf := make([]byte, 20+4*len(h.Neighbors))
	binary.BigEndian.PutUint32(buf[0:4], h.NetworkMask)
	binary.BigEndian.PutUint16(buf[4:6], h.HelloInterval)
	buf[6] = h.Options
	buf[7] = h.RouterPriority
	binary.BigEndian.PutUint32(buf[8:12], h.RouterDeadInterval)
	binary.BigEndian.PutUint32(buf[12:16], h.DesignatedRouter)
	binary.BigEndian.PutUint32(buf[16:20], h.BackupDesignatedRouter)
	for i, n := range h.Neighbors {
		binary.BigEndian.PutUint32(buf[20+4*i:24+4*i], n)
	}
	return buf
}

// DecodeHello parses a Hello body.
func DecodeHello(body []byte) (Hello, error) {
	if len(body) < 20 {
		return Hello{}, errs.Malformed(len(body), "Hello body shorter than 20 octets")
	}
	if (len(body)-20)%4 != 0 {
		return Hello{}, errs.Malformed(20, "Hello neighbor list not a multiple of 4 octets")
	}
	h := Hello{
		NetworkMask:            binary.BigEndian.Uint32(body[0:4]),
		HelloInterval:          binary.BigEndian.Uint16(body[4:6]),
		Options:                body[6],
		RouterPriority:         body[7],
		RouterDeadInterval:     binary.BigEndian.Uint32(body[8:12]),
		DesignatedRouter:       binary.BigEndian.Uint32(body[12:16]),
		BackupDesignatedRouter: binary.BigEndian.Uint32(body[16:20]),
	}
	for i := 20; i < len(body); i += 4 {
		h.Neighbors = append(h.Neighbors, binary.BigEndian.Uint32(body[i:i+4]))
	}
	return h, nil
}

// ListsRouter reports whether routerID appears in the Hello's neighbor
// list, used to drive Down->Init->2-Way transitions (spec.md §4.2).
func (h Hello) ListsRouter(routerID uint32) bool {
	for _, n := range h.Neighbors {
		if n == routerID {
			return true
		}
	}
	return false
}
