package ospf

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// DBD flag bits (spec.md §4.1).
const (
	FlagMS = 1 << 0 // Master/Slave
	FlagM  = 1 << 1 // More
	FlagI  = 1 << 2 // Init
)

// DBD is the Database Description packet body.
type DBD struct {
	MTU            uint16
	Options        uint8
	Flags          uint8
	SequenceNumber uint32
	Headers        []LSHeader
}

func (d DBD) Init() bool   { return d.Flags&FlagI != 0 }
func (d DBD) More() bool   { return d.Flags&FlagM != 0 }
func (d DBD) Master() bool { return d.Flags&FlagMS != 0 }

// EncodeDBD serializes a DBD body.
func EncodeDBD(d DBD) []byte {
	buf := make([]byte, 8+LSHeaderLen*len(d.Headers))
	binary.BigEndian.PutUint16(buf[0:2], d.MTU)
	buf[2] = d.Options
	buf[3] = d.Flags
	binary.BigEndian.PutUint32(buf[4:8], d.SequenceNumber)
	for i, h := range d.Headers {
		copy(buf[8+LSHeaderLen*i:], EncodeLSHeader(h))
	}
	return buf
}

// DecodeDBD parses a DBD body.
func DecodeDBD(body []byte) (DBD, error) {
	if len(body) < 8 {
		return DBD{}, errs.Malformed(len(body), "DBD body shorter than 8 octets")
	}
	rest := body[8:]
	if len(rest)%LSHeaderLen != 0 {
		return DBD{}, errs.Malformed(8, "DBD LSA header list not a multiple of 20 octets")
	}
	d := DBD{
		MTU:            binary.BigEndian.Uint16(body[0:2]),
		Options:        body[2],
		Flags:          body[3],
		SequenceNumber: binary.BigEndian.Uint32(body[4:8]),
	}
	for i := 0; i < len(rest); i += LSHeaderLen {
		h, err := DecodeLSHeader(rest[i : i+LSHeaderLen])
		if err != nil {
			return DBD{}, err
		}
		d.Headers = append(d.Headers, h)
	}
	return d, nil
}

// LSR is one entry of an LS Request packet: the identity of an LSA being
// requested (no age/sequence/checksum needed to request it).
type LSR struct {
	Type              LSAType
	LinkStateID       uint32
	AdvertisingRouter uint32
}

func EncodeLSRequests(reqs []LSR) []byte {
	buf := make([]byte, 12*len(reqs))
	for i, r := range reqs {
		o := 12 * i
		binary.BigEndian.PutUint32(buf[o:o+4], uint32(r.Type))
		binary.BigEndian.PutUint32(buf[o+4:o+8], r.LinkStateID)
		binary.BigEndian.PutUint32(buf[o+8:o+12], r.AdvertisingRouter)
	}
	return buf
}

func DecodeLSRequests(body []byte) ([]LSR, error) {
	if len(body)%12 != 0 {
		return nil, errs.Malformed(0, "LS Request body not a multiple of 12 octets")
	}
	var reqs []LSR
	for i := 0; i < len(body); i += 12 {
		reqs = append(reqs, LSR{
			Type:              LSAType(binary.BigEndian.Uint32(body[i : i+4])),
			LinkStateID:       binary.BigEndian.Uint32(body[i+4 : i+8]),
			AdvertisingRouter: binary.BigEndian.Uint32(body[i+8 : i+12]),
		})
	}
	return reqs, nil
}
