// Package ospf implements the OSPFv2 wire codec (spec.md §4.1, §6.1):
// the 24-octet packet header, Hello/DBD/LSU/LSAck bodies, LSA headers
// and typed bodies, and the Fletcher-16 checksum used both for the
// packet header and for LSAs.
package ospf

// ChecksumFletcher16 computes the two checksum bytes that, written back
// into data at checksumOffset, make VerifyFletcher16 report true. The
// two bytes already at checksumOffset are treated as zero while summing
// (spec.md §4.1: "computed with the AuType/Authentication region
// zeroed", and similarly "the LS-age field treated as zero").
func ChecksumFletcher16(data []byte, checksumOffset int) uint16 {
	var c0, c1 int32
	n := len(data)
	for i := 0; i < n; i++ {
		b := int32(data[i])
		if i == checksumOffset || i == checksumOffset+1 {
			b = 0
		}
		c0 = (c0 + b) % 255
		c1 = (c1 + c0) % 255
	}
	mul := int32(n - checksumOffset)
	x := (mul*c0 - c1) % 255
	if x <= 0 {
		x += 255
	}
	y := 510 - c0 - x
	if y > 255 {
		y -= 255
	}
	return uint16(x)<<8 | uint16(y)
}

// VerifyFletcher16 returns true if data carries a valid Fletcher-16
// checksum anywhere within it (the classic property: summing the whole
// buffer including the embedded checksum bytes yields (0, 0)).
func VerifyFletcher16(data []byte) bool {
	var c0, c1 int32
	for _, b := range data {
		c0 = (c0 + int32(b)) % 255
		c1 = (c1 + c0) % 255
	}
	return c0 == 0 && c1 == 0
}
