package bgp

import (
	"encoding/binary"

	"github.com/netlab-emu/agent/internal/errs"
)

// RouteRefresh is the ROUTE-REFRESH message body (RFC 2918), negotiated
// via the Route-Refresh capability (spec.md §4.4, §6.1).
type RouteRefresh struct {
	AFI  uint16
	SAFI uint8
}

func EncodeRouteRefresh(r RouteRefresh) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], r.AFI)
	buf[3] = r.SAFI
	return buf
}

func DecodeRouteRefresh(body []byte) (RouteRefresh, error) {
	if len(body) != 4 {
		return RouteRefresh{}, errs.Malformed(len(body), "ROUTE-REFRESH body must be 4 octets")
	}
	return RouteRefresh{AFI: binary.BigEndian.Uint16(body[0:2]), SAFI: body[3]}, nil
}
