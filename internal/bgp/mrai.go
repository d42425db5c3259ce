package bgp

import (
	"net/netip"
	"time"
)

// DefaultMRAI is RFC 4271 §9.2.1.1's suggested MinRouteAdvertisementInterval
// for eBGP peers. NewMRAI applies it when given 0; Speaker.AddPeer sets
// the interval back to 0 for iBGP peers with no configured MRAI, so those
// peers are not paced.
const DefaultMRAI = 30 * time.Second

// MRAI paces UPDATE generation per (peer, prefix) pair so route flaps
// do not generate an UPDATE storm (spec.md §4.5/§9). Each peer owns one
// MRAI instance.
type MRAI struct {
	interval time.Duration
	lastSent map[netip.Prefix]time.Time
}

func NewMRAI(interval time.Duration) *MRAI {
	if interval == 0 {
		interval = DefaultMRAI
	}
	return &MRAI{interval: interval, lastSent: make(map[netip.Prefix]time.Time)}
}

// Allow reports whether an UPDATE for prefix may be sent now, and if
// not, how long the caller must wait before retrying. Allow alone does
// not record anything; callers that proceed to send must call
// MarkSent, keeping Allow safe to call speculatively.
func (m *MRAI) Allow(prefix netip.Prefix, now time.Time) (ok bool, wait time.Duration) {
	last, seen := m.lastSent[prefix]
	if !seen {
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed >= m.interval {
		return true, 0
	}
	return false, m.interval - elapsed
}

// MarkSent records that an UPDATE for prefix was just sent at now.
func (m *MRAI) MarkSent(prefix netip.Prefix, now time.Time) {
	m.lastSent[prefix] = now
}
