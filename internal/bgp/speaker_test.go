package bgp

import (
	"net/netip"
	"testing"

	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

func noopLog(string, ...any) {}

func TestSpeakerRedistributeAppliesSplitHorizon(t *testing.T) {
	s := NewSpeaker(65001, 0x0a000001, nil, noopLog)

	addr1 := netip.MustParseAddr("192.0.2.1")
	addr2 := netip.MustParseAddr("192.0.2.2")
	p1 := s.AddPeer(PeerConfig{Addr: addr1, RemoteAS: 65002, PassiveOnly: true})
	p2 := s.AddPeer(PeerConfig{Addr: addr2, RemoteAS: 65003, PassiveOnly: true})

	s.onEstablished(addr1, wire.Open{BGPIdentifier: 0x02020202})
	s.onEstablished(addr2, wire.Open{BGPIdentifier: 0x03030303})

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	path := Path{
		Prefix:      prefix,
		NextHop:     netip.MustParseAddr("192.0.2.1"),
		LocalPref:   DefaultLocalPref,
		PeerID:      0x02020202, // matches addr1's negotiated BGP Identifier
		PeerAddress: addr1,
	}
	p1.AdjIn.Update(path)

	s.onUpdate(addr1, []Path{path}, nil)

	if _, ok := s.locRIB.Best(prefix); !ok {
		t.Fatal("expected Loc-RIB to hold the best path for the prefix")
	}

	// p2 is not the originator: it should have the prefix in its
	// Adj-RIB-Out now (observed by diffing against empty desired, which
	// must report it as something to withdraw).
	_, withdraw2 := p2.AdjOut.Diff(map[netip.Prefix]Path{})
	if len(withdraw2) != 1 || withdraw2[0] != prefix {
		t.Fatalf("expected peer2 to have advertised the prefix, got withdraw set %+v", withdraw2)
	}

	// p1 originated the path: split horizon must keep it out of p1's
	// own Adj-RIB-Out, so diffing against empty desired reports nothing
	// to withdraw.
	_, withdraw1 := p1.AdjOut.Diff(map[netip.Prefix]Path{})
	if len(withdraw1) != 0 {
		t.Fatalf("expected peer1 to never have been sent its own path back, got withdraw set %+v", withdraw1)
	}
}

func TestSpeakerRedistributeWithholdsIBGPRouteFromOtherIBGPPeer(t *testing.T) {
	s := NewSpeaker(65001, 0x0a000001, nil, noopLog)

	addr1 := netip.MustParseAddr("192.0.2.1") // iBGP peer, same AS as the speaker
	addr2 := netip.MustParseAddr("192.0.2.2") // another iBGP peer
	p1 := s.AddPeer(PeerConfig{Addr: addr1, RemoteAS: 65001, PassiveOnly: true})
	p2 := s.AddPeer(PeerConfig{Addr: addr2, RemoteAS: 65001, PassiveOnly: true})

	s.onEstablished(addr1, wire.Open{BGPIdentifier: 0x02020202})
	s.onEstablished(addr2, wire.Open{BGPIdentifier: 0x03030303})

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	path := Path{
		Prefix:         prefix,
		NextHop:        netip.MustParseAddr("192.0.2.1"),
		LocalPref:      DefaultLocalPref,
		PeerID:         0x02020202,
		PeerIsExternal: false,
		PeerAddress:    addr1,
	}
	p1.AdjIn.Update(path)

	s.onUpdate(addr1, []Path{path}, nil)

	if _, ok := s.locRIB.Best(prefix); !ok {
		t.Fatal("expected Loc-RIB to hold the best path for the prefix")
	}

	_, withdraw2 := p2.AdjOut.Diff(map[netip.Prefix]Path{})
	if len(withdraw2) != 0 {
		t.Fatalf("expected the iBGP-learned route to be withheld from the other iBGP peer, got %+v", withdraw2)
	}
}

func TestSpeakerLocRIBPathsReflectsBestPaths(t *testing.T) {
	s := NewSpeaker(65001, 0x0a000001, nil, noopLog)
	addr1 := netip.MustParseAddr("192.0.2.1")
	p1 := s.AddPeer(PeerConfig{Addr: addr1, RemoteAS: 65002, PassiveOnly: true})
	s.onEstablished(addr1, wire.Open{BGPIdentifier: 0x02020202})

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	path := Path{Prefix: prefix, NextHop: addr1, LocalPref: DefaultLocalPref, PeerID: 0x02020202, PeerAddress: addr1}
	p1.AdjIn.Update(path)
	s.onUpdate(addr1, []Path{path}, nil)

	got := s.LocRIBPaths()
	if len(got) != 1 || got[0].Prefix != prefix {
		t.Fatalf("expected LocRIBPaths to contain the installed prefix, got %+v", got)
	}
}

func TestSpeakerOnClearedWithdrawsAndRedistributes(t *testing.T) {
	s := NewSpeaker(65001, 0x0a000001, nil, noopLog)

	addr1 := netip.MustParseAddr("192.0.2.1")
	addr2 := netip.MustParseAddr("192.0.2.2")
	p1 := s.AddPeer(PeerConfig{Addr: addr1, RemoteAS: 65002, PassiveOnly: true})
	p2 := s.AddPeer(PeerConfig{Addr: addr2, RemoteAS: 65003, PassiveOnly: true})

	s.onEstablished(addr1, wire.Open{BGPIdentifier: 0x02020202})
	s.onEstablished(addr2, wire.Open{BGPIdentifier: 0x03030303})

	prefix := netip.MustParsePrefix("203.0.113.0/24")
	path := Path{Prefix: prefix, NextHop: addr1, LocalPref: DefaultLocalPref, PeerID: 0x02020202}
	p1.AdjIn.Update(path)
	s.onUpdate(addr1, []Path{path}, nil)

	if _, ok := s.locRIB.Best(prefix); !ok {
		t.Fatal("expected the prefix to be installed before teardown")
	}

	s.onCleared(addr1)

	if _, ok := s.locRIB.Best(prefix); ok {
		t.Fatal("expected the prefix to be withdrawn once its only peer cleared")
	}
	announce, withdraw := p2.AdjOut.Diff(map[netip.Prefix]Path{})
	if len(announce) != 0 || len(withdraw) != 0 {
		t.Fatalf("expected peer2's Adj-RIB-Out to already be converged (empty diff both ways), got announce=%+v withdraw=%+v", announce, withdraw)
	}
}
