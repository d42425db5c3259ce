package bgp

import (
	"net/netip"
	"testing"
)

func pfx(s string) netip.Prefix { return netip.MustParsePrefix(s) }

func TestLocRIBP4OnlyOneBestPathPerPrefix(t *testing.T) {
	rib := NewLocRIB()
	p1, p2 := NewAdjRIBIn(), NewAdjRIBIn()
	rib.AddPeer(1, p1)
	rib.AddPeer(2, p2)

	prefix := pfx("10.0.0.0/24")
	p1.Update(Path{Prefix: prefix, LocalPref: 100, ASPath: seq(65001), PeerID: 1})
	p2.Update(Path{Prefix: prefix, LocalPref: 200, ASPath: seq(65002), PeerID: 2})

	changed := rib.Recompute([]netip.Prefix{prefix})
	if len(changed) != 1 {
		t.Fatalf("expected exactly one changed prefix, got %d", len(changed))
	}
	best, ok := rib.Best(prefix)
	if !ok {
		t.Fatal("expected a best path to be installed")
	}
	if best.PeerID != 2 {
		t.Fatalf("expected the higher LOCAL_PREF peer's path to win, got peer %d", best.PeerID)
	}
	if len(rib.Snapshot()) != 1 {
		t.Fatalf("expected exactly one entry in the Loc-RIB snapshot, got %d", len(rib.Snapshot()))
	}
}

func TestLocRIBWithdrawalRemovesBestPath(t *testing.T) {
	rib := NewLocRIB()
	in := NewAdjRIBIn()
	rib.AddPeer(1, in)
	prefix := pfx("10.0.0.0/24")
	in.Update(Path{Prefix: prefix, LocalPref: 100, ASPath: seq(1), PeerID: 1})
	rib.Recompute([]netip.Prefix{prefix})
	if _, ok := rib.Best(prefix); !ok {
		t.Fatal("expected a best path before withdrawal")
	}

	in.Withdraw(prefix)
	changed := rib.Recompute([]netip.Prefix{prefix})
	if len(changed) != 1 {
		t.Fatal("expected withdrawal to register as a change")
	}
	if _, ok := rib.Best(prefix); ok {
		t.Fatal("expected no best path after the only contributor withdrew")
	}
}

func TestLocRIBRecomputeIsNoOpWhenBestUnchanged(t *testing.T) {
	rib := NewLocRIB()
	in := NewAdjRIBIn()
	rib.AddPeer(1, in)
	prefix := pfx("10.0.0.0/24")
	in.Update(Path{Prefix: prefix, LocalPref: 100, ASPath: seq(1), PeerID: 1})
	rib.Recompute([]netip.Prefix{prefix})

	// Re-installing the identical path (e.g. a duplicate UPDATE) must not
	// register as a change.
	in.Update(Path{Prefix: prefix, LocalPref: 100, ASPath: seq(1), PeerID: 1})
	changed := rib.Recompute([]netip.Prefix{prefix})
	if len(changed) != 0 {
		t.Fatalf("expected no change when the best path is identical, got %d", len(changed))
	}
}

func TestAdjRIBOutDiffAnnouncesAndWithdraws(t *testing.T) {
	out := NewAdjRIBOut()
	p1 := pfx("10.0.0.0/24")
	p2 := pfx("10.0.1.0/24")

	announce, withdraw := out.Diff(map[netip.Prefix]Path{
		p1: {Prefix: p1, LocalPref: 100},
		p2: {Prefix: p2, LocalPref: 100},
	})
	if len(announce) != 2 || len(withdraw) != 0 {
		t.Fatalf("expected 2 announces and 0 withdraws on first diff, got %d/%d", len(announce), len(withdraw))
	}

	// p2 drops out, p1 is unchanged: expect only p2 withdrawn, nothing
	// re-announced for p1.
	announce, withdraw = out.Diff(map[netip.Prefix]Path{
		p1: {Prefix: p1, LocalPref: 100},
	})
	if len(announce) != 0 {
		t.Fatalf("expected no re-announcement of an unchanged path, got %d", len(announce))
	}
	if len(withdraw) != 1 || withdraw[0] != p2 {
		t.Fatalf("expected exactly p2 withdrawn, got %v", withdraw)
	}
}

func TestAdjRIBOutDiffDetectsPathChange(t *testing.T) {
	out := NewAdjRIBOut()
	p1 := pfx("10.0.0.0/24")
	out.Diff(map[netip.Prefix]Path{p1: {Prefix: p1, LocalPref: 100}})
	announce, withdraw := out.Diff(map[netip.Prefix]Path{p1: {Prefix: p1, LocalPref: 200}})
	if len(announce) != 1 {
		t.Fatal("expected a changed LOCAL_PREF to trigger re-announcement")
	}
	if len(withdraw) != 0 {
		t.Fatal("a path change is a re-announce, not a withdraw")
	}
}
