package supervisor

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/netlab-emu/agent/internal/bgp"
	"github.com/netlab-emu/agent/internal/config"
	"github.com/netlab-emu/agent/internal/kernelrib"
	"github.com/netlab-emu/agent/internal/snapshot"
	"github.com/netlab-emu/agent/internal/types"
)

func TestParseNetworkType(t *testing.T) {
	cases := map[string]types.NetworkType{
		"":          types.PointToPoint,
		"p2p":       types.PointToPoint,
		"broadcast": types.Broadcast,
		"loopback":  types.Loopback,
	}
	for in, want := range cases {
		got, err := parseNetworkType(in)
		if err != nil {
			t.Fatalf("parseNetworkType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseNetworkType(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := parseNetworkType("mesh"); err == nil {
		t.Fatal("expected an error for an unrecognized network_type")
	}
}

func TestSplitAddressesFirstIsPrimary(t *testing.T) {
	primary, additional, err := splitAddresses([]string{"192.0.2.1/30", "198.51.100.1/24"})
	if err != nil {
		t.Fatalf("splitAddresses: %v", err)
	}
	if primary != netip.MustParsePrefix("192.0.2.1/30") {
		t.Fatalf("expected the first address to become Primary, got %v", primary)
	}
	if len(additional) != 1 || additional[0] != netip.MustParsePrefix("198.51.100.1/24") {
		t.Fatalf("expected the remainder to become Additional, got %+v", additional)
	}
}

func TestSplitAddressesRequiresAtLeastOne(t *testing.T) {
	if _, _, err := splitAddresses(nil); err == nil {
		t.Fatal("expected an error for an interface with no declared addresses")
	}
}

func TestLoadSnapshotSeedsKernelRIB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ribstate.zst")

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	routes := []bgp.Path{{
		Prefix:         prefix,
		NextHop:        netip.MustParseAddr("192.0.2.1"),
		PeerIsExternal: true,
	}}
	if err := snapshot.Save(path, routes); err != nil {
		t.Fatalf("snapshot.Save: %v", err)
	}

	a := &Agent{
		cfg: &config.Config{Snapshot: config.Snapshot{Path: path}},
		log: func(string, ...any) {},
		rib: kernelrib.New(nil),
	}
	a.loadSnapshot()

	got, ok := a.rib.Get(prefix)
	if !ok {
		t.Fatal("expected loadSnapshot to install the snapshotted prefix into the kernel RIB")
	}
	if got.Type != types.BGPRoute || got.Distance != types.DistanceBGPExternal {
		t.Fatalf("unexpected seeded route entry: %+v", got)
	}
}

func TestLoadSnapshotNoopWhenPathUnset(t *testing.T) {
	a := &Agent{
		cfg: &config.Config{},
		log: func(string, ...any) {},
		rib: kernelrib.New(nil),
	}
	a.loadSnapshot() // must not panic or touch a.rib
}

// TestSaveSnapshotPersistsLocRIB exercises saveSnapshot's wiring through
// a real Speaker (LocRIBPaths population itself is covered in package
// bgp by TestSpeakerLocRIBPathsReflectsBestPaths).
func TestSaveSnapshotPersistsLocRIB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ribstate.zst")

	speaker := bgp.NewSpeaker(65001, 0x0a000001, nil, func(string, ...any) {})
	a := &Agent{
		cfg:        &config.Config{Snapshot: config.Snapshot{Path: path}},
		log:        func(string, ...any) {},
		bgpSpeaker: speaker,
	}
	a.saveSnapshot()

	loaded, ok := snapshot.Load(path)
	if !ok {
		t.Fatal("expected saveSnapshot to write a loadable snapshot")
	}
	if len(loaded) != 0 {
		t.Fatalf("expected an empty snapshot from a speaker with no established peers, got %+v", loaded)
	}
}

func TestSaveSnapshotNoopWhenPathUnset(t *testing.T) {
	a := &Agent{
		cfg:        &config.Config{},
		log:        func(string, ...any) {},
		bgpSpeaker: bgp.NewSpeaker(65001, 0x0a000001, nil, func(string, ...any) {}),
	}
	a.saveSnapshot() // must not panic or write a file
}
