package ospf

import (
	"testing"
	"time"

	wire "github.com/netlab-emu/agent/internal/wire/ospf"
)

func routerLSA(seq int32, age uint16) wire.LSA {
	h := wire.LSHeader{
		Type:              wire.RouterLSA,
		LinkStateID:       0x01010101,
		AdvertisingRouter: 0x01010101,
		SequenceNumber:    seq,
		Age:               age,
	}
	body := wire.EncodeRouterLSABody(wire.RouterLSABody{Bits: 0})
	h.Length = uint16(wire.LSHeaderLen + len(body))
	h.Checksum = wire.LSAChecksum(h, body)
	return wire.LSA{Header: h, Body: body}
}

func TestLSDBInstallOnceIDIsUnique(t *testing.T) {
	db := NewLSDB()
	now := time.Now()
	lsa := routerLSA(1, 0)
	if db.CompareIncoming(lsa, now) <= 0 {
		t.Fatal("expected first install to compare strictly newer (empty database)")
	}
	db.Install(lsa, now, false)
	if _, ok := db.Get(lsa.Identity()); !ok {
		t.Fatal("expected entry present after install")
	}
	if len(db.Snapshot()) != 1 {
		t.Fatalf("expected exactly one entry for one identity, got %d", len(db.Snapshot()))
	}
}

// TestFreshnessOrdering exercises spec.md §3's sequence > checksum > age
// ordering, with MaxAge always winning regardless of sequence.
func TestFreshnessOrdering(t *testing.T) {
	db := NewLSDB()
	now := time.Now()
	db.Install(routerLSA(5, 100), now, false)

	older := routerLSA(4, 0)
	if db.CompareIncoming(older, now) >= 0 {
		t.Error("lower sequence number must not compare as fresher")
	}

	newer := routerLSA(6, 0)
	if db.CompareIncoming(newer, now) <= 0 {
		t.Error("higher sequence number must compare as fresher")
	}

	maxAged := routerLSA(3, wire.MaxAge)
	if db.CompareIncoming(maxAged, now) <= 0 {
		t.Error("a MaxAge instance must always win freshness comparison, even with a lower sequence number")
	}
}

func TestMarkMaxAgeRequiresAllAcksBeforePurge(t *testing.T) {
	db := NewLSDB()
	now := time.Now()
	lsa := routerLSA(1, 0)
	db.Install(lsa, now, true)
	id := lsa.Identity()

	db.MarkMaxAge(id, []int{1, 2})
	if purged := db.Ack(id, 1); purged {
		t.Fatal("should not purge with an ack still outstanding")
	}
	if _, ok := db.Get(id); !ok {
		t.Fatal("entry should still exist with one ack outstanding")
	}
	if purged := db.Ack(id, 2); !purged {
		t.Fatal("expected purge once all neighbors have acknowledged")
	}
	if _, ok := db.Get(id); ok {
		t.Fatal("entry should be gone after the final ack")
	}
}

func TestGenerationBumpsOnMutationOnly(t *testing.T) {
	db := NewLSDB()
	now := time.Now()
	g0 := db.Generation()
	if db.CompareIncoming(routerLSA(1, 0), now) != 1 {
		t.Fatal("expected fresh comparison before any install")
	}
	if db.Generation() != g0 {
		t.Fatal("CompareIncoming must not mutate generation")
	}
	db.Install(routerLSA(1, 0), now, false)
	if db.Generation() == g0 {
		t.Fatal("expected generation to advance after Install")
	}
}

func TestAgeExtrapolatesFromInstalledAt(t *testing.T) {
	db := NewLSDB()
	base := time.Now()
	db.Install(routerLSA(1, 0), base, false)
	e, _ := db.Get(routerLSA(1, 0).Identity())
	if got := e.CurrentAge(base.Add(10 * time.Second)); got != 10 {
		t.Fatalf("expected age 10 after 10s elapsed, got %d", got)
	}
	if got := e.CurrentAge(base.Add(2 * wire.MaxAge * time.Second)); got != wire.MaxAge {
		t.Fatalf("expected age capped at MaxAge, got %d", got)
	}
}
