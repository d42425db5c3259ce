package bgp

import (
	"testing"
	"time"
)

func TestMRAIBlocksWithinInterval(t *testing.T) {
	m := NewMRAI(30 * time.Second)
	now := time.Now()
	prefix := pfx("10.0.0.0/24")

	if ok, _ := m.Allow(prefix, now); !ok {
		t.Fatal("first announcement of a prefix must always be allowed")
	}
	m.MarkSent(prefix, now)

	ok, wait := m.Allow(prefix, now.Add(5*time.Second))
	if ok {
		t.Fatal("a second announcement within the MRAI window must be blocked")
	}
	if wait != 25*time.Second {
		t.Fatalf("expected 25s remaining wait, got %s", wait)
	}

	if ok, _ := m.Allow(prefix, now.Add(31*time.Second)); !ok {
		t.Fatal("an announcement past the MRAI window must be allowed")
	}
}

func TestMRAITracksPrefixesIndependently(t *testing.T) {
	m := NewMRAI(30 * time.Second)
	now := time.Now()
	m.MarkSent(pfx("10.0.0.0/24"), now)
	if ok, _ := m.Allow(pfx("10.0.1.0/24"), now); !ok {
		t.Fatal("a different prefix must not be rate-limited by another prefix's MRAI state")
	}
}
