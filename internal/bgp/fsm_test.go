package bgp

import (
	"testing"
	"time"

	"github.com/netlab-emu/agent/internal/timerwheel"
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

func newTestFSM(t *testing.T, cb Callbacks) *FSM {
	t.Helper()
	clock := timerwheel.NewFakeClock()
	wheel := timerwheel.New(clock)
	cfg := Config{LocalAS: 65001, RemoteAS: 65002, LocalBGPID: 0x01010101, HoldTime: 9 * time.Second}
	return New(cfg, wheel, cb)
}

func TestFSMHappyPathToEstablished(t *testing.T) {
	var established bool
	f := newTestFSM(t, Callbacks{
		Established: func(wire.Open) { established = true },
	})
	now := time.Now()

	f.Handle(ManualStart, now)
	if f.State() != Connect {
		t.Fatalf("expected Connect after ManualStart, got %s", f.State())
	}

	f.Handle(TCPConnectionSucceeded, now)
	if f.State() != OpenSent {
		t.Fatalf("expected OpenSent, got %s", f.State())
	}

	remote := wire.Open{Version: wire.Version, MyAS: 65002, HoldTime: 9, BGPIdentifier: 0x02020202}
	if !f.OnOpenReceived(remote) {
		t.Fatal("expected valid OPEN to be accepted")
	}
	f.Handle(OpenReceived, now)
	if f.State() != OpenConfirm {
		t.Fatalf("expected OpenConfirm, got %s", f.State())
	}

	f.Handle(KeepaliveReceived, now)
	if f.State() != Established {
		t.Fatalf("expected Established, got %s", f.State())
	}
	if !established {
		t.Fatal("expected Established callback to fire")
	}
}

func TestFSMRejectsMismatchedAS(t *testing.T) {
	var notified wire.Notification
	f := newTestFSM(t, Callbacks{
		SendNotification: func(n wire.Notification) { notified = n },
	})
	now := time.Now()
	f.Handle(ManualStart, now)
	f.Handle(TCPConnectionSucceeded, now)

	remote := wire.Open{Version: wire.Version, MyAS: 9999, HoldTime: 9, BGPIdentifier: 0x02020202}
	if f.OnOpenReceived(remote) {
		t.Fatal("expected OPEN with wrong AS to be rejected")
	}
	if notified.Code != wire.ErrOpenMessage || notified.Subcode != wire.SubBadPeerAS {
		t.Fatalf("expected OPEN Message/Bad Peer AS notification, got %d/%d", notified.Code, notified.Subcode)
	}
	if f.State() != Idle {
		t.Fatalf("expected Idle after rejecting OPEN, got %s", f.State())
	}
}

func TestFSMHoldTimeNegotiationTakesMinimum(t *testing.T) {
	f := newTestFSM(t, Callbacks{})
	remote := wire.Open{Version: wire.Version, MyAS: 65002, HoldTime: 3, BGPIdentifier: 0x02020202}
	f.OnOpenReceived(remote)
	if f.negotiatedHoldTime != 3*time.Second {
		t.Fatalf("expected negotiated hold time 3s (min of 9s local, 3s remote), got %s", f.negotiatedHoldTime)
	}
}

func TestFSMZeroHoldTimeEitherSideDisablesKeepalive(t *testing.T) {
	f := newTestFSM(t, Callbacks{})
	remote := wire.Open{Version: wire.Version, MyAS: 65002, HoldTime: 0, BGPIdentifier: 0x02020202}
	f.OnOpenReceived(remote)
	if f.negotiatedHoldTime != 0 {
		t.Fatalf("expected negotiated hold time 0 when remote declares 0, got %s", f.negotiatedHoldTime)
	}
}

func TestFSMNotificationDropsToIdleWithBackoff(t *testing.T) {
	f := newTestFSM(t, Callbacks{})
	now := time.Now()
	f.Handle(ManualStart, now)
	f.Handle(TCPConnectionSucceeded, now)
	f.OnOpenReceived(wire.Open{Version: wire.Version, MyAS: 65002, HoldTime: 9, BGPIdentifier: 0x02020202})
	f.Handle(OpenReceived, now)
	f.Handle(KeepaliveReceived, now)
	if f.State() != Established {
		t.Fatalf("expected Established before testing teardown, got %s", f.State())
	}

	f.Handle(NotificationReceived, now)
	if f.State() != Idle {
		t.Fatalf("expected Idle after NOTIFICATION, got %s", f.State())
	}
	if f.idleHoldTime != 2*MinIdleHoldTime {
		t.Fatalf("expected idle hold time to double after first automatic restart, got %s", f.idleHoldTime)
	}
}

func TestFSMClearedCallbackFiresOnlyWhenLeavingEstablished(t *testing.T) {
	cleared := 0
	f := newTestFSM(t, Callbacks{Cleared: func() { cleared++ }})
	now := time.Now()
	f.Handle(ManualStart, now)
	f.Handle(TCPConnectionSucceeded, now)
	if cleared != 0 {
		t.Fatalf("Cleared must not fire before ever reaching Established, got %d", cleared)
	}
	f.OnOpenReceived(wire.Open{Version: wire.Version, MyAS: 65002, HoldTime: 9, BGPIdentifier: 0x02020202})
	f.Handle(OpenReceived, now)
	f.Handle(KeepaliveReceived, now)
	f.Handle(TCPConnectionFails, now)
	if cleared != 1 {
		t.Fatalf("expected exactly one Cleared call on leaving Established, got %d", cleared)
	}
}

func TestResolveCollisionHigherBGPIDWins(t *testing.T) {
	f := newTestFSM(t, Callbacks{})
	f.localBGPID = 0x05050505
	f.remoteBGPID = 0x01010101 // local has higher ID
	f.haveIncoming = true
	f.haveOutgoing = true

	if loses := f.resolveCollision(false); loses {
		t.Error("with higher local BGP ID, the outgoing connection must survive")
	}
	if loses := f.resolveCollision(true); !loses {
		t.Error("with higher local BGP ID, the incoming connection must lose to the outgoing one")
	}
}
