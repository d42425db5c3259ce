// Package bgp implements the BGP-4 peer session: the 6-state FSM
// (spec.md §4.4), Adj-RIB-In/Loc-RIB/Adj-RIB-Out (spec.md §4.5), and
// the decision process that picks each destination's best path.
package bgp

import (
	"time"

	"github.com/netlab-emu/agent/internal/timerwheel"
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

// State is one of the 6 BGP peer session states (RFC 4271 §8, spec.md
// §4.4).
type State int

const (
	Idle State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	return [...]string{"Idle", "Connect", "Active", "OpenSent", "OpenConfirm", "Established"}[s]
}

// Event is one of the FSM events this implementation drives. Only the
// mandatory subset of RFC 4271 §8.1 is modeled; the optional
// DelayOpen/damp-oscillation machinery the teacher's fsm.go stubbed out
// is resolved by always running with IdleHoldTime backoff instead
// (spec.md's supplemented feature, see SPEC_FULL.md).
type Event int

const (
	ManualStart Event = iota
	ManualStop
	ConnectRetryTimerExpires
	HoldTimerExpires
	KeepaliveTimerExpires
	IdleHoldTimerExpires
	TCPConnectionConfirmed // passive side: inbound connection accepted
	TCPConnectionSucceeded // active side: outbound dial succeeded
	TCPConnectionFails
	OpenReceived
	KeepaliveReceived
	UpdateReceived
	NotificationReceived
	OpenCollisionDump // lost a connection collision, see resolveCollision
)

// DefaultConnectRetryTime, DefaultHoldTime and DefaultKeepaliveTime are
// RFC 4271 §10's suggested defaults.
const (
	DefaultConnectRetryTime = 120 * time.Second
	DefaultHoldTime         = 90 * time.Second
	DefaultKeepaliveTime    = DefaultHoldTime / 3
)

// MinIdleHoldTime and MaxIdleHoldTime bound the exponential backoff
// applied to repeated automatic restarts (spec.md's supplemented
// IdleHoldTime shape; RFC 4271 leaves the exact curve unspecified).
const (
	MinIdleHoldTime = 1 * time.Second
	MaxIdleHoldTime = 120 * time.Second
)

// Callbacks are the FSM's outbound side effects, injected so transition
// logic stays a pure (state, event) -> state function per spec.md §9.
type Callbacks struct {
	Dial              func()
	AcceptPassive     func()
	DropTCP           func()
	SendOpen          func(holdTime uint16)
	SendKeepalive     func()
	SendNotification  func(n wire.Notification)
	Established       func(remoteOpen wire.Open)
	Cleared           func() // left Established, Loc-RIB paths from this peer must be withdrawn
	Log               func(format string, args ...any)
}

// Config is the static per-peer configuration driving the FSM.
type Config struct {
	LocalAS         uint32
	RemoteAS        uint32
	LocalBGPID      uint32
	PassiveOnly     bool // accept-only, never dial (spec.md §4.4 Non-goal: no active automatic start beyond this)
	HoldTime        time.Duration
	ConnectRetryTime time.Duration
}

// FSM is one BGP peer session's state machine.
type FSM struct {
	cfg Config
	cb  Callbacks

	wheel *timerwheel.Wheel
	state State

	connectRetryCounter int
	idleHoldTime        time.Duration

	negotiatedHoldTime time.Duration
	localBGPID         uint32
	remoteBGPID        uint32
	remoteOpen         wire.Open

	// collision resolution per RFC 4271 §6.8: at most one TCP connection
	// survives OpenConfirm. haveIncoming/haveOutgoing record which
	// direction(s) are mid-handshake so a later OPEN from the other
	// direction can be compared and the loser dropped.
	haveIncoming bool
	haveOutgoing bool
}

// New creates an FSM in Idle. Callers drive it by calling Handle as
// events arrive (timer fires, socket events, decoded messages).
func New(cfg Config, wheel *timerwheel.Wheel, cb Callbacks) *FSM {
	if cfg.HoldTime == 0 {
		cfg.HoldTime = DefaultHoldTime
	}
	if cfg.ConnectRetryTime == 0 {
		cfg.ConnectRetryTime = DefaultConnectRetryTime
	}
	return &FSM{cfg: cfg, cb: cb, wheel: wheel, state: Idle, idleHoldTime: MinIdleHoldTime, localBGPID: cfg.LocalBGPID}
}

func (f *FSM) State() State { return f.state }

func (f *FSM) log(format string, args ...any) {
	if f.cb.Log != nil {
		f.cb.Log(format, args...)
	}
}

func (f *FSM) transition(to State) {
	from := f.state
	f.state = to
	if from != to {
		f.log("fsm: %s -> %s", from, to)
		if from == Established && to != Established && f.cb.Cleared != nil {
			f.cb.Cleared()
		}
	}
}

// Handle processes one event. As with the OSPF neighbor FSM, callers
// must serialize calls for a given peer (spec.md §5).
func (f *FSM) Handle(event Event, now time.Time) {
	switch f.state {
	case Idle:
		f.handleIdle(event)
	case Connect:
		f.handleConnect(event, now)
	case Active:
		f.handleActive(event, now)
	case OpenSent:
		f.handleOpenSent(event)
	case OpenConfirm:
		f.handleOpenConfirm(event)
	case Established:
		f.handleEstablished(event, now)
	}
}

func (f *FSM) handleIdle(event Event) {
	switch event {
	case ManualStart, IdleHoldTimerExpires:
		f.connectRetryCounter = 0
		f.wheel.Start(timerwheel.ConnectRetry, f.cfg.ConnectRetryTime, func() {})
		if f.cfg.PassiveOnly {
			if f.cb.AcceptPassive != nil {
				f.cb.AcceptPassive()
			}
			f.transition(Active)
		} else {
			if f.cb.Dial != nil {
				f.cb.Dial()
			}
			f.transition(Connect)
		}
	}
}

func (f *FSM) handleConnect(event Event, now time.Time) {
	switch event {
	case TCPConnectionSucceeded:
		f.haveOutgoing = true
		f.wheel.Stop(timerwheel.ConnectRetry)
		f.sendOpen()
		f.transition(OpenSent)
	case TCPConnectionConfirmed:
		f.haveIncoming = true
		f.wheel.Stop(timerwheel.ConnectRetry)
		f.sendOpen()
		f.transition(OpenSent)
	case ConnectRetryTimerExpires:
		if f.cb.Dial != nil {
			f.cb.Dial()
		}
		f.wheel.Start(timerwheel.ConnectRetry, f.cfg.ConnectRetryTime, func() {})
	case TCPConnectionFails:
		f.wheel.Start(timerwheel.ConnectRetry, f.cfg.ConnectRetryTime, func() {})
		f.transition(Active)
	case ManualStop:
		f.stopAndIdle()
	}
}

func (f *FSM) handleActive(event Event, now time.Time) {
	switch event {
	case TCPConnectionSucceeded, TCPConnectionConfirmed:
		f.haveIncoming = event == TCPConnectionConfirmed
		f.haveOutgoing = event == TCPConnectionSucceeded
		f.wheel.Stop(timerwheel.ConnectRetry)
		f.sendOpen()
		f.transition(OpenSent)
	case ConnectRetryTimerExpires:
		if f.cb.Dial != nil {
			f.cb.Dial()
		}
		f.wheel.Start(timerwheel.ConnectRetry, f.cfg.ConnectRetryTime, func() {})
		f.transition(Connect)
	case TCPConnectionFails:
		f.backoffToIdle()
	case ManualStop:
		f.stopAndIdle()
	}
}

func (f *FSM) sendOpen() {
	if f.cb.SendOpen != nil {
		f.cb.SendOpen(uint16(f.cfg.HoldTime / time.Second))
	}
}

// negotiateHoldTime records the peer's OPEN and BGP Identifier and
// negotiates Hold Time (min of the two, spec.md §4.4). Collision
// handling is resolveCollision's job.
func (f *FSM) negotiateHoldTime(remote wire.Open) {
	remoteHold := time.Duration(remote.HoldTime) * time.Second
	hold := f.cfg.HoldTime
	if remoteHold != 0 && remoteHold < hold {
		hold = remoteHold
	}
	if f.cfg.HoldTime == 0 || remote.HoldTime == 0 {
		hold = 0 // either side's 0 disables keepalives entirely
	}
	f.negotiatedHoldTime = hold
	f.remoteBGPID = remote.BGPIdentifier
	f.remoteOpen = remote
}

func (f *FSM) handleOpenSent(event Event) {
	switch event {
	case OpenReceived:
		// the peer supplies its OPEN on this connection's Handle call
		// site via OnOpenReceived before this event is raised; see that
		// method for where negotiateHoldTime actually runs.
		if f.cb.SendKeepalive != nil {
			f.cb.SendKeepalive()
		}
		if f.negotiatedHoldTime > 0 {
			f.wheel.Start(timerwheel.Hold, f.negotiatedHoldTime, func() {})
		}
		f.transition(OpenConfirm)
	case TCPConnectionFails:
		f.backoffToIdle()
	case NotificationReceived:
		f.backoffToIdle()
	case ManualStop:
		f.sendCeaseAndIdle()
	}
}

// OnOpenReceived must be called by the transport layer with the
// decoded OPEN body before raising OpenReceived, so Hold Time
// negotiation and collision resolution have the peer's BGP Identifier
// and declared AS available. It returns false if the OPEN is invalid
// per spec.md §4.4 and a NOTIFICATION has already been sent.
func (f *FSM) OnOpenReceived(remote wire.Open) bool {
	if v := remote.Valid(); v != nil {
		f.sendNotification(wire.ErrOpenMessage, wire.SubUnacceptableHold, nil)
		f.backoffToIdle()
		return false
	}
	if uint32(remote.MyAS) != f.cfg.RemoteAS && remote.MyAS != 23456 {
		if asn4, ok := remote.ASN4(); !ok || asn4 != f.cfg.RemoteAS {
			f.sendNotification(wire.ErrOpenMessage, wire.SubBadPeerAS, nil)
			f.backoffToIdle()
			return false
		}
	}
	f.negotiateHoldTime(remote)
	return true
}

// resolveCollision implements RFC 4271 §6.8: when both an incoming and
// outgoing connection reach OpenConfirm for the same peer, the
// connection initiated by the BGP speaker with the higher BGP
// Identifier survives (i.e. that speaker's outgoing connection, which
// is the other speaker's incoming one); the other is closed with
// Cease/Connection Collision Resolution. thisIsIncoming identifies
// which of the two connections is being asked about; it reports
// whether that connection should be torn down.
func (f *FSM) resolveCollision(thisIsIncoming bool) (loseThisOne bool) {
	if !f.haveIncoming || !f.haveOutgoing {
		return false
	}
	localWins := f.localBGPID > f.remoteBGPID
	return thisIsIncoming == localWins
}

func (f *FSM) handleOpenConfirm(event Event) {
	switch event {
	case KeepaliveReceived:
		if f.negotiatedHoldTime > 0 {
			f.wheel.Reset(timerwheel.Hold, f.negotiatedHoldTime)
		}
		if f.negotiatedHoldTime > 0 {
			f.wheel.Start(timerwheel.Keepalive, f.negotiatedHoldTime/3, func() {})
		}
		f.connectRetryCounter = 0
		if f.cb.Established != nil {
			f.cb.Established(f.remoteOpen)
		}
		f.transition(Established)
	case HoldTimerExpires:
		f.sendNotification(wire.ErrHoldTimerExpired, 0, nil)
		f.backoffToIdle()
	case NotificationReceived, TCPConnectionFails:
		f.backoffToIdle()
	case OpenCollisionDump:
		f.sendNotification(wire.ErrCease, wire.SubCeaseConnectionCollision, nil)
		f.backoffToIdle()
	case ManualStop:
		f.sendCeaseAndIdle()
	}
}

func (f *FSM) handleEstablished(event Event, now time.Time) {
	switch event {
	case KeepaliveReceived, UpdateReceived:
		if f.negotiatedHoldTime > 0 {
			f.wheel.Reset(timerwheel.Hold, f.negotiatedHoldTime)
		}
	case HoldTimerExpires:
		f.sendNotification(wire.ErrHoldTimerExpired, 0, nil)
		f.backoffToIdle()
	case NotificationReceived, TCPConnectionFails:
		f.backoffToIdle()
	case ManualStop:
		f.sendCeaseAndIdle()
	}
}

// OnSend must be called by the transport layer whenever a KEEPALIVE or
// UPDATE is actually written to the wire: it restarts the Keepalive
// timer per RFC 4271 §4.4 ("each time ... restarts its KeepaliveTimer,
// unless the negotiated Hold Time is zero").
func (f *FSM) OnSend() {
	if f.negotiatedHoldTime != 0 {
		f.wheel.Reset(timerwheel.Keepalive, f.negotiatedHoldTime/3)
	}
}

func (f *FSM) sendNotification(code, subcode uint8, data []byte) {
	if f.cb.SendNotification != nil {
		f.cb.SendNotification(wire.Notification{Code: code, Subcode: subcode, Data: data})
	}
}

// Fail reports a locally detected error on the session: it sends a
// NOTIFICATION with the given code/subcode and backs the session off
// to Idle, the response spec.md §4.4/§7 prescribes for a malformed or
// semantically invalid message received from the peer (as opposed to
// NotificationReceived, which reacts to a NOTIFICATION the peer sent
// us).
func (f *FSM) Fail(code, subcode uint8) {
	f.sendNotification(code, subcode, nil)
	f.backoffToIdle()
}

func (f *FSM) sendCeaseAndIdle() {
	f.sendNotification(wire.ErrCease, wire.SubCeaseAdminShutdown, nil)
	f.stopAndIdle()
}

func (f *FSM) stopAndIdle() {
	f.wheel.StopAll()
	if f.cb.DropTCP != nil {
		f.cb.DropTCP()
	}
	f.haveIncoming, f.haveOutgoing = false, false
	f.idleHoldTime = MinIdleHoldTime
	f.transition(Idle)
}

// backoffToIdle implements the supplemented IdleHoldTime behavior:
// each automatic restart doubles the hold time in Idle, capped at
// MaxIdleHoldTime, damping oscillation (spec.md's carried-forward
// feature; RFC 4271's DampPeerOscillations left the curve
// unspecified).
func (f *FSM) backoffToIdle() {
	f.wheel.StopAll()
	if f.cb.DropTCP != nil {
		f.cb.DropTCP()
	}
	f.haveIncoming, f.haveOutgoing = false, false
	f.connectRetryCounter++
	f.transition(Idle)
	hold := f.idleHoldTime
	f.idleHoldTime *= 2
	if f.idleHoldTime > MaxIdleHoldTime {
		f.idleHoldTime = MaxIdleHoldTime
	}
	f.wheel.Start(timerwheel.IdleHold, hold, func() {})
}
