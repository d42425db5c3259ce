package bgp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/netlab-emu/agent/internal/errs"
	"github.com/netlab-emu/agent/internal/timerwheel"
	wire "github.com/netlab-emu/agent/internal/wire/bgp"
)

// Peer drives one BGP session's wire I/O and feeds it into the session's
// FSM — the same split the teacher draws between `peer.go` (owns the
// net.Conn, decides when to hand a decoded OPEN to the FSM) and
// `fsm/fsm.go` (pure transition logic), generalized here to UPDATE/
// NOTIFICATION/KEEPALIVE dispatch as well as OPEN.
type Peer struct {
	Addr    netip.Addr
	ASN4    bool // negotiated, valid only after Established
	FSM     *FSM
	AdjIn   *AdjRIBIn
	AdjOut  *AdjRIBOut

	// OnUpdate is invoked with every decoded UPDATE's paths and
	// withdrawals once the session is Established; RIB recomputation is
	// the Speaker's job, not this package's, so it is reached through a
	// callback rather than a direct dependency.
	OnUpdate func(peer *Peer, paths []Path, withdrawn []netip.Prefix)

	mu      sync.Mutex
	conn    net.Conn
	localAS uint32
}

// NewPeer builds a Peer with its Callbacks wired to write BGP messages
// on conn once it is attached via Attach. The FSM is usable before a
// connection exists (Idle/Connect/Active); Attach is called once a TCP
// connection — inbound or outbound — is available. dial is invoked on
// every ConnectRetryTimerExpires while not PassiveOnly; it is the
// Speaker's job to actually open the TCP connection (transport.Dial)
// and call Run once it succeeds. hooks supplies the Speaker-level
// callbacks (AcceptPassive, Established, Cleared, Log) this package
// has no business constructing itself; its Dial/SendOpen/SendKeepalive/
// SendNotification/DropTCP fields are ignored.
func NewPeer(cfg Config, wheel *timerwheel.Wheel, addr netip.Addr, dial func(), hooks Callbacks) *Peer {
	p := &Peer{Addr: addr, AdjIn: NewAdjRIBIn(), AdjOut: NewAdjRIBOut(), localAS: cfg.LocalAS}
	p.FSM = New(cfg, wheel, Callbacks{
		Dial:          dial,
		AcceptPassive: hooks.AcceptPassive,
		Established:   hooks.Established,
		Cleared:       hooks.Cleared,
		Log:           hooks.Log,
		SendOpen: func(holdTime uint16) {
			p.writeMessage(wire.TypeOpen, wire.EncodeOpen(wire.Open{
				Version:       wire.Version,
				MyAS:          effectiveMyAS(cfg.LocalAS),
				HoldTime:      holdTime,
				BGPIdentifier: cfg.LocalBGPID,
				Capabilities:  standardCapabilities(cfg.LocalAS),
			}))
		},
		SendKeepalive: func() {
			p.writeMessage(wire.TypeKeepalive, nil)
		},
		SendNotification: func(n wire.Notification) {
			p.writeMessage(wire.TypeNotification, wire.EncodeNotification(n))
		},
		DropTCP: func() {
			p.mu.Lock()
			c := p.conn
			p.conn = nil
			p.mu.Unlock()
			if c != nil {
				c.Close()
			}
		},
	})
	return p
}

// effectiveMyAS returns localAS capped to 16 bits, substituting
// AS_TRANS (RFC 6793 §4.2.1) when the real ASN doesn't fit.
func effectiveMyAS(localAS uint32) uint16 {
	const asTrans = 23456
	if localAS > 65535 {
		return asTrans
	}
	return uint16(localAS)
}

func standardCapabilities(localAS uint32) []wire.Capability {
	caps := []wire.Capability{
		{Code: wire.CapMultiprotocol, Value: wire.MultiprotocolValue(wire.AFIIPv6, wire.SAFIUnicast)},
		{Code: wire.CapRouteRefresh},
	}
	if localAS > 65535 {
		caps = append(caps, wire.Capability{Code: wire.CapASN4, Value: wire.ASN4Value(localAS)})
	}
	return caps
}

// Attach binds conn to the peer. It does not record the connection's
// direction; the FSM learns that from the TCP event it is handed
// (TCPConnectionSucceeded for a dial, TCPConnectionConfirmed for an
// accepted connection).
func (p *Peer) Attach(conn net.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

// SendUpdate writes a pre-built UPDATE message body (see
// Path.EncodeAnnounce/EncodeWithdraw) if the session is Established;
// the Speaker is responsible for MRAI pacing and Adj-RIB-Out diffing
// before calling this.
func (p *Peer) SendUpdate(body []byte) {
	if p.FSM.State() != Established {
		return
	}
	p.writeMessage(wire.TypeUpdate, body)
}

func (p *Peer) writeMessage(t wire.MessageType, body []byte) {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c == nil {
		return
	}
	frame := wire.EncodeHeader(wire.Header{Type: t}, body)
	if _, err := c.Write(frame); err != nil {
		if p.FSM.cb.Log != nil {
			p.FSM.cb.Log("bgp peer %s: write failed: %v", p.Addr, err)
		}
	}
	p.FSM.OnSend()
}

// Run reads framed BGP messages off conn until it errs or ctx-like
// cancellation happens via conn.Close(), dispatching each to the FSM.
// Intended to run on its own goroutine per established TCP connection,
// the same one-goroutine-per-conn shape as the teacher's
// `handleConnection`.
func (p *Peer) Run(conn net.Conn) error {
	p.Attach(conn)
	r := bufio.NewReader(conn)
	hdrBuf := make([]byte, wire.HeaderLen)

	for {
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			p.FSM.Handle(TCPConnectionFails, time.Now())
			return err
		}
		declaredLen := int(hdrBuf[16])<<8 | int(hdrBuf[17])
		bodyLen := declaredLen - wire.HeaderLen
		if bodyLen < 0 || declaredLen > wire.MaxMessageLen {
			p.sendMalformed(wire.ErrMessageHeader, wire.SubBadMessageLength)
			return errs.Malformed(16, "declared BGP message length out of range")
		}
		frame := make([]byte, declaredLen)
		copy(frame, hdrBuf)
		if bodyLen > 0 {
			if _, err := io.ReadFull(r, frame[wire.HeaderLen:]); err != nil {
				p.FSM.Handle(TCPConnectionFails, time.Now())
				return err
			}
		}
		h, body, err := wire.DecodeHeader(frame)
		if err != nil {
			// bodyLen/declaredLen above already rule out a length
			// problem; the only failure DecodeHeader can still report
			// here is the marker check.
			p.sendMalformed(wire.ErrMessageHeader, wire.SubConnNotSynced)
			return err
		}
		p.dispatch(h.Type, body)
	}
}

// sendMalformed reports a locally detected decode failure: it sends a
// classified NOTIFICATION and drops the session to Idle (spec.md
// §4.4/§7 — "any parse error in a BGP message sends NOTIFICATION with
// the appropriate code/subcode and drops the session to Idle").
func (p *Peer) sendMalformed(code, subcode uint8) {
	p.FSM.Fail(code, subcode)
}

func (p *Peer) dispatch(t wire.MessageType, body []byte) {
	now := time.Now()
	switch t {
	case wire.TypeOpen:
		open, err := wire.DecodeOpen(body)
		if err != nil {
			p.sendMalformed(wire.ErrOpenMessage, wire.SubUnsupportedOptParam)
			return
		}
		if ok := p.FSM.OnOpenReceived(open); !ok {
			return
		}
		p.FSM.Handle(OpenReceived, now)
	case wire.TypeKeepalive:
		p.FSM.Handle(KeepaliveReceived, now)
	case wire.TypeNotification:
		p.FSM.Handle(NotificationReceived, now)
	case wire.TypeUpdate:
		p.FSM.Handle(UpdateReceived, now)
		if p.FSM.State() != Established {
			return
		}
		u, err := wire.DecodeUpdate(body)
		if err != nil {
			p.sendMalformed(wire.ErrUpdateMessage, wire.SubMalformedAttrList)
			return
		}
		p.handleUpdate(u)
	}
}

func (p *Peer) handleUpdate(u wire.Update) {
	_, asn4 := p.FSM.remoteOpen.ASN4()
	peerIsExternal := p.FSM.cfg.RemoteAS != p.FSM.cfg.LocalAS

	withdrawn, err := WithdrawnPrefixes(u)
	if err != nil {
		p.sendMalformed(wire.ErrUpdateMessage, wire.SubInvalidNetworkField)
		return
	}
	for _, w := range withdrawn {
		p.AdjIn.Withdraw(w)
	}

	paths, err := FromUpdate(u, p.FSM.remoteBGPID, peerIsExternal, p.Addr, asn4, DefaultLocalPref, p.localAS)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) && e.Kind == errs.ProtocolViolation {
			p.sendMalformed(wire.ErrUpdateMessage, wire.SubMalformedASPath)
		} else {
			p.sendMalformed(wire.ErrUpdateMessage, wire.SubMalformedAttrList)
		}
		return
	}
	for _, path := range paths {
		p.AdjIn.Update(path)
	}

	if p.OnUpdate != nil {
		p.OnUpdate(p, paths, withdrawn)
	}
}

// DefaultLocalPref is applied to paths received without a LOCAL_PREF
// attribute from an eBGP peer (the attribute is iBGP-only, RFC 4271
// §5.1.5).
const DefaultLocalPref = 100
