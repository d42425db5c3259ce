// Package transport owns every byte this agent puts on or takes off the
// wire below the protocol codecs: the OSPF raw multicast socket, the BGP
// TCP listener/dialer, and GRE encapsulation (spec.md §6.1, C2).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/netlab-emu/agent/internal/errs"
)

// ProtocolOSPF is IP protocol number 89 (spec.md §6.1).
const ProtocolOSPF = 89

// Well-known OSPF multicast destinations (spec.md §4.1, §6.1).
var (
	AllSPFRoutersV4 = net.ParseIP("224.0.0.5")
	AllDRoutersV4   = net.ParseIP("224.0.0.6")
	AllSPFRoutersV6 = net.ParseIP("ff02::5")
	AllDRoutersV6   = net.ParseIP("ff02::6")
)

// readTimeout bounds each blocking read so the socket's receive loop can
// notice context cancellation promptly, mirroring the deadline-driven
// cancellation pattern raw ICMPv6 listeners use for the same reason.
const readTimeout = 500 * time.Millisecond

// Packet is one received OSPF PDU plus the metadata needed to hand it to
// the right Interface/neighbor: the wire payload is handed to the
// internal/wire/ospf codec unchanged, IfIndex resolves which Interface it
// arrived on (spec.md §6.1: "per-packet control message access... needed
// to resolve which Interface a Hello arrived on").
type Packet struct {
	Payload []byte
	Src     net.IP
	IfIndex int
}

// Socket is a raw IP protocol-89 multicast socket for one address family.
// OSPFv2 (this implementation's only in-scope OSPF variant) uses the V4
// socket; the V6 socket is carried as shared transport infrastructure for
// an OSPFv3 deployment this repo's core does not itself speak.
type Socket struct {
	pc net.PacketConn
	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn
}

// NewOSPFv2Socket opens a raw IPv4 protocol-89 socket and enables the
// control messages needed to learn the arrival interface of each packet.
// It requires CAP_NET_RAW (or root), the same privilege raw ICMPv6/NDP
// listeners require.
func NewOSPFv2Socket() (*Socket, error) {
	pc, err := net.ListenPacket("ip4:89", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("listen ip4:89: %w", err)
	}
	p := ipv4.NewPacketConn(pc)
	if err := p.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("enable ipv4 control messages: %w", err)
	}
	if err := p.SetMulticastTTL(1); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		pc.Close()
		return nil, fmt.Errorf("disable multicast loopback: %w", err)
	}
	return &Socket{pc: pc, v4: p}, nil
}

// NewOSPFv3Socket opens the IPv6 equivalent, for an OSPFv3 deployment.
func NewOSPFv3Socket() (*Socket, error) {
	pc, err := net.ListenPacket("ip6:89", "::")
	if err != nil {
		return nil, fmt.Errorf("listen ip6:89: %w", err)
	}
	p := ipv6.NewPacketConn(pc)
	if err := p.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("enable ipv6 control messages: %w", err)
	}
	if err := p.SetMulticastHopLimit(1); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set multicast hop limit: %w", err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		pc.Close()
		return nil, fmt.Errorf("disable multicast loopback: %w", err)
	}
	return &Socket{pc: pc, v6: p}, nil
}

// JoinGroup joins the socket to a multicast group (AllSPFRouters or
// AllDRouters) on the given interface, or every multicast-capable
// interface when ifi is nil.
func (s *Socket) JoinGroup(ifi *net.Interface, group net.IP) error {
	if s.v4 != nil {
		return s.v4.JoinGroup(ifi, &net.IPAddr{IP: group})
	}
	return s.v6.JoinGroup(ifi, &net.IPAddr{IP: group})
}

// LeaveGroup undoes a prior JoinGroup, used when an interface goes
// operationally down or the network type no longer requires the group
// (spec.md §4.3: DR-only interfaces leave AllDRouters once they stop
// being DR or BDR).
func (s *Socket) LeaveGroup(ifi *net.Interface, group net.IP) error {
	if s.v4 != nil {
		return s.v4.LeaveGroup(ifi, &net.IPAddr{IP: group})
	}
	return s.v6.LeaveGroup(ifi, &net.IPAddr{IP: group})
}

// SetReadBuffer grows the socket's receive buffer (SO_RCVBUF). No code
// in the agent calls it. The option is not exposed via
// ipv4/ipv6.PacketConn, so it is set through the raw file descriptor
// with golang.org/x/sys/unix.
func (s *Socket) SetReadBuffer(bytes int) error {
	return setReadBuffer(s.pc, bytes)
}

// syscallConn is the subset of syscall.RawConn used here.
type syscallConn interface {
	Control(f func(fd uintptr)) error
}

func setReadBuffer(pc net.PacketConn, bytes int) error {
	sc, ok := pc.(syscall.Conn)
	if !ok {
		return errors.New("transport: connection does not support SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var raw syscallConn = rc
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// SendTo transmits payload to dst out the given interface (nil lets the
// kernel route it, used for unicast retransmissions to a specific
// neighbor rather than the multicast groups).
func (s *Socket) SendTo(payload []byte, dst net.IP, ifi *net.Interface) error {
	if s.v4 != nil {
		var cm *ipv4.ControlMessage
		if ifi != nil {
			cm = &ipv4.ControlMessage{IfIndex: ifi.Index}
		}
		_, err := s.v4.WriteTo(payload, cm, &net.IPAddr{IP: dst})
		return err
	}
	var cm *ipv6.ControlMessage
	if ifi != nil {
		cm = &ipv6.ControlMessage{IfIndex: ifi.Index}
	}
	_, err := s.v6.WriteTo(payload, cm, &net.IPAddr{IP: dst})
	return err
}

// ReadFrom blocks until one packet arrives, ctx is cancelled, or a
// non-timeout read error occurs. It is meant to be called in a loop by
// the owning Interface's receive goroutine.
func (s *Socket) ReadFrom(ctx context.Context, buf []byte) (Packet, error) {
	for {
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		default:
		}

		if err := s.pc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return Packet{}, errs.Exhausted("set read deadline", err)
		}

		if s.v4 != nil {
			n, cm, src, err := s.v4.ReadFrom(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				if ctx.Err() != nil {
					return Packet{}, ctx.Err()
				}
				return Packet{}, errs.Exhausted("ospf v4 read", err)
			}
			pkt := Packet{Payload: append([]byte(nil), buf[:n]...), Src: ipFrom(src)}
			if cm != nil {
				pkt.IfIndex = cm.IfIndex
			}
			return pkt, nil
		}

		n, cm, src, err := s.v6.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return Packet{}, ctx.Err()
			}
			return Packet{}, errs.Exhausted("ospf v6 read", err)
		}
		pkt := Packet{Payload: append([]byte(nil), buf[:n]...), Src: ipFrom(src)}
		if cm != nil {
			pkt.IfIndex = cm.IfIndex
		}
		return pkt, nil
	}
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.pc.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func ipFrom(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}
