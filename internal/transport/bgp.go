package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/netlab-emu/agent/internal/errs"
)

// BGPPort is TCP port 179 (spec.md §6.1).
const BGPPort = 179

// Listener accepts inbound BGP TCP connections on both address families.
// The teacher's speaker opens one "tcp4" listener and blocks forever in
// Accept; this generalizes that to dual-stack and hands each accepted
// net.Conn to a caller-supplied handler on its own goroutine rather than
// the teacher's log.Fatal-on-Accept-error behavior, since one transient
// accept error must not take down every other peer's session.
type Listener struct {
	ln net.Listener
}

// Listen opens the BGP listener. network is "tcp4", "tcp6", or "tcp"
// (dual-stack, the default used when no address family is configured).
func Listen(network, bindAddr string) (*Listener, error) {
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, fmt.Sprintf("%s:%d", bindAddr, BGPPort))
	if err != nil {
		return nil, errs.Exhausted("bgp listen", err)
	}
	return &Listener{ln: ln}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, invoking handle for each one on its own goroutine. Accept
// errors are reported to onError rather than treated as fatal; only
// ctx cancellation or a closed listener stop the loop.
func (l *Listener) Serve(ctx context.Context, handle func(net.Conn), onError func(error)) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(errs.Exhausted("bgp accept", err))
			}
			continue
		}
		go handle(conn)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial opens an outbound BGP TCP connection to a peer (spec.md §4.4's
// Connect state active-open), honoring ctx for the connect-with-timeout
// semantics the FSM's ConnectRetryTimer requires.
func Dial(ctx context.Context, remoteAddr net.IP) (net.Conn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(remoteAddr.String(), fmt.Sprintf("%d", BGPPort)))
	if err != nil {
		return nil, errs.Exhausted("bgp dial", err)
	}
	return conn, nil
}
