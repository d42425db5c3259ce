package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestListenAndDialRoundTrip(t *testing.T) {
	ln, err := Listen("tcp4", "127.0.0.1")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.ln.Addr().(*net.TCPAddr).Port
	_ = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan net.Conn, 1)
	go ln.Serve(ctx, func(c net.Conn) { accepted <- c }, nil)

	addr := ln.ln.Addr().(*net.TCPAddr)
	conn, err := net.DialTimeout("tcp4", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the connection")
	}
}
