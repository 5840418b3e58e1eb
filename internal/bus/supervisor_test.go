package bus

import (
	"net"
	"testing"
	"time"
)

func TestSupervisorConnectSucceeds(t *testing.T) {
	addr, stop := fakeBusServer(t, "", nil)
	defer stop()
	host, port := splitHostPort(t, addr)

	sup := NewSupervisor(Config{Host: host, Port: port}, 3, 50*time.Millisecond)
	conn, err := sup.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
}

func TestSupervisorReconnectFailsFastWhenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port := splitHostPort(t, ln.Addr().String())
	_ = ln.Close() // nothing is listening on this address anymore

	sup := NewSupervisor(Config{Host: host, Port: port}, 1, 10*time.Millisecond)
	if _, err := sup.Reconnect(100 * time.Millisecond); err == nil {
		t.Fatalf("expected Reconnect to fail against an unreachable address")
	}
}
