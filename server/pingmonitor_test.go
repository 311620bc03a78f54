package server

import (
	"net"
	"testing"
	"time"

	"github.com/ringlink/ringlink"
)

func newTestPingMonitor(t *testing.T, onTimeout func(string)) (*pingMonitor, *Registry, *net.UDPConn) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	r := NewRegistry(64)
	mt := ringlink.NewMediaTransport(conn, nil)
	return newPingMonitor(r, mt, onTimeout), r, conn
}

// TestPingMonitorBroadcastsToRegisteredEndpoints drives one broadcast
// and asserts a real ping datagram lands on the user's media socket.
func TestPingMonitorBroadcastsToRegisteredEndpoints(t *testing.T) {
	pm, r, _ := newTestPingMonitor(t, func(string) {})

	userConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer userConn.Close()
	userAddr := userConn.LocalAddr().(*net.UDPAddr)

	if _, ok := r.Authorize("a", "tok-a", [32]byte{}, nil, userAddr, nil); !ok {
		t.Fatal("Authorize failed")
	}

	pm.broadcast()

	buf := make([]byte, 64)
	userConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := userConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("user endpoint never received a ping: %v", err)
	}
	typ, ok := ringlink.PeekMediaPacketType(buf[:n])
	if !ok || typ != ringlink.MediaTypePing {
		t.Fatalf("received type = %d, want ping", typ)
	}
}

// TestPingMonitorSweepMarksSilentUserDown exercises the liveness state
// machine without waiting out the real cadence: an endpoint that
// answers between sweeps stays up, one that goes silent is handed to
// the timeout callback exactly once.
func TestPingMonitorSweepMarksSilentUserDown(t *testing.T) {
	var timedOut []string
	pm, r, _ := newTestPingMonitor(t, func(hash string) { timedOut = append(timedOut, hash) })

	userConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer userConn.Close()
	userAddr := userConn.LocalAddr().(*net.UDPAddr)

	if _, ok := r.Authorize("a", "tok-a", [32]byte{}, nil, userAddr, nil); !ok {
		t.Fatal("Authorize failed")
	}

	pm.broadcast()
	pm.handlePong(userAddr)
	pm.sweep()
	if len(timedOut) != 0 {
		t.Fatalf("an answering endpoint was timed out: %v", timedOut)
	}

	// No pong before the next sweep: the user goes down.
	pm.broadcast()
	pm.sweep()
	if len(timedOut) != 1 || timedOut[0] != "a" {
		t.Fatalf("timedOut = %v, want [a]", timedOut)
	}

	// The entry is removed on timeout; further sweeps must not re-fire.
	pm.sweep()
	if len(timedOut) != 1 {
		t.Fatalf("timeout fired again: %v", timedOut)
	}
}

// TestPingMonitorIgnoresUnknownPong: a pong from an endpoint that was
// never pinged must not create state.
func TestPingMonitorIgnoresUnknownPong(t *testing.T) {
	pm, _, _ := newTestPingMonitor(t, func(string) {})
	pm.handlePong(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999})
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if len(pm.answered) != 0 {
		t.Fatalf("answered map = %v, want empty", pm.answered)
	}
}
