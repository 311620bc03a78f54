package client

import (
	"net"
	"testing"
	"time"

	"github.com/ringlink/ringlink"
)

// fakeReconnectServer accepts one connection, runs the accepting side of
// the handshake, decodes the first envelope as a ReconnectRequest, and
// replies with the given result. It reports the request it actually
// observed on reqCh so the test can assert identity continuity.
func fakeReconnectServer(t *testing.T, ln net.Listener, result ringlink.ReconnectResult, reqCh chan<- ringlink.ReconnectRequest) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if err := ringlink.AcceptHandshake(conn); err != nil {
		t.Errorf("server handshake failed: %v", err)
		return
	}

	var observedReq ringlink.ReconnectRequest
	done := make(chan struct{})
	var transport *ringlink.ControlTransport
	transport = ringlink.NewControlTransport(conn,
		func(typ ringlink.PacketType, body []byte) {
			if typ != ringlink.PacketReconnect {
				return
			}
			if err := ringlink.UnmarshalBody(body, &observedReq); err != nil {
				t.Errorf("decoding ReconnectRequest: %v", err)
				return
			}
			result.UID = observedReq.UID
			replyBody, _ := ringlink.MarshalBody(result)
			transport.Send(ringlink.PacketReconnectResult, replyBody)
			close(done)
		},
		func() {},
	)
	go transport.Serve()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("server never received a ReconnectRequest")
		return
	}
	reqCh <- observedReq
	time.Sleep(50 * time.Millisecond)
}

// TestReconnectPreservesIdentityAcrossEndpointChange exercises the
// identity-continuity guarantee: across a reconnect, the server's view
// of {nickname_hash, token} is unchanged even though the client's
// control endpoint (and, after a NAT rebind, its media endpoint) may
// differ from the original connection.
func TestReconnectPreservesIdentityAcrossEndpointChange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	reqCh := make(chan ringlink.ReconnectRequest, 1)
	go fakeReconnectServer(t, ln, ringlink.ReconnectResult{Result: true, IsActiveCall: false}, reqCh)

	c := New(ln.Addr().String(), nil, nil)
	if err := c.BindMedia(); err != nil {
		t.Fatalf("BindMedia: %v", err)
	}
	originalMediaPort := c.mediaLocalPort()

	const nickname = "alice"
	const token = "persistent-token-123"
	c.state.mu.Lock()
	c.state.phase = AuthorizedDown
	c.state.nickname = nickname
	c.state.token = token
	c.state.mu.Unlock()

	restored := make(chan struct{}, 1)
	c.observer = connectionRestoredObserver{ch: restored}

	if stop := c.reconnect.attempt(); !stop {
		t.Fatal("attempt() should stop the retry loop on success")
	}

	select {
	case <-restored:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnectionRestored was never called")
	}

	var observed ringlink.ReconnectRequest
	select {
	case observed = <-reqCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed a request")
	}

	wantHash := ringlink.DefaultCrypto{}.Hash(nickname)
	if observed.NicknameHash != wantHash {
		t.Fatalf("server saw nickname_hash %q, want %q", observed.NicknameHash, wantHash)
	}
	if observed.Token != token {
		t.Fatalf("server saw token %q, want %q", observed.Token, token)
	}

	// The media endpoint is expected to change: rebind() must have
	// replaced the socket.
	newMediaPort := c.mediaLocalPort()
	if newMediaPort == originalMediaPort {
		t.Fatal("rebind() should bind a fresh local UDP port on reconnect")
	}
	if observed.UDPPort != newMediaPort {
		t.Fatalf("ReconnectRequest.UDPPort = %d, want the freshly rebound port %d", observed.UDPPort, newMediaPort)
	}

	c.state.mu.Lock()
	phase := c.state.phase
	c.state.mu.Unlock()
	if phase != AuthorizedUp {
		t.Fatalf("phase after successful reconnect = %v, want AuthorizedUp", phase)
	}
}

// TestReconnectHardRejectionClearsIdentity: a server-side token
// rejection (e.g. the user no longer exists) must drop local identity
// rather than retry forever.
func TestReconnectHardRejectionClearsIdentity(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	reqCh := make(chan ringlink.ReconnectRequest, 1)
	go fakeReconnectServer(t, ln, ringlink.ReconnectResult{Result: false}, reqCh)

	c := New(ln.Addr().String(), nil, nil)
	if err := c.BindMedia(); err != nil {
		t.Fatalf("BindMedia: %v", err)
	}

	c.state.mu.Lock()
	c.state.phase = AuthorizedDown
	c.state.nickname = "bob"
	c.state.token = "stale-token"
	c.state.mu.Unlock()

	needsAuth := make(chan struct{}, 1)
	c.observer = authNeededObserver{ch: needsAuth}

	if stop := c.reconnect.attempt(); !stop {
		t.Fatal("attempt() should stop the retry loop on a hard rejection")
	}

	select {
	case <-needsAuth:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnectionRestoredAuthorizationNeeded was never called")
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.phase != Unauthorized {
		t.Fatalf("phase after rejection = %v, want Unauthorized", c.state.phase)
	}
	if c.state.token != "" || c.state.nickname != "" {
		t.Fatal("identity should be cleared after a hard rejection")
	}
}

type connectionRestoredObserver struct {
	BaseObserver
	ch chan<- struct{}
}

func (o connectionRestoredObserver) OnConnectionRestored() {
	o.ch <- struct{}{}
}

type authNeededObserver struct {
	BaseObserver
	ch chan<- struct{}
}

func (o authNeededObserver) OnConnectionRestoredAuthorizationNeeded() {
	o.ch <- struct{}{}
}
