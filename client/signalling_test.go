package client

import (
	"testing"
	"time"

	"github.com/ringlink/ringlink"
	"github.com/ringlink/ringlink/server"
)

// testHarness wires a real Server and two real Clients together over
// loopback TCP/UDP, exercising the actual wire protocol end to end
// rather than faking net.Conn.
type testHarness struct {
	t        *testing.T
	srv      *server.Server
	alice    *Client
	bob      *Client
	aliceObs *recordingObserver
	bobObs   *recordingObserver
}

type recordingObserver struct {
	BaseObserver
	authResult       chan ringlink.ErrorCode
	incomingCall     chan string
	outgoingAccepted chan struct{}
	outgoingDeclined chan struct{}
	acceptResult     chan ringlink.ErrorCode
	callEndedRemote  chan ringlink.ErrorCode
	logoutDone       chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		authResult:       make(chan ringlink.ErrorCode, 4),
		incomingCall:     make(chan string, 4),
		outgoingAccepted: make(chan struct{}, 4),
		outgoingDeclined: make(chan struct{}, 4),
		acceptResult:     make(chan ringlink.ErrorCode, 4),
		callEndedRemote:  make(chan ringlink.ErrorCode, 4),
		logoutDone:       make(chan struct{}, 4),
	}
}

func (o *recordingObserver) OnAuthorizationResult(code ringlink.ErrorCode) { o.authResult <- code }
func (o *recordingObserver) OnIncomingCall(nickname string)                { o.incomingCall <- nickname }
func (o *recordingObserver) OnOutgoingCallAccepted()                       { o.outgoingAccepted <- struct{}{} }
func (o *recordingObserver) OnOutgoingCallDeclined()                       { o.outgoingDeclined <- struct{}{} }
func (o *recordingObserver) OnAcceptCallResult(code ringlink.ErrorCode)    { o.acceptResult <- code }
func (o *recordingObserver) OnCallEndedByRemote(code ringlink.ErrorCode)   { o.callEndedRemote <- code }
func (o *recordingObserver) OnLogoutCompleted()                            { o.logoutDone <- struct{}{} }

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	srv, err := server.New(server.Config{ControlAddr: "127.0.0.1:0", MediaAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	addr := srv.ControlAddr().String()

	aliceObs := newRecordingObserver()
	bobObs := newRecordingObserver()
	alice := New(addr, nil, aliceObs)
	bob := New(addr, nil, bobObs)

	for _, c := range []*Client{alice, bob} {
		if err := c.BindMedia(); err != nil {
			t.Fatalf("BindMedia: %v", err)
		}
		if err := c.Connect(); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	return &testHarness{t: t, srv: srv, alice: alice, bob: bob, aliceObs: aliceObs, bobObs: bobObs}
}

func authorizeAndWait(t *testing.T, c *Client, obs *recordingObserver, nickname string) {
	t.Helper()
	if code := c.Authorize(nickname); code != ringlink.Success {
		t.Fatalf("Authorize(%s) = %v, want Success", nickname, code)
	}
	select {
	case code := <-obs.authResult:
		if code != ringlink.Success {
			t.Fatalf("OnAuthorizationResult(%s) = %v, want Success", nickname, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("authorization for %s never completed", nickname)
	}
}

// TestAuthorizeAndLogout: a user authorizes, then logs out cleanly.
func TestAuthorizeAndLogout(t *testing.T) {
	h := newTestHarness(t)
	authorizeAndWait(t, h.alice, h.aliceObs, "alice")

	if code := h.alice.Logout(); code != ringlink.Success {
		t.Fatalf("Logout() = %v, want Success", code)
	}
	select {
	case <-h.aliceObs.logoutDone:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLogoutCompleted never fired")
	}
	if h.alice.Snapshot().Phase != Unauthorized {
		t.Fatal("phase after logout should be Unauthorized")
	}
}

// TestSimpleCallLifecycle: alice calls bob, bob
// accepts, both sides observe an active call, then alice ends it and bob
// is notified.
func TestSimpleCallLifecycle(t *testing.T) {
	h := newTestHarness(t)
	authorizeAndWait(t, h.alice, h.aliceObs, "alice")
	authorizeAndWait(t, h.bob, h.bobObs, "bob")

	if code := h.alice.StartOutgoingCall("bob"); code != ringlink.Success {
		t.Fatalf("StartOutgoingCall = %v, want Success", code)
	}

	var bobSawCallFrom string
	select {
	case bobSawCallFrom = <-h.bobObs.incomingCall:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never observed the incoming call")
	}
	if bobSawCallFrom != "alice" {
		t.Fatalf("bob's incoming call is from %q, want alice", bobSawCallFrom)
	}

	if code := h.bob.AcceptCall("alice"); code != ringlink.Success {
		t.Fatalf("AcceptCall = %v, want Success", code)
	}

	select {
	case code := <-h.bobObs.acceptResult:
		if code != ringlink.Success {
			t.Fatalf("bob's OnAcceptCallResult = %v, want Success", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob's accept never completed")
	}
	select {
	case <-h.aliceObs.outgoingAccepted:
	case <-time.After(2 * time.Second):
		t.Fatal("alice never saw OnOutgoingCallAccepted")
	}

	aliceSnap := h.alice.Snapshot()
	bobSnap := h.bob.Snapshot()
	if !aliceSnap.HasActive || aliceSnap.ActivePeer != "bob" {
		t.Fatalf("alice's snapshot = %+v, want an active call with bob", aliceSnap)
	}
	if !bobSnap.HasActive || bobSnap.ActivePeer != "alice" {
		t.Fatalf("bob's snapshot = %+v, want an active call with alice", bobSnap)
	}

	if code := h.alice.EndCall(); code != ringlink.Success {
		t.Fatalf("EndCall = %v, want Success", code)
	}
	select {
	case code := <-h.bobObs.callEndedRemote:
		if code != ringlink.Success {
			t.Fatalf("bob's OnCallEndedByRemote = %v, want Success", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob never observed the remote call end")
	}
	if h.bob.Snapshot().HasActive {
		t.Fatal("bob's active call should be cleared after EndCall")
	}
}

// TestCallDecline: bob declines alice's offer, and
// alice observes OnOutgoingCallDeclined with no active call on either
// side.
func TestCallDecline(t *testing.T) {
	h := newTestHarness(t)
	authorizeAndWait(t, h.alice, h.aliceObs, "alice")
	authorizeAndWait(t, h.bob, h.bobObs, "bob")

	if code := h.alice.StartOutgoingCall("bob"); code != ringlink.Success {
		t.Fatalf("StartOutgoingCall = %v, want Success", code)
	}
	select {
	case <-h.bobObs.incomingCall:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never observed the incoming call")
	}

	if code := h.bob.DeclineCall("alice"); code != ringlink.Success {
		t.Fatalf("DeclineCall = %v, want Success", code)
	}

	select {
	case <-h.aliceObs.outgoingDeclined:
	case <-time.After(2 * time.Second):
		t.Fatal("alice never observed OnOutgoingCallDeclined")
	}
	if h.alice.Snapshot().HasOutgoing {
		t.Fatal("alice's outgoing call should be cleared after decline")
	}
	if h.bob.Snapshot().HasActive || h.alice.Snapshot().HasActive {
		t.Fatal("a declined offer must never become an active call")
	}
}

// TestOutgoingCallTimeoutUnresolved: an unresolved offer expires
// locally and the client clears its outgoing call, without waiting out
// the real 32s window.
func TestOutgoingCallTimeoutUnresolved(t *testing.T) {
	h := newTestHarness(t)
	authorizeAndWait(t, h.alice, h.aliceObs, "alice")
	authorizeAndWait(t, h.bob, h.bobObs, "bob")

	if code := h.alice.StartOutgoingCall("bob"); code != ringlink.Success {
		t.Fatalf("StartOutgoingCall = %v, want Success", code)
	}
	select {
	case <-h.bobObs.incomingCall:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never observed the incoming call")
	}

	// Drive the timeout path directly rather than sleeping 32s.
	h.alice.onOutgoingTimeout("bob")

	if h.alice.Snapshot().HasOutgoing {
		t.Fatal("alice's outgoing call should be cleared after timeout")
	}
}
