package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ringlink/ringlink"
)

// wireClient is a minimal, protocol-only stand-in for the real client
// package, used to drive the Dispatcher over the actual wire format
// without pulling in client's state machine (which itself depends on
// server in its own integration tests, so server's tests stay
// self-contained here).
type wireClient struct {
	t         *testing.T
	transport *ringlink.ControlTransport
	mu        sync.Mutex
	inbox     map[ringlink.PacketType]chan []byte
}

func dialWireClient(t *testing.T, addr string) *wireClient {
	t.Helper()
	wc := &wireClient{t: t, inbox: make(map[ringlink.PacketType]chan []byte)}
	transport, err := ringlink.DialControlTransport(addr, 2*time.Second, wc.onPacket, func() {})
	if err != nil {
		t.Fatalf("DialControlTransport: %v", err)
	}
	wc.transport = transport
	go transport.Serve()
	return wc
}

func (wc *wireClient) onPacket(typ ringlink.PacketType, body []byte) {
	wc.mu.Lock()
	ch, ok := wc.inbox[typ]
	if !ok {
		ch = make(chan []byte, 8)
		wc.inbox[typ] = ch
	}
	wc.mu.Unlock()
	ch <- body
}

func (wc *wireClient) recv(typ ringlink.PacketType, timeout time.Duration) ([]byte, bool) {
	wc.mu.Lock()
	ch, ok := wc.inbox[typ]
	if !ok {
		ch = make(chan []byte, 8)
		wc.inbox[typ] = ch
	}
	wc.mu.Unlock()
	select {
	case body := <-ch:
		return body, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (wc *wireClient) send(typ ringlink.PacketType, v interface{}) {
	body, err := ringlink.MarshalBody(v)
	if err != nil {
		wc.t.Fatalf("MarshalBody: %v", err)
	}
	if !wc.transport.Send(typ, body) {
		wc.t.Fatalf("Send(%v) failed", typ)
	}
}

func newTestServer(t *testing.T, recorder CallRecorder) (*Server, string) {
	t.Helper()
	srv, err := New(Config{ControlAddr: "127.0.0.1:0", MediaAddr: "127.0.0.1:0", Recorder: recorder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, srv.ControlAddr().String()
}

func authorizeWireClient(t *testing.T, wc *wireClient, nicknameHash string) ringlink.AuthorizationResult {
	t.Helper()
	wc.send(ringlink.PacketAuthorization, ringlink.AuthorizationRequest{
		UID:             "uid-" + nicknameHash,
		NicknameHash:    nicknameHash,
		PublicKey:       ringlink.DefaultCrypto{}.SerializePublicKey([32]byte{1, 2, 3}),
		UDPPort:         5000,
		ProtocolVersion: ringlink.ProtocolVersion.String(),
	})
	body, ok := wc.recv(ringlink.PacketAuthorizationResult, 2*time.Second)
	if !ok {
		t.Fatal("never received AuthorizationResult")
	}
	var res ringlink.AuthorizationResult
	if err := ringlink.UnmarshalBody(body, &res); err != nil {
		t.Fatalf("decoding AuthorizationResult: %v", err)
	}
	return res
}

func TestDispatcherAuthorizationRejectsDuplicateNickname(t *testing.T) {
	_, addr := newTestServer(t, nil)

	first := dialWireClient(t, addr)
	res := authorizeWireClient(t, first, "dup-hash")
	if !res.Result {
		t.Fatal("first authorization should succeed")
	}

	second := dialWireClient(t, addr)
	res2 := authorizeWireClient(t, second, "dup-hash")
	if res2.Result {
		t.Fatal("second authorization with the same nickname hash should fail")
	}
}

type fakeRecorder struct {
	mu          sync.Mutex
	offers      int
	resolutions []string
	callEnds    int
}

func (f *fakeRecorder) RecordOffer(string, string) {
	f.mu.Lock()
	f.offers++
	f.mu.Unlock()
}
func (f *fakeRecorder) RecordResolution(_, _, outcome string) {
	f.mu.Lock()
	f.resolutions = append(f.resolutions, outcome)
	f.mu.Unlock()
}
func (f *fakeRecorder) RecordCallEnd(string, string) {
	f.mu.Lock()
	f.callEnds++
	f.mu.Unlock()
}

// TestDispatcherCallAcceptDropsOtherOffers exercises the server side of
// the accept transition: accepting one offer forwards
// CALL_ACCEPT to the initiator and CALL_DECLINE to every other dropped
// offerer, and records the resolution via the CallRecorder.
func TestDispatcherCallAcceptDropsOtherOffers(t *testing.T) {
	rec := &fakeRecorder{}
	_, addr := newTestServer(t, rec)

	alice := dialWireClient(t, addr)
	bob := dialWireClient(t, addr)
	carol := dialWireClient(t, addr)

	hashOf := func(s string) string { return ringlink.DefaultCrypto{}.Hash(s) }
	aHash, bHash, cHash := hashOf("alice"), hashOf("bob"), hashOf("carol")

	aliceAuth := authorizeWireClient(t, alice, aHash)
	bobAuth := authorizeWireClient(t, bob, bHash)
	carolAuth := authorizeWireClient(t, carol, cHash)
	if !aliceAuth.Result || !bobAuth.Result || !carolAuth.Result {
		t.Fatal("all three authorizations should succeed")
	}

	// alice -> bob and carol -> bob: two competing offers into bob.
	alice.send(ringlink.PacketCallingBegin, ringlink.CallingBeginRequest{
		UID: "offer-ab", Token: aliceAuth.Token, SenderHash: aHash, ReceiverHash: bHash,
		SenderPublicKey: "x", EncryptedCallKey: "x", PacketKey: "x", SenderEncryptedNickname: "x",
	})
	if _, ok := alice.recv(ringlink.PacketConfirmation, 2*time.Second); !ok {
		t.Fatal("alice never got confirmation for her offer")
	}
	carol.send(ringlink.PacketCallingBegin, ringlink.CallingBeginRequest{
		UID: "offer-cb", Token: carolAuth.Token, SenderHash: cHash, ReceiverHash: bHash,
		SenderPublicKey: "x", EncryptedCallKey: "x", PacketKey: "x", SenderEncryptedNickname: "x",
	})
	if _, ok := carol.recv(ringlink.PacketConfirmation, 2*time.Second); !ok {
		t.Fatal("carol never got confirmation for her offer")
	}

	// bob must have seen both forwarded offers.
	if _, ok := bob.recv(ringlink.PacketCallingBegin, 2*time.Second); !ok {
		t.Fatal("bob never received the first forwarded offer")
	}
	if _, ok := bob.recv(ringlink.PacketCallingBegin, 2*time.Second); !ok {
		t.Fatal("bob never received the second forwarded offer")
	}

	// bob accepts alice; carol's offer must be dropped with a decline
	// forwarded to her, and alice must see the forwarded accept.
	bob.send(ringlink.PacketCallAccept, ringlink.CallAcceptRequest{
		UID: "accept-1", Token: bobAuth.Token, SenderHash: bHash, ReceiverHash: aHash,
		SenderPublicKey: "y", EncryptedCallKey: "y",
	})
	if _, ok := bob.recv(ringlink.PacketConfirmation, 2*time.Second); !ok {
		t.Fatal("bob never got confirmation for the accept")
	}
	if _, ok := alice.recv(ringlink.PacketCallAccept, 2*time.Second); !ok {
		t.Fatal("alice never received the forwarded accept")
	}
	if _, ok := carol.recv(ringlink.PacketCallDecline, 2*time.Second); !ok {
		t.Fatal("carol never received a decline for her dropped offer")
	}

	rec.mu.Lock()
	offers, resolutions := rec.offers, append([]string(nil), rec.resolutions...)
	rec.mu.Unlock()
	if offers != 2 {
		t.Fatalf("recorded offers = %d, want 2", offers)
	}
	foundAccepted := false
	for _, r := range resolutions {
		if r == "accepted" {
			foundAccepted = true
		}
	}
	if !foundAccepted {
		t.Fatalf("resolutions = %v, want one \"accepted\" entry", resolutions)
	}
}

// TestRelayForwardsVerbatimBetweenActiveCallParticipants exercises the
// relay's pair-routing against a real Server: once two users
// have an active call, a UDP datagram from one's registered media
// endpoint is forwarded byte-for-byte to the other's.
func TestRelayForwardsVerbatimBetweenActiveCallParticipants(t *testing.T) {
	srv, addr := newTestServer(t, nil)

	alice := dialWireClient(t, addr)
	bob := dialWireClient(t, addr)
	hashOf := func(s string) string { return ringlink.DefaultCrypto{}.Hash(s) }
	aHash, bHash := hashOf("alice"), hashOf("bob")

	aliceMedia, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer aliceMedia.Close()
	bobMedia, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer bobMedia.Close()

	aliceAuth := authorizeWireClientWithPort(t, alice, aHash, aliceMedia.LocalAddr().(*net.UDPAddr).Port)
	bobAuth := authorizeWireClientWithPort(t, bob, bHash, bobMedia.LocalAddr().(*net.UDPAddr).Port)

	alice.send(ringlink.PacketCallingBegin, ringlink.CallingBeginRequest{
		UID: "offer", Token: aliceAuth.Token, SenderHash: aHash, ReceiverHash: bHash,
		SenderPublicKey: "x", EncryptedCallKey: "x", PacketKey: "x", SenderEncryptedNickname: "x",
	})
	alice.recv(ringlink.PacketConfirmation, 2*time.Second)
	bob.recv(ringlink.PacketCallingBegin, 2*time.Second)

	bob.send(ringlink.PacketCallAccept, ringlink.CallAcceptRequest{
		UID: "accept", Token: bobAuth.Token, SenderHash: bHash, ReceiverHash: aHash,
		SenderPublicKey: "y", EncryptedCallKey: "y",
	})
	bob.recv(ringlink.PacketConfirmation, 2*time.Second)
	alice.recv(ringlink.PacketCallAccept, 2*time.Second)

	mt := ringlink.NewMediaTransport(aliceMedia, nil)
	frame := []byte("opaque-encrypted-voice-frame")
	if err := mt.Send(srv.MediaAddr(), uint32(ringlink.PacketVoice), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	bobMedia.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := bobMedia.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("bob never received the relayed datagram: %v", err)
	}
	// bob receives the raw, still-fragmented-header datagram (the relay
	// never reassembles), so decode it the same way MediaTransport would.
	if n < 18 {
		t.Fatalf("relayed datagram too short: %d bytes", n)
	}
	payload := buf[18:n]
	if string(payload) != string(frame) {
		t.Fatalf("relayed payload = %q, want %q", payload, frame)
	}
}

func authorizeWireClientWithPort(t *testing.T, wc *wireClient, nicknameHash string, udpPort int) ringlink.AuthorizationResult {
	t.Helper()
	wc.send(ringlink.PacketAuthorization, ringlink.AuthorizationRequest{
		UID:             "uid-" + nicknameHash,
		NicknameHash:    nicknameHash,
		PublicKey:       ringlink.DefaultCrypto{}.SerializePublicKey([32]byte{1, 2, 3}),
		UDPPort:         udpPort,
		ProtocolVersion: ringlink.ProtocolVersion.String(),
	})
	body, ok := wc.recv(ringlink.PacketAuthorizationResult, 2*time.Second)
	if !ok {
		t.Fatal("never received AuthorizationResult")
	}
	var res ringlink.AuthorizationResult
	if err := ringlink.UnmarshalBody(body, &res); err != nil {
		t.Fatalf("decoding AuthorizationResult: %v", err)
	}
	return res
}

// TestDispatcherRejectsUnsupportedProtocolVersion exercises the
// semver gate on AUTHORIZATION: a client presenting a version below
// MinSupportedProtocolVersion (or none at all) is refused with the
// unsupported_version reason before any registry mutation.
func TestDispatcherRejectsUnsupportedProtocolVersion(t *testing.T) {
	_, addr := newTestServer(t, nil)

	wc := dialWireClient(t, addr)
	wc.send(ringlink.PacketAuthorization, ringlink.AuthorizationRequest{
		UID:             "uid-old-client",
		NicknameHash:    "old-client-hash",
		PublicKey:       ringlink.DefaultCrypto{}.SerializePublicKey([32]byte{9}),
		ProtocolVersion: "0.1.0",
	})
	body, ok := wc.recv(ringlink.PacketAuthorizationResult, 2*time.Second)
	if !ok {
		t.Fatal("never received AuthorizationResult")
	}
	var res ringlink.AuthorizationResult
	if err := ringlink.UnmarshalBody(body, &res); err != nil {
		t.Fatalf("decoding AuthorizationResult: %v", err)
	}
	if res.Result {
		t.Fatal("authorization with an unsupported protocol version should fail")
	}
	if res.Reason != ringlink.UnsupportedVersion.String() {
		t.Fatalf("reason = %q, want %q", res.Reason, ringlink.UnsupportedVersion.String())
	}
}

// TestDispatcherReacksDuplicateRequest exercises the retried-request
// path: a duplicate AUTHORIZATION with the same uid (a TaskManager
// retry whose original reply was slow) is answered with the cached
// reply, token included, rather than re-run and refused as a duplicate
// nickname.
func TestDispatcherReacksDuplicateRequest(t *testing.T) {
	_, addr := newTestServer(t, nil)

	wc := dialWireClient(t, addr)
	first := authorizeWireClient(t, wc, "retry-hash")
	if !first.Result || first.Token == "" {
		t.Fatal("first authorization should succeed with a token")
	}

	second := authorizeWireClient(t, wc, "retry-hash")
	if !second.Result {
		t.Fatal("retried authorization with the same uid should be re-acknowledged, not refused")
	}
	if second.Token != first.Token {
		t.Fatalf("re-acknowledged token = %q, want the original %q", second.Token, first.Token)
	}
}

// TestDispatcherStripsTokenFromForwardedOffers: the bearer token on a
// CALLING_BEGIN is the sender's credential; the copy forwarded to the
// receiver must not carry it.
func TestDispatcherStripsTokenFromForwardedOffers(t *testing.T) {
	_, addr := newTestServer(t, nil)

	alice := dialWireClient(t, addr)
	bob := dialWireClient(t, addr)
	hashOf := func(s string) string { return ringlink.DefaultCrypto{}.Hash(s) }
	aHash, bHash := hashOf("alice"), hashOf("bob")

	aliceAuth := authorizeWireClient(t, alice, aHash)
	authorizeWireClient(t, bob, bHash)

	alice.send(ringlink.PacketCallingBegin, ringlink.CallingBeginRequest{
		UID: "offer-tok", Token: aliceAuth.Token, SenderHash: aHash, ReceiverHash: bHash,
		SenderPublicKey: "x", EncryptedCallKey: "x", PacketKey: "x", SenderEncryptedNickname: "x",
	})
	body, ok := bob.recv(ringlink.PacketCallingBegin, 2*time.Second)
	if !ok {
		t.Fatal("bob never received the forwarded offer")
	}
	var forwarded ringlink.CallingBeginRequest
	if err := ringlink.UnmarshalBody(body, &forwarded); err != nil {
		t.Fatalf("decoding forwarded offer: %v", err)
	}
	if forwarded.Token != "" {
		t.Fatal("forwarded offer must not carry the sender's token")
	}
	if forwarded.SenderHash != aHash {
		t.Fatalf("forwarded sender_hash = %q, want %q", forwarded.SenderHash, aHash)
	}
}
