package server

import (
	"crypto/rand"
	"encoding/hex"
	"net"

	"github.com/blang/semver"

	"github.com/ringlink/ringlink"
)

// CallRecorder receives one record per call offer, per resolution
// (accepted, declined, cancelled, or timed out), and per active call
// end, used by server/cdr for optional Call Detail Record export.
// Dispatcher never blocks on it.
type CallRecorder interface {
	RecordOffer(initiatorHash, receiverHash string)
	RecordResolution(initiatorHash, receiverHash, outcome string)
	RecordCallEnd(a, b string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOffer(string, string)              {}
func (nopRecorder) RecordResolution(string, string, string) {}
func (nopRecorder) RecordCallEnd(string, string)            {}

// Dispatcher demultiplexes incoming control messages to the registry's
// per-type handlers. The media relay is a separate, independently
// driven component; Server wires both against the same Registry.
type Dispatcher struct {
	registry *Registry
	recorder CallRecorder
}

// NewDispatcher wires a Dispatcher to registry. recorder may be nil (a
// no-op recorder is installed).
func NewDispatcher(registry *Registry, recorder CallRecorder) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	d := &Dispatcher{registry: registry, recorder: recorder}
	registry.SetPendingTimeoutHandler(d.onPendingTimeout)
	return d
}

func newToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// HandleControl processes one control-plane packet from the connection
// identified by endpoint/conn. It is the server-side analogue of
// client.Client.handlePacket.
//
// Every client->server request carries a uid; a uid whose reply was
// already sent is a task retry that raced our response, so the cached
// reply is re-sent as-is instead of reprocessing the request.
func (d *Dispatcher) HandleControl(endpoint net.Addr, conn *ringlink.ControlTransport, typ ringlink.PacketType, body []byte) {
	var probe struct {
		UID string `json:"uid"`
	}
	if ringlink.UnmarshalBody(body, &probe) == nil && probe.UID != "" {
		if replyTyp, replyBody, ok := d.registry.CachedReply(conn, probe.UID); ok {
			conn.Send(replyTyp, replyBody)
			return
		}
	}
	switch typ {
	case ringlink.PacketAuthorization:
		d.handleAuthorization(endpoint, conn, body)
	case ringlink.PacketLogout:
		d.handleLogout(body)
	case ringlink.PacketReconnect:
		d.handleReconnect(endpoint, conn, body)
	case ringlink.PacketGetUserInfo:
		d.handleGetUserInfo(conn, body)
	case ringlink.PacketCallingBegin:
		d.handleCallingBegin(body)
	case ringlink.PacketCallingEnd:
		d.handleCallingEnd(body)
	case ringlink.PacketCallAccept:
		d.handleCallAccept(body)
	case ringlink.PacketCallDecline:
		d.handleCallDecline(body)
	case ringlink.PacketCallEnd:
		d.handleCallEnd(body)
	case ringlink.PacketScreenSharingBegin, ringlink.PacketScreenSharingEnd,
		ringlink.PacketCameraSharingBegin, ringlink.PacketCameraSharingEnd:
		d.forwardSharing(typ, body)
	}
}

// versionSupported checks the client-presented protocol version against
// MinSupportedProtocolVersion. An unparsable version is treated as
// unsupported.
func versionSupported(presented string) bool {
	v, err := semver.Parse(presented)
	if err != nil {
		return false
	}
	return v.GTE(ringlink.MinSupportedProtocolVersion)
}

func (d *Dispatcher) handleAuthorization(endpoint net.Addr, conn *ringlink.ControlTransport, body []byte) {
	var req ringlink.AuthorizationRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	if !versionSupported(req.ProtocolVersion) {
		d.respond(conn, req.UID, ringlink.PacketAuthorizationResult, ringlink.AuthorizationResult{UID: req.UID, Result: false, Reason: ringlink.UnsupportedVersion.String()})
		return
	}
	pub, err := ringlink.DefaultCrypto{}.DeserializePublicKey(req.PublicKey)
	if err != nil {
		d.respond(conn, req.UID, ringlink.PacketAuthorizationResult, ringlink.AuthorizationResult{UID: req.UID, Result: false})
		return
	}
	var mediaAddr *net.UDPAddr
	if host, _, err := net.SplitHostPort(endpoint.String()); err == nil {
		mediaAddr = &net.UDPAddr{IP: net.ParseIP(host), Port: req.UDPPort}
	}
	token := newToken()
	_, ok := d.registry.Authorize(req.NicknameHash, token, pub, endpoint, mediaAddr, conn)
	if !ok {
		d.respond(conn, req.UID, ringlink.PacketAuthorizationResult, ringlink.AuthorizationResult{UID: req.UID, Result: false, Reason: ringlink.TakenNickname.String()})
		return
	}
	d.respond(conn, req.UID, ringlink.PacketAuthorizationResult, ringlink.AuthorizationResult{UID: req.UID, Result: true, Token: token})
}

func (d *Dispatcher) handleLogout(body []byte) {
	var req ringlink.LogoutRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	u, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	d.respond(u.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: true})
	peers := d.registry.Logout(u.NicknameHash)
	for _, peerHash := range peers {
		if peer, ok := d.registry.User(peerHash); ok {
			d.reply(peer.Conn, ringlink.PacketUserLogout, ringlink.UserLogoutNotification{NicknameHash: u.NicknameHash})
		}
	}
}

func (d *Dispatcher) handleReconnect(endpoint net.Addr, conn *ringlink.ControlTransport, body []byte) {
	var req ringlink.ReconnectRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	if !versionSupported(req.ProtocolVersion) {
		d.respond(conn, req.UID, ringlink.PacketReconnectResult, ringlink.ReconnectResult{UID: req.UID, Result: false})
		return
	}
	var mediaAddr *net.UDPAddr
	if host, _, err := net.SplitHostPort(endpoint.String()); err == nil {
		mediaAddr = &net.UDPAddr{IP: net.ParseIP(host), Port: req.UDPPort}
	}
	u, ok, isActive := d.registry.Reconnect(req.NicknameHash, req.Token, endpoint, mediaAddr, conn)
	if !ok {
		d.respond(conn, req.UID, ringlink.PacketReconnectResult, ringlink.ReconnectResult{UID: req.UID, Result: false})
		return
	}
	d.respond(conn, req.UID, ringlink.PacketReconnectResult, ringlink.ReconnectResult{UID: req.UID, Result: true, IsActiveCall: isActive})
	if isActive {
		if partner, ok := d.registry.Partner(u.NicknameHash); ok {
			if peer, ok := d.registry.User(partner); ok {
				d.reply(peer.Conn, ringlink.PacketConnectionRestoredWithUser, ringlink.ConnectionRestoredWithUser{NicknameHash: u.NicknameHash})
			}
		}
	}
}

func (d *Dispatcher) handleGetUserInfo(conn *ringlink.ControlTransport, body []byte) {
	var req ringlink.GetUserInfoRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	target, ok := d.registry.User(req.NicknameHash)
	if !ok {
		d.respond(conn, req.UID, ringlink.PacketGetUserInfoResult, ringlink.GetUserInfoResult{UID: req.UID, Result: false})
		return
	}
	d.respond(conn, req.UID, ringlink.PacketGetUserInfoResult, ringlink.GetUserInfoResult{
		UID:       req.UID,
		Result:    true,
		PublicKey: ringlink.DefaultCrypto{}.SerializePublicKey(target.PublicKey),
	})
}

func (d *Dispatcher) handleCallingBegin(body []byte) {
	var req ringlink.CallingBeginRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	initiator, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	_, created := d.registry.CreatePendingCall(req.SenderHash, req.ReceiverHash)
	if !created {
		d.respond(initiator.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: false})
		return
	}
	d.respond(initiator.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: true})
	d.recorder.RecordOffer(req.SenderHash, req.ReceiverHash)
	// The receiver being offline does not fail the request — the
	// pending call exists either way and its timer cleans up; forward
	// only if currently connected. The bearer token is the sender's
	// credential and never leaves the server.
	if receiver, ok := d.registry.User(req.ReceiverHash); ok && !receiver.ConnectionDown {
		req.Token = ""
		d.reply(receiver.Conn, ringlink.PacketCallingBegin, req)
	}
}

// onPendingTimeout fires when the registry's own 32s timer expires an
// unresolved offer. Both the offering and receiving clients run an
// identical local timer, so no wire notification is needed to keep the
// two sides consistent; this only records the resolution for CDR
// export.
func (d *Dispatcher) onPendingTimeout(pc *PendingCall, reason string) {
	d.recorder.RecordResolution(pc.Initiator, pc.Receiver, reason)
}

func (d *Dispatcher) handleCallingEnd(body []byte) {
	var req ringlink.CallingEndRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	initiator, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	pc, ok := d.registry.EndPendingCall(req.SenderHash, req.ReceiverHash)
	d.respond(initiator.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: ok})
	if !ok {
		return
	}
	d.recorder.RecordResolution(pc.Initiator, pc.Receiver, "cancelled")
	if receiver, ok := d.registry.User(req.ReceiverHash); ok {
		req.Token = ""
		d.reply(receiver.Conn, ringlink.PacketCallingEnd, req)
	}
}

func (d *Dispatcher) handleCallAccept(body []byte) {
	var req ringlink.CallAcceptRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	accepter, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	// req.SenderHash is the accepter; req.ReceiverHash is the original
	// initiator.
	_, dropped, ok := d.registry.AcceptPendingCall(req.ReceiverHash, req.SenderHash)
	d.respond(accepter.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: ok})
	if !ok {
		return
	}
	d.recorder.RecordResolution(req.ReceiverHash, req.SenderHash, "accepted")
	if initiator, ok := d.registry.User(req.ReceiverHash); ok {
		req.Token = ""
		d.reply(initiator.Conn, ringlink.PacketCallAccept, req)
	}
	for _, pc := range dropped {
		for _, hash := range [2]string{pc.Initiator, pc.Receiver} {
			if hash == req.ReceiverHash || hash == req.SenderHash {
				continue
			}
			if u, ok := d.registry.User(hash); ok {
				d.reply(u.Conn, ringlink.PacketCallDecline, ringlink.CallDeclineRequest{SenderHash: pc.Receiver, ReceiverHash: pc.Initiator})
			}
		}
	}
}

func (d *Dispatcher) handleCallDecline(body []byte) {
	var req ringlink.CallDeclineRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	decliner, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	pc, ok := d.registry.EndPendingCall(req.SenderHash, req.ReceiverHash)
	d.respond(decliner.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: ok})
	if !ok {
		return
	}
	d.recorder.RecordResolution(pc.Initiator, pc.Receiver, "declined")
	if initiator, ok := d.registry.User(req.ReceiverHash); ok {
		req.Token = ""
		d.reply(initiator.Conn, ringlink.PacketCallDecline, req)
	}
}

func (d *Dispatcher) handleCallEnd(body []byte) {
	var req ringlink.CallEndRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	ender, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	partner, ok := d.registry.EndActiveCall(req.SenderHash)
	d.respond(ender.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: ok})
	if !ok {
		return
	}
	d.recorder.RecordCallEnd(req.SenderHash, partner)
	if peer, ok := d.registry.User(partner); ok {
		req.Token = ""
		d.reply(peer.Conn, ringlink.PacketCallEnd, req)
	}
}

func (d *Dispatcher) forwardSharing(typ ringlink.PacketType, body []byte) {
	var req ringlink.SharingRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	sender, ok := d.userByToken(req.Token)
	if !ok {
		return
	}
	d.respond(sender.Conn, req.UID, ringlink.PacketConfirmation, ringlink.Confirmation{UID: req.UID, Result: true})
	if peer, ok := d.registry.User(req.ReceiverHash); ok {
		req.Token = ""
		d.reply(peer.Conn, typ, req)
	}
}

// userByToken resolves the requesting user from the bearer token that
// every post-authorization request carries. The registry indexes by
// nickname hash, so this is a linear scan; every token-bearing handler
// uses it, whether or not the body also carries the sender's hash.
func (d *Dispatcher) userByToken(token string) (*User, bool) {
	return d.registry.userByTokenScan(token)
}

func (d *Dispatcher) reply(conn *ringlink.ControlTransport, typ ringlink.PacketType, v interface{}) {
	if conn == nil {
		return
	}
	body, err := ringlink.MarshalBody(v)
	if err != nil {
		return
	}
	conn.Send(typ, body)
}

// respond sends a direct response to the requester and caches it under
// the request uid so a retried duplicate is re-acknowledged verbatim.
// Forwarded notifications go through reply, never respond: caching a
// forwarded copy under the originating uid would shadow the real
// response.
func (d *Dispatcher) respond(conn *ringlink.ControlTransport, uid string, typ ringlink.PacketType, v interface{}) {
	body, err := ringlink.MarshalBody(v)
	if err != nil {
		return
	}
	d.registry.CacheReply(conn, uid, typ, body)
	if conn != nil {
		conn.Send(typ, body)
	}
}
