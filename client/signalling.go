package client

import (
	"time"

	"github.com/ringlink/ringlink"
)

// submit registers and starts a retried control request. attempt sends
// the wire bytes; onComplete/onFail are invoked by the TaskManager
// exactly once.
func (c *Client) submit(uid string, maxAttempts int, attempt func(), onComplete, onFail ringlink.ResultFunc) {
	c.tasks.CreateAndStartTask(uid, ringlink.TaskRetryInterval, maxAttempts, attempt, onComplete, onFail)
}

func (c *Client) matchHash(nickname, hash string) bool {
	return nickname != "" && c.crypto.Hash(nickname) == hash
}

// Authorize starts a session under nickname.
func (c *Client) Authorize(nickname string) ringlink.ErrorCode {
	c.state.mu.Lock()
	switch c.state.phase {
	case Authorizing:
		c.state.mu.Unlock()
		return ringlink.OperationInProgress
	case AuthorizedUp, AuthorizedDown, Reconnecting:
		c.state.mu.Unlock()
		return ringlink.AlreadyAuthorized
	}
	if c.control == nil || !c.control.Connected() {
		c.state.mu.Unlock()
		return ringlink.ConnectionDown
	}
	if !c.state.hasKeys {
		kp, err := c.crypto.GenerateKeypair()
		if err != nil {
			c.state.mu.Unlock()
			return ringlink.EncryptionError
		}
		c.state.keypair = kp
		c.state.hasKeys = true
	}
	c.state.phase = Authorizing
	c.state.nickname = nickname
	kp := c.state.keypair
	c.state.mu.Unlock()

	uid := c.crypto.GenerateUID()
	req := ringlink.AuthorizationRequest{
		UID:             uid,
		NicknameHash:    c.crypto.Hash(nickname),
		PublicKey:       c.crypto.SerializePublicKey(kp.Public),
		UDPPort:         c.mediaLocalPort(),
		ProtocolVersion: ringlink.ProtocolVersion.String(),
	}
	body, _ := ringlink.MarshalBody(req)

	c.submit(uid, ringlink.TaskMaxAttemptsLong,
		func() { c.control.Send(ringlink.PacketAuthorization, body) },
		func(ctx interface{}) { c.onAuthorizationComplete(ctx) },
		func(interface{}) { c.onAuthorizationFail() },
	)
	return ringlink.Success
}

func (c *Client) onAuthorizationComplete(ctx interface{}) {
	res, ok := ctx.(ringlink.AuthorizationResult)
	if !ok {
		c.onAuthorizationFail()
		return
	}
	if !res.Result {
		c.state.mu.Lock()
		c.state.phase = Unauthorized
		c.state.nickname = ""
		c.state.mu.Unlock()
		code := ringlink.TakenNickname
		if res.Reason == ringlink.UnsupportedVersion.String() {
			code = ringlink.UnsupportedVersion
		}
		c.observer.OnAuthorizationResult(code)
		return
	}
	c.state.mu.Lock()
	c.state.phase = AuthorizedUp
	c.state.token = res.Token
	c.state.mu.Unlock()
	c.observer.OnAuthorizationResult(ringlink.Success)
}

func (c *Client) onAuthorizationFail() {
	c.state.mu.Lock()
	c.state.phase = Unauthorized
	c.state.nickname = ""
	c.state.mu.Unlock()
	c.observer.OnAuthorizationResult(ringlink.NetworkError)
}

// Logout ends the current session.
func (c *Client) Logout() ringlink.ErrorCode {
	c.state.mu.Lock()
	if c.state.phase != AuthorizedUp && c.state.phase != AuthorizedDown {
		c.state.mu.Unlock()
		return ringlink.NotAuthorized
	}
	token := c.state.token
	c.state.mu.Unlock()

	uid := c.crypto.GenerateUID()
	req := ringlink.LogoutRequest{UID: uid, Token: token}
	body, _ := ringlink.MarshalBody(req)

	finish := func(interface{}) {
		c.state.mu.Lock()
		c.state.phase = Unauthorized
		c.state.nickname = ""
		c.state.token = ""
		c.state.outgoing = nil
		c.state.incoming = make(map[string]*IncomingCall)
		c.state.active = nil
		c.state.mu.Unlock()
		c.observer.OnLogoutCompleted()
	}
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketLogout, body) },
		finish, finish,
	)
	return ringlink.Success
}

// StartOutgoingCall offers a call to targetNickname.
func (c *Client) StartOutgoingCall(targetNickname string) ringlink.ErrorCode {
	c.state.mu.Lock()
	if c.state.phase != AuthorizedUp {
		c.state.mu.Unlock()
		return ringlink.NotAuthorized
	}
	if c.state.active != nil {
		c.state.mu.Unlock()
		return ringlink.ActiveCallExists
	}
	if c.state.outgoing != nil {
		c.state.mu.Unlock()
		return ringlink.OperationInProgress
	}
	callKey, err := c.crypto.GenerateSymmetricKey()
	if err != nil {
		c.state.mu.Unlock()
		return ringlink.EncryptionError
	}
	c.state.outgoing = &OutgoingCall{TargetNickname: targetNickname, CallKey: callKey, Started: time.Now()}
	kp := c.state.keypair
	myNickname := c.state.nickname
	token := c.state.token
	c.state.mu.Unlock()

	lookupUID := c.crypto.GenerateUID()
	lookupReq := ringlink.GetUserInfoRequest{UID: lookupUID, Token: token, NicknameHash: c.crypto.Hash(targetNickname)}
	lookupBody, _ := ringlink.MarshalBody(lookupReq)

	c.submit(lookupUID, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketGetUserInfo, lookupBody) },
		func(ctx interface{}) { c.onOutgoingLookupComplete(ctx, targetNickname, callKey, kp, myNickname, token) },
		func(interface{}) { c.failOutgoing(ringlink.NetworkError) },
	)
	return ringlink.Success
}

func (c *Client) onOutgoingLookupComplete(ctx interface{}, target string, callKey ringlink.SymmetricKey, kp ringlink.KeyPair, myNickname, token string) {
	res, ok := ctx.(ringlink.GetUserInfoResult)
	if !ok || !res.Result {
		c.failOutgoing(ringlink.UnexistingUser)
		return
	}
	targetPub, err := c.crypto.DeserializePublicKey(res.PublicKey)
	if err != nil {
		c.failOutgoing(ringlink.EncryptionError)
		return
	}

	packetKey, err := c.crypto.GenerateSymmetricKey()
	if err != nil {
		c.failOutgoing(ringlink.EncryptionError)
		return
	}
	encryptedNickname, err := c.crypto.EncryptSymmetric(packetKey, []byte(myNickname))
	if err != nil {
		c.failOutgoing(ringlink.EncryptionError)
		return
	}
	wrappedPacketKey, err := c.crypto.WrapSymmetricKey(targetPub, packetKey)
	if err != nil {
		c.failOutgoing(ringlink.EncryptionError)
		return
	}
	wrappedCallKey, err := c.crypto.WrapSymmetricKey(targetPub, callKey)
	if err != nil {
		c.failOutgoing(ringlink.EncryptionError)
		return
	}

	uid := c.crypto.GenerateUID()
	req := ringlink.CallingBeginRequest{
		UID:                     uid,
		Token:                   token,
		SenderHash:              c.crypto.Hash(myNickname),
		ReceiverHash:            c.crypto.Hash(target),
		SenderPublicKey:         c.crypto.SerializePublicKey(kp.Public),
		EncryptedCallKey:        wrappedCallKey,
		PacketKey:               wrappedPacketKey,
		SenderEncryptedNickname: encryptedNickname,
		UDPPort:                 c.mediaLocalPort(),
	}
	body, _ := ringlink.MarshalBody(req)

	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketCallingBegin, body) },
		func(ctx interface{}) { c.onOutgoingOfferSent(ctx) },
		func(interface{}) { c.failOutgoing(ringlink.NetworkError) },
	)
}

func (c *Client) onOutgoingOfferSent(ctx interface{}) {
	res, ok := ctx.(ringlink.Confirmation)
	if !ok || !res.Result {
		c.failOutgoing(ringlink.NetworkError)
		return
	}
	c.state.mu.Lock()
	out := c.state.outgoing
	if out != nil {
		out.timer = newTimer(ringlink.PendingCallTimeout, func() { c.onOutgoingTimeout(out.TargetNickname) })
	}
	c.state.mu.Unlock()
	c.observer.OnStartOutgoingCallResult(ringlink.Success)
}

func (c *Client) onOutgoingTimeout(target string) {
	c.state.mu.Lock()
	if c.state.outgoing == nil || c.state.outgoing.TargetNickname != target {
		c.state.mu.Unlock()
		return
	}
	c.state.outgoing = nil
	c.state.mu.Unlock()
	c.observer.OnOutgoingCallTimeout(ringlink.Success)
}

func (c *Client) failOutgoing(code ringlink.ErrorCode) {
	c.state.mu.Lock()
	c.state.outgoing = nil
	c.state.mu.Unlock()
	c.observer.OnStartOutgoingCallResult(code)
}

// StopOutgoingCall cancels a not-yet-resolved offer.
func (c *Client) StopOutgoingCall() ringlink.ErrorCode {
	c.state.mu.Lock()
	out := c.state.outgoing
	if out == nil {
		c.state.mu.Unlock()
		return ringlink.NoOutgoingCall
	}
	c.state.outgoing = nil
	token := c.state.token
	myNickname := c.state.nickname
	c.state.mu.Unlock()
	if out.timer != nil {
		out.timer.Stop()
	}

	uid := c.crypto.GenerateUID()
	req := ringlink.CallingEndRequest{UID: uid, Token: token, SenderHash: c.crypto.Hash(myNickname), ReceiverHash: c.crypto.Hash(out.TargetNickname)}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketCallingEnd, body) },
		func(interface{}) { c.observer.OnStopOutgoingCallResult(ringlink.Success) },
		func(interface{}) { c.observer.OnStopOutgoingCallResult(ringlink.NetworkError) },
	)
	return ringlink.Success
}

// AcceptCall accepts the pending incoming offer from nickname: decline
// every other offerer, end any outgoing offer, end any active call,
// then accept — in that order, so the accepted call is the only call
// left standing on this client.
func (c *Client) AcceptCall(nickname string) ringlink.ErrorCode {
	c.state.mu.Lock()
	if c.state.phase != AuthorizedUp && c.state.phase != AuthorizedDown {
		c.state.mu.Unlock()
		return ringlink.NotAuthorized
	}
	ic, ok := c.state.incoming[nickname]
	if !ok {
		c.state.mu.Unlock()
		return ringlink.NoIncomingCall
	}
	if c.state.accepting {
		c.state.mu.Unlock()
		return ringlink.OperationInProgress
	}
	c.state.accepting = true
	token := c.state.token
	myNickname := c.state.nickname
	kp := c.state.keypair

	var others []string
	for n := range c.state.incoming {
		if n != nickname {
			others = append(others, n)
		}
	}
	outgoing := c.state.outgoing
	c.state.outgoing = nil
	active := c.state.active
	c.state.active = nil
	c.state.mu.Unlock()

	myHash := c.crypto.Hash(myNickname)
	for _, n := range others {
		c.fireAndForgetDecline(myHash, c.crypto.Hash(n), token)
		c.state.mu.Lock()
		if other, ok := c.state.incoming[n]; ok {
			if other.timer != nil {
				other.timer.Stop()
			}
			delete(c.state.incoming, n)
		}
		c.state.mu.Unlock()
	}
	if outgoing != nil {
		if outgoing.timer != nil {
			outgoing.timer.Stop()
		}
		c.fireAndForgetCallingEnd(myHash, c.crypto.Hash(outgoing.TargetNickname), token)
	}
	if active != nil {
		c.media.stopAll()
		c.fireAndForgetCallEnd(myHash, c.crypto.Hash(active.PeerNickname), token)
	}

	wrappedKey, err := c.crypto.WrapSymmetricKey(ic.CallerPublic, ic.CallKey)
	if err != nil {
		c.state.mu.Lock()
		c.state.accepting = false
		c.state.mu.Unlock()
		c.observer.OnAcceptCallResult(ringlink.EncryptionError)
		return ringlink.Success
	}

	uid := c.crypto.GenerateUID()
	req := ringlink.CallAcceptRequest{
		UID:              uid,
		Token:            token,
		SenderHash:       myHash,
		ReceiverHash:     c.crypto.Hash(nickname),
		SenderPublicKey:  c.crypto.SerializePublicKey(kp.Public),
		EncryptedCallKey: wrappedKey,
		UDPPort:          c.mediaLocalPort(),
	}
	body, _ := ringlink.MarshalBody(req)

	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketCallAccept, body) },
		func(ctx interface{}) { c.onAcceptComplete(ctx, nickname, ic) },
		func(interface{}) { c.onAcceptFail() },
	)
	return ringlink.Success
}

func (c *Client) onAcceptComplete(ctx interface{}, nickname string, ic *IncomingCall) {
	res, ok := ctx.(ringlink.Confirmation)
	c.state.mu.Lock()
	c.state.accepting = false
	if ok && res.Result {
		delete(c.state.incoming, nickname)
		c.state.active = &ActiveCall{PeerNickname: nickname, PeerPublic: ic.CallerPublic, CallKey: ic.CallKey, StartedAt: time.Now(), WasOutgoing: false}
	}
	c.state.mu.Unlock()
	if ic.timer != nil {
		ic.timer.Stop()
	}
	if ok && res.Result {
		c.observer.OnAcceptCallResult(ringlink.Success)
	} else {
		c.observer.OnAcceptCallResult(ringlink.NetworkError)
	}
}

func (c *Client) onAcceptFail() {
	c.state.mu.Lock()
	c.state.accepting = false
	c.state.mu.Unlock()
	c.observer.OnAcceptCallResult(ringlink.NetworkError)
}

// DeclineCall rejects a pending incoming offer.
func (c *Client) DeclineCall(nickname string) ringlink.ErrorCode {
	c.state.mu.Lock()
	ic, ok := c.state.incoming[nickname]
	if !ok {
		c.state.mu.Unlock()
		return ringlink.NoIncomingCall
	}
	delete(c.state.incoming, nickname)
	token := c.state.token
	myHash := c.crypto.Hash(c.state.nickname)
	c.state.mu.Unlock()
	if ic.timer != nil {
		ic.timer.Stop()
	}

	uid := c.crypto.GenerateUID()
	req := ringlink.CallDeclineRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: c.crypto.Hash(nickname)}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketCallDecline, body) },
		func(interface{}) { c.observer.OnDeclineCallResult(ringlink.Success) },
		func(interface{}) { c.observer.OnDeclineCallResult(ringlink.NetworkError) },
	)
	return ringlink.Success
}

// EndCall ends the active call.
func (c *Client) EndCall() ringlink.ErrorCode {
	c.state.mu.Lock()
	active := c.state.active
	if active == nil {
		c.state.mu.Unlock()
		return ringlink.NoActiveCall
	}
	c.state.active = nil
	token := c.state.token
	myHash := c.crypto.Hash(c.state.nickname)
	c.state.mu.Unlock()
	c.media.stopAll()
	c.history.Record(HistoryEntry{Peer: active.PeerNickname, Outgoing: active.WasOutgoing, Started: active.StartedAt, Ended: time.Now(), EndReason: "local"})

	uid := c.crypto.GenerateUID()
	req := ringlink.CallEndRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: c.crypto.Hash(active.PeerNickname)}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(ringlink.PacketCallEnd, body) },
		func(interface{}) { c.observer.OnEndCallResult(ringlink.Success) },
		func(interface{}) { c.observer.OnEndCallResult(ringlink.NetworkError) },
	)
	return ringlink.Success
}

func (c *Client) fireAndForgetDecline(myHash, targetHash, token string) {
	uid := c.crypto.GenerateUID()
	req := ringlink.CallDeclineRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: targetHash}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort, func() { c.control.Send(ringlink.PacketCallDecline, body) }, func(interface{}) {}, func(interface{}) {})
}

func (c *Client) fireAndForgetCallingEnd(myHash, targetHash, token string) {
	uid := c.crypto.GenerateUID()
	req := ringlink.CallingEndRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: targetHash}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort, func() { c.control.Send(ringlink.PacketCallingEnd, body) }, func(interface{}) {}, func(interface{}) {})
}

func (c *Client) fireAndForgetCallEnd(myHash, targetHash, token string) {
	uid := c.crypto.GenerateUID()
	req := ringlink.CallEndRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: targetHash}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort, func() { c.control.Send(ringlink.PacketCallEnd, body) }, func(interface{}) {}, func(interface{}) {})
}

// StartScreenSharing / StopScreenSharing / StartCameraSharing /
// StopCameraSharing share one precondition table; camera is screen
// minus the viewing-remote restriction.

func (c *Client) StartScreenSharing() ringlink.ErrorCode {
	return c.startSharing(ringlink.PacketScreenSharingBegin, true)
}
func (c *Client) StopScreenSharing() ringlink.ErrorCode {
	return c.stopSharing(ringlink.PacketScreenSharingEnd, true)
}
func (c *Client) StartCameraSharing() ringlink.ErrorCode {
	return c.startSharing(ringlink.PacketCameraSharingBegin, false)
}
func (c *Client) StopCameraSharing() ringlink.ErrorCode {
	return c.stopSharing(ringlink.PacketCameraSharingEnd, false)
}

func (c *Client) startSharing(typ ringlink.PacketType, screen bool) ringlink.ErrorCode {
	c.state.mu.Lock()
	active := c.state.active
	if active == nil {
		c.state.mu.Unlock()
		return ringlink.NoActiveCall
	}
	if screen {
		if active.ScreenSharing != SharingStopped {
			c.state.mu.Unlock()
			return ringlink.ScreenSharingAlreadyActive
		}
		if active.ViewingRemoteScreen {
			c.state.mu.Unlock()
			return ringlink.ViewingRemoteScreen
		}
		active.ScreenSharing = SharingStarting
	} else {
		if active.CameraSharing != SharingStopped {
			c.state.mu.Unlock()
			return ringlink.CameraSharingAlreadyActive
		}
		active.CameraSharing = SharingStarting
	}
	token := c.state.token
	myHash := c.crypto.Hash(c.state.nickname)
	peerHash := c.crypto.Hash(active.PeerNickname)
	c.state.mu.Unlock()

	uid := c.crypto.GenerateUID()
	req := ringlink.SharingRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: peerHash}
	body, _ := ringlink.MarshalBody(req)
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(typ, body) },
		func(interface{}) { c.onSharingStarted(screen, true) },
		func(interface{}) { c.onSharingStarted(screen, false) },
	)
	return ringlink.Success
}

func (c *Client) onSharingStarted(screen, ok bool) {
	c.state.mu.Lock()
	if c.state.active != nil {
		if screen {
			if ok {
				c.state.active.ScreenSharing = SharingActive
			} else {
				c.state.active.ScreenSharing = SharingStopped
			}
		} else {
			if ok {
				c.state.active.CameraSharing = SharingActive
			} else {
				c.state.active.CameraSharing = SharingStopped
			}
		}
	}
	c.state.mu.Unlock()
	code := ringlink.NetworkError
	if ok {
		code = ringlink.Success
	}
	if screen {
		c.observer.OnStartScreenSharingResult(code)
	} else {
		c.observer.OnStartCameraSharingResult(code)
	}
}

func (c *Client) stopSharing(typ ringlink.PacketType, screen bool) ringlink.ErrorCode {
	c.state.mu.Lock()
	active := c.state.active
	if active == nil {
		c.state.mu.Unlock()
		return ringlink.NoActiveCall
	}
	if screen {
		if active.ScreenSharing == SharingStopped {
			c.state.mu.Unlock()
			return ringlink.ScreenSharingNotActive
		}
		active.ScreenSharing = SharingStopped
	} else {
		if active.CameraSharing == SharingStopped {
			c.state.mu.Unlock()
			return ringlink.CameraSharingNotActive
		}
		active.CameraSharing = SharingStopped
	}
	token := c.state.token
	myHash := c.crypto.Hash(c.state.nickname)
	peerHash := c.crypto.Hash(active.PeerNickname)
	c.state.mu.Unlock()

	uid := c.crypto.GenerateUID()
	req := ringlink.SharingRequest{UID: uid, Token: token, SenderHash: myHash, ReceiverHash: peerHash}
	body, _ := ringlink.MarshalBody(req)
	resultFn := func(ok bool) {
		code := ringlink.NetworkError
		if ok {
			code = ringlink.Success
		}
		if screen {
			c.observer.OnStopScreenSharingResult(code)
		} else {
			c.observer.OnStopCameraSharingResult(code)
		}
	}
	c.submit(uid, ringlink.TaskMaxAttemptsShort,
		func() { c.control.Send(typ, body) },
		func(interface{}) { resultFn(true) },
		func(interface{}) { resultFn(false) },
	)
	return ringlink.Success
}

// --- Incoming/forwarded packet handlers: the server-forwarded mirrors
// of the request types above. ---

func (c *Client) onIncomingCallingBegin(body []byte) {
	var req ringlink.CallingBeginRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	c.state.mu.Lock()
	kp := c.state.keypair
	c.state.mu.Unlock()

	packetKey, err := c.crypto.UnwrapSymmetricKey(kp, req.PacketKey)
	if err != nil {
		return
	}
	nicknamePlain, err := c.crypto.DecryptSymmetric(packetKey, req.SenderEncryptedNickname)
	if err != nil {
		return
	}
	callKey, err := c.crypto.UnwrapSymmetricKey(kp, req.EncryptedCallKey)
	if err != nil {
		return
	}
	callerPub, err := c.crypto.DeserializePublicKey(req.SenderPublicKey)
	if err != nil {
		return
	}
	nickname := string(nicknamePlain)

	c.state.mu.Lock()
	if _, exists := c.state.incoming[nickname]; exists {
		c.state.mu.Unlock()
		return
	}
	ic := &IncomingCall{CallerNickname: nickname, CallerPublic: callerPub, CallKey: callKey, Received: time.Now()}
	ic.timer = newTimer(ringlink.PendingCallTimeout, func() { c.onIncomingTimeout(nickname) })
	c.state.incoming[nickname] = ic
	c.state.mu.Unlock()

	c.observer.OnIncomingCall(nickname)
}

func (c *Client) onIncomingTimeout(nickname string) {
	c.state.mu.Lock()
	_, ok := c.state.incoming[nickname]
	delete(c.state.incoming, nickname)
	c.state.mu.Unlock()
	if ok {
		c.observer.OnIncomingCallExpired(ringlink.Success, nickname)
	}
}

func (c *Client) onIncomingCallingEnd(body []byte) {
	var req ringlink.CallingEndRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	c.state.mu.Lock()
	var found string
	for n := range c.state.incoming {
		if c.matchHash(n, req.SenderHash) {
			found = n
			break
		}
	}
	var ic *IncomingCall
	if found != "" {
		ic = c.state.incoming[found]
		delete(c.state.incoming, found)
	}
	c.state.mu.Unlock()
	if ic == nil {
		return
	}
	if ic.timer != nil {
		ic.timer.Stop()
	}
	c.observer.OnIncomingCallExpired(ringlink.Success, found)
}

func (c *Client) onForwardedCallAccept(body []byte) {
	var req ringlink.CallAcceptRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	c.state.mu.Lock()
	out := c.state.outgoing
	if out == nil || !c.matchHash(out.TargetNickname, req.SenderHash) {
		c.state.mu.Unlock()
		return
	}
	kp := c.state.keypair
	c.state.mu.Unlock()

	callKey, err := c.crypto.UnwrapSymmetricKey(kp, req.EncryptedCallKey)
	if err != nil {
		return
	}
	peerPub, err := c.crypto.DeserializePublicKey(req.SenderPublicKey)
	if err != nil {
		return
	}

	c.state.mu.Lock()
	if c.state.outgoing == nil || c.state.outgoing != out {
		c.state.mu.Unlock()
		return
	}
	if out.timer != nil {
		out.timer.Stop()
	}
	c.state.outgoing = nil
	c.state.active = &ActiveCall{PeerNickname: out.TargetNickname, PeerPublic: peerPub, CallKey: callKey, StartedAt: time.Now(), WasOutgoing: true}
	c.state.mu.Unlock()

	c.observer.OnOutgoingCallAccepted()
}

func (c *Client) onForwardedCallDecline(body []byte) {
	var req ringlink.CallDeclineRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	c.state.mu.Lock()
	out := c.state.outgoing
	if out == nil || !c.matchHash(out.TargetNickname, req.SenderHash) {
		c.state.mu.Unlock()
		return
	}
	c.state.outgoing = nil
	c.state.mu.Unlock()
	if out.timer != nil {
		out.timer.Stop()
	}
	c.observer.OnOutgoingCallDeclined()
}

func (c *Client) onForwardedCallEnd(body []byte) {
	var req ringlink.CallEndRequest
	if ringlink.UnmarshalBody(body, &req) != nil {
		return
	}
	c.state.mu.Lock()
	active := c.state.active
	if active == nil || !c.matchHash(active.PeerNickname, req.SenderHash) {
		c.state.mu.Unlock()
		return
	}
	c.state.active = nil
	c.state.mu.Unlock()
	c.media.stopAll()
	c.history.Record(HistoryEntry{Peer: active.PeerNickname, Outgoing: active.WasOutgoing, Started: active.StartedAt, Ended: time.Now(), EndReason: "remote"})
	c.observer.OnCallEndedByRemote(ringlink.Success)
}

func (c *Client) onConnectionDownWithUser(body []byte) {
	var n ringlink.ConnectionDownWithUser
	if ringlink.UnmarshalBody(body, &n) != nil {
		return
	}
	c.state.mu.Lock()
	if c.state.active != nil && c.matchHash(c.state.active.PeerNickname, n.NicknameHash) {
		c.state.active.PeerConnectionDown = true
		c.state.mu.Unlock()
		c.observer.OnCallParticipantConnectionDown()
		return
	}
	c.state.mu.Unlock()
}

func (c *Client) onConnectionRestoredWithUser(body []byte) {
	var n ringlink.ConnectionRestoredWithUser
	if ringlink.UnmarshalBody(body, &n) != nil {
		return
	}
	c.state.mu.Lock()
	if c.state.active != nil && c.matchHash(c.state.active.PeerNickname, n.NicknameHash) {
		c.state.active.PeerConnectionDown = false
		c.state.mu.Unlock()
		c.observer.OnCallParticipantConnectionRestored()
		return
	}
	c.state.mu.Unlock()
}

func (c *Client) onUserLogout(body []byte) {
	var n ringlink.UserLogoutNotification
	if ringlink.UnmarshalBody(body, &n) != nil {
		return
	}
	c.state.mu.Lock()
	if c.state.active != nil && c.matchHash(c.state.active.PeerNickname, n.NicknameHash) {
		active := c.state.active
		c.state.active = nil
		c.state.mu.Unlock()
		c.media.stopAll()
		c.history.Record(HistoryEntry{Peer: active.PeerNickname, Outgoing: active.WasOutgoing, Started: active.StartedAt, Ended: time.Now(), EndReason: "logout"})
		c.observer.OnCallEndedByRemote(ringlink.UserLogout)
		return
	}
	if c.state.outgoing != nil && c.matchHash(c.state.outgoing.TargetNickname, n.NicknameHash) {
		out := c.state.outgoing
		c.state.outgoing = nil
		c.state.mu.Unlock()
		if out.timer != nil {
			out.timer.Stop()
		}
		c.observer.OnOutgoingCallTimeout(ringlink.UserLogout)
		return
	}
	var found string
	for nick := range c.state.incoming {
		if c.matchHash(nick, n.NicknameHash) {
			found = nick
			break
		}
	}
	var ic *IncomingCall
	if found != "" {
		ic = c.state.incoming[found]
		delete(c.state.incoming, found)
	}
	c.state.mu.Unlock()
	if ic != nil {
		if ic.timer != nil {
			ic.timer.Stop()
		}
		c.observer.OnIncomingCallExpired(ringlink.UserLogout, found)
	}
}
