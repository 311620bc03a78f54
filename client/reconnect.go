package client

import (
	"sync"
	"time"

	"github.com/ringlink/ringlink"
)

// ReconnectController is the client-side loop that re-establishes the
// control channel and re-presents identity via token after a drop. It
// retries roughly every 2s until either resumption succeeds or the
// server rejects the token outright.
type ReconnectController struct {
	c *Client

	mu      sync.Mutex
	running bool
	stopped bool
}

func newReconnectController(c *Client) *ReconnectController {
	return &ReconnectController{c: c}
}

// notifyDown is called by Client.handleConnectionDown once the client
// has already transitioned to AuthorizedDown.
func (r *ReconnectController) notifyDown() {
	r.mu.Lock()
	if r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.loop()
}

// Stop ends the retry loop cleanly.
func (r *ReconnectController) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *ReconnectController) loop() {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}

		r.c.state.mu.Lock()
		stillDown := r.c.state.phase == AuthorizedDown
		r.c.state.mu.Unlock()
		if !stillDown {
			return
		}

		if r.attempt() {
			return
		}
		time.Sleep(ringlink.ReconnectRetryInterval)
	}
}

// attempt runs one connect-and-resume cycle, returning true once the
// loop should stop (success or hard rejection).
func (r *ReconnectController) attempt() bool {
	c := r.c
	c.state.mu.Lock()
	c.state.phase = Reconnecting
	token := c.state.token
	nickname := c.state.nickname
	c.state.mu.Unlock()

	if err := c.media.rebind(); err != nil {
		c.state.mu.Lock()
		c.state.phase = AuthorizedDown
		c.state.mu.Unlock()
		return false
	}

	transport, err := ringlink.DialControlTransport(c.serverAddr, ringlink.ConnectSyncTimeout, c.handlePacket, c.handleConnectionDown)
	if err != nil {
		c.state.mu.Lock()
		c.state.phase = AuthorizedDown
		c.state.mu.Unlock()
		return false
	}
	c.control = transport
	go transport.Serve()

	uid := c.crypto.GenerateUID()
	req := ringlink.ReconnectRequest{
		UID:             uid,
		NicknameHash:    c.crypto.Hash(nickname),
		Token:           token,
		UDPPort:         c.mediaLocalPort(),
		ProtocolVersion: ringlink.ProtocolVersion.String(),
	}
	body, _ := ringlink.MarshalBody(req)

	resultCh := make(chan ringlink.ReconnectResult, 1)
	failCh := make(chan struct{}, 1)
	c.submit(uid, ringlink.TaskMaxAttemptsLong,
		func() { c.control.Send(ringlink.PacketReconnect, body) },
		func(ctx interface{}) {
			if res, ok := ctx.(ringlink.ReconnectResult); ok {
				resultCh <- res
				return
			}
			failCh <- struct{}{}
		},
		func(interface{}) { failCh <- struct{}{} },
	)

	select {
	case res := <-resultCh:
		return r.onResult(res)
	case <-failCh:
		c.state.mu.Lock()
		c.state.phase = AuthorizedDown
		c.state.mu.Unlock()
		return false
	case <-time.After(ringlink.ConnectSyncTimeout):
		c.state.mu.Lock()
		c.state.phase = AuthorizedDown
		c.state.mu.Unlock()
		return false
	}
}

func (r *ReconnectController) onResult(res ringlink.ReconnectResult) bool {
	c := r.c
	if !res.Result {
		c.state.mu.Lock()
		c.state.phase = Unauthorized
		c.state.nickname = ""
		c.state.token = ""
		c.state.active = nil
		c.state.outgoing = nil
		c.state.incoming = make(map[string]*IncomingCall)
		c.state.mu.Unlock()
		c.observer.OnConnectionRestoredAuthorizationNeeded()
		return true
	}

	c.state.mu.Lock()
	c.state.phase = AuthorizedUp
	hadActive := c.state.active != nil
	if hadActive && !res.IsActiveCall {
		c.state.active = nil
	} else if hadActive {
		c.state.active.PeerConnectionDown = false
	}
	c.state.mu.Unlock()

	if hadActive && !res.IsActiveCall {
		c.media.stopAll()
	}
	c.observer.OnConnectionRestored()
	return true
}
