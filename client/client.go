package client

import (
	"net"
	"time"

	"github.com/ringlink/ringlink"
)

// Client is the top-level client-side session: one per authorized user,
// wiring ClientState (state.go), the signalling operations
// (signalling.go), media (media.go), and the reconnect loop
// (reconnect.go) together over a ControlTransport and MediaTransport.
type Client struct {
	state  *State
	crypto ringlink.CryptoSurface
	tasks  *ringlink.TaskManager

	observer Observer

	serverAddr    string
	controlDialer func() (net.Conn, error)

	control *ringlink.ControlTransport
	media   *MediaManager

	reconnect *ReconnectController
	history   *History
}

// New constructs a Client bound to serverAddr. crypto defaults to
// ringlink.DefaultCrypto{} if nil. The client is Unauthorized and has no
// live transport until Connect succeeds.
func New(serverAddr string, crypto ringlink.CryptoSurface, observer Observer) *Client {
	if crypto == nil {
		crypto = ringlink.DefaultCrypto{}
	}
	if observer == nil {
		observer = BaseObserver{}
	}
	c := &Client{
		state:      NewState(),
		crypto:     crypto,
		tasks:      ringlink.NewTaskManager(),
		observer:   observer,
		serverAddr: serverAddr,
		history:    NewHistory(64),
	}
	c.media = newMediaManager(c)
	c.reconnect = newReconnectController(c)
	return c
}

// Connect dials the server's control port, runs the handshake, and
// starts the control read/write loops. It does not authorize; call
// Authorize afterwards.
func (c *Client) Connect() error {
	transport, err := ringlink.DialControlTransport(c.serverAddr, ringlink.ConnectSyncTimeout, c.handlePacket, c.handleConnectionDown)
	if err != nil {
		return err
	}
	c.control = transport
	go transport.Serve()
	return nil
}

// SetAudioEngine wires the audio capture/playback collaborator.
func (c *Client) SetAudioEngine(a ringlink.AudioEngine) {
	c.media.SetAudioEngine(a)
}

// SetScreenCapture wires the screen-capture collaborator.
func (c *Client) SetScreenCapture(v ringlink.VideoCapture) {
	c.media.SetScreenCapture(v)
}

// SetCameraCapture wires the camera-capture collaborator.
func (c *Client) SetCameraCapture(v ringlink.VideoCapture) {
	c.media.SetCameraCapture(v)
}

// SetRelayAddr points outbound media at the relay server's UDP port.
func (c *Client) SetRelayAddr(addr *net.UDPAddr) {
	c.media.SetRelayAddr(addr)
}

// BindMedia binds a UDP socket for the media channel and starts its
// reader loop. The OS-chosen local port is what Authorize/Reconnect
// report to the server.
func (c *Client) BindMedia() error {
	return c.media.bind()
}

// RecentCalls returns up to limit of the most recently completed calls,
// newest first, for callers like localctl's history endpoint.
func (c *Client) RecentCalls(limit int) []HistoryEntry {
	return c.history.Recent(limit)
}

// Snapshot returns a value-typed read of the client's current state, for
// callers like localctl's status endpoint that cannot take a reference
// to the internal mutex-guarded State.
func (c *Client) Snapshot() Snapshot {
	return c.state.Snapshot()
}

func (c *Client) mediaLocalPort() int {
	if c.media == nil || c.media.transport == nil {
		return 0
	}
	return c.media.transport.LocalAddr().Port
}

func (c *Client) send(typ ringlink.PacketType, v interface{}) ([]byte, bool) {
	body, err := ringlink.MarshalBody(v)
	if err != nil {
		return nil, false
	}
	if c.control == nil || !c.control.Send(typ, body) {
		return nil, false
	}
	return body, true
}

func (c *Client) handleConnectionDown() {
	c.state.mu.Lock()
	wasUp := c.state.phase == AuthorizedUp
	if c.state.phase == AuthorizedUp || c.state.phase == Authorizing {
		c.state.phase = AuthorizedDown
	}
	outgoing := c.state.outgoing
	c.state.outgoing = nil
	incoming := c.state.incoming
	c.state.incoming = make(map[string]*IncomingCall)
	active := c.state.active
	if active != nil {
		active.PeerConnectionDown = true
	}
	c.state.mu.Unlock()

	if outgoing != nil && outgoing.timer != nil {
		outgoing.timer.Stop()
		c.observer.OnOutgoingCallTimeout(ringlink.NetworkError)
	}
	for nick, ic := range incoming {
		if ic.timer != nil {
			ic.timer.Stop()
		}
		c.observer.OnIncomingCallExpired(ringlink.NetworkError, nick)
	}
	if wasUp {
		c.observer.OnConnectionDown()
	}
	c.reconnect.notifyDown()
}

// handlePacket is the single control-channel dispatch point, routing by
// packet type. Result and confirmation packets complete the in-flight
// local task whose uid they carry; every other handled type is a
// server-forwarded notification originating from a counterparty.
func (c *Client) handlePacket(typ ringlink.PacketType, body []byte) {
	switch typ {
	case ringlink.PacketAuthorizationResult:
		var res ringlink.AuthorizationResult
		if ringlink.UnmarshalBody(body, &res) == nil {
			c.tasks.Complete(res.UID, res)
		}
	case ringlink.PacketReconnectResult:
		var res ringlink.ReconnectResult
		if ringlink.UnmarshalBody(body, &res) == nil {
			c.tasks.Complete(res.UID, res)
		}
	case ringlink.PacketGetUserInfoResult:
		var res ringlink.GetUserInfoResult
		if ringlink.UnmarshalBody(body, &res) == nil {
			c.tasks.Complete(res.UID, res)
		}
	case ringlink.PacketConfirmation:
		var res ringlink.Confirmation
		if ringlink.UnmarshalBody(body, &res) == nil {
			c.tasks.Complete(res.UID, res)
		}
	case ringlink.PacketCallingBegin:
		c.onIncomingCallingBegin(body)
	case ringlink.PacketCallingEnd:
		c.onIncomingCallingEnd(body)
	case ringlink.PacketCallAccept:
		c.onForwardedCallAccept(body)
	case ringlink.PacketCallDecline:
		c.onForwardedCallDecline(body)
	case ringlink.PacketCallEnd:
		c.onForwardedCallEnd(body)
	case ringlink.PacketScreenSharingBegin:
		c.setViewingRemoteScreen(true)
		c.observer.OnIncomingScreenSharingStarted()
	case ringlink.PacketScreenSharingEnd:
		c.setViewingRemoteScreen(false)
		c.observer.OnIncomingScreenSharingStopped()
	case ringlink.PacketCameraSharingBegin:
		c.observer.OnIncomingCameraSharingStarted()
	case ringlink.PacketCameraSharingEnd:
		c.observer.OnIncomingCameraSharingStopped()
	case ringlink.PacketConnectionDownWithUser:
		c.onConnectionDownWithUser(body)
	case ringlink.PacketConnectionRestoredWithUser:
		c.onConnectionRestoredWithUser(body)
	case ringlink.PacketUserLogout:
		c.onUserLogout(body)
	}
}

func (c *Client) setViewingRemoteScreen(viewing bool) {
	c.state.mu.Lock()
	if c.state.active != nil {
		c.state.active.ViewingRemoteScreen = viewing
	}
	c.state.mu.Unlock()
}

func newTimer(d time.Duration, fire func()) *time.Timer {
	return time.AfterFunc(d, fire)
}
