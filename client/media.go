package client

import (
	"net"

	"github.com/ringlink/ringlink"
)

// MediaManager encrypts and sends captured frames over MediaTransport
// using the active call's key, and receives and decrypts inbound
// datagrams before handing them to the application via AudioEngine.Play
// or the Observer (screen/camera). All outbound media is addressed to
// the relay server's media port; the server forwards verbatim to the
// partner's registered endpoint, so this client never learns or dials a
// peer's address directly.
type MediaManager struct {
	c *Client

	transport *ringlink.MediaTransport
	relayAddr *net.UDPAddr

	audio     ringlink.AudioEngine
	screenCap ringlink.VideoCapture
	cameraCap ringlink.VideoCapture
}

func newMediaManager(c *Client) *MediaManager {
	return &MediaManager{c: c}
}

func (m *MediaManager) bind() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	m.transport = ringlink.NewMediaTransport(conn, m.onDatagram)
	go m.transport.Serve()
	return nil
}

// rebind discards the current media socket and binds a fresh one, so a
// reconnect after a NAT rebind doesn't keep a stale, possibly
// firewalled port.
func (m *MediaManager) rebind() error {
	if m.transport != nil {
		m.transport.Close()
	}
	return m.bind()
}

// SetRelayAddr points outbound media at the server's media port,
// resolved once after Connect; the server's control-channel address and
// media address may differ.
func (m *MediaManager) SetRelayAddr(addr *net.UDPAddr) {
	m.relayAddr = addr
}

// SetAudioEngine/SetScreenCapture/SetCameraCapture wire the capture
// collaborators. Capture callbacks are registered immediately. Audio
// frames are encrypted and sent whenever a call is active; screen and
// camera frames only while the corresponding sharing sub-state is
// Active.
func (m *MediaManager) SetAudioEngine(a ringlink.AudioEngine) {
	m.audio = a
	a.OnFrame(func(frame []byte) { m.sendFrame(ringlink.PacketVoice, frame) })
}

func (m *MediaManager) SetScreenCapture(v ringlink.VideoCapture) {
	m.screenCap = v
	v.OnFrame(func(frame []byte) {
		m.c.state.mu.Lock()
		active := m.c.state.active != nil && m.c.state.active.ScreenSharing == SharingActive
		m.c.state.mu.Unlock()
		if active {
			m.sendFrame(ringlink.PacketScreen, frame)
		}
	})
}

func (m *MediaManager) SetCameraCapture(v ringlink.VideoCapture) {
	m.cameraCap = v
	v.OnFrame(func(frame []byte) {
		m.c.state.mu.Lock()
		active := m.c.state.active != nil && m.c.state.active.CameraSharing == SharingActive
		m.c.state.mu.Unlock()
		if active {
			m.sendFrame(ringlink.PacketCamera, frame)
		}
	})
}

func (m *MediaManager) sendFrame(typ ringlink.PacketType, frame []byte) {
	m.c.state.mu.Lock()
	active := m.c.state.active
	m.c.state.mu.Unlock()
	if active == nil || m.transport == nil || m.relayAddr == nil {
		return
	}
	ciphertext, err := m.c.crypto.EncryptSymmetric(active.CallKey, frame)
	if err != nil {
		ringlink.Log().Debugf("media encrypt failed: %v", err)
		return
	}
	_ = m.transport.Send(m.relayAddr, uint32(typ), []byte(ciphertext))
}

func (m *MediaManager) onDatagram(_ *net.UDPAddr, packetType uint32, payload []byte) {
	m.c.state.mu.Lock()
	active := m.c.state.active
	m.c.state.mu.Unlock()
	if active == nil {
		return
	}
	plain, err := m.c.crypto.DecryptSymmetric(active.CallKey, string(payload))
	if err != nil {
		// Decrypt failures are best-effort media: log and drop, never
		// surfaced to the application.
		ringlink.Log().Debugf("media decrypt failed: %v", err)
		return
	}
	switch ringlink.PacketType(packetType) {
	case ringlink.PacketVoice:
		if m.audio != nil {
			_ = m.audio.Play(plain)
		}
	case ringlink.PacketScreen:
		m.c.observer.OnIncomingScreen(plain)
	case ringlink.PacketCamera:
		m.c.observer.OnIncomingCamera(plain)
	}
}

// stopAll tears down capture/output when a call ends, regardless of
// cause.
func (m *MediaManager) stopAll() {
	if m.audio != nil {
		_ = m.audio.Stop()
	}
	if m.screenCap != nil {
		_ = m.screenCap.Stop()
	}
	if m.cameraCap != nil {
		_ = m.cameraCap.Stop()
	}
}
