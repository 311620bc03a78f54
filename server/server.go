package server

import (
	"net"
	"sync/atomic"

	"github.com/ringlink/ringlink"
)

// Server is the runnable relay process: one TCP control listener, one
// UDP media socket, the Registry, and the Dispatcher that ties them
// together.
type Server struct {
	registry   *Registry
	dispatcher *Dispatcher
	relay      *Relay
	monitor    *pingMonitor

	controlListener net.Listener
	mediaConn       *net.UDPConn

	closing int32
}

// Config bundles everything needed to start a Server.
type Config struct {
	ControlAddr string // e.g. ":7070"
	MediaAddr   string // e.g. ":7071"
	DupCacheSize int
	Recorder    CallRecorder // may be nil
}

// New constructs a Server bound to the given addresses. The control and
// media sockets are opened but Serve must be called to start accepting.
func New(cfg Config) (*Server, error) {
	if cfg.DupCacheSize <= 0 {
		cfg.DupCacheSize = 4096
	}
	ln, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.MediaAddr)
	if err != nil {
		ln.Close()
		return nil, err
	}
	mediaConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		ln.Close()
		return nil, err
	}

	registry := NewRegistry(cfg.DupCacheSize)
	dispatcher := NewDispatcher(registry, cfg.Recorder)
	relay := NewRelay(registry)
	relay.Bind(mediaConn)

	s := &Server{
		registry:        registry,
		dispatcher:      dispatcher,
		relay:           relay,
		controlListener: ln,
		mediaConn:       mediaConn,
	}
	s.monitor = newPingMonitor(registry, relay.transport, s.markUserDown)
	relay.onPong = s.monitor.handlePong
	go s.monitor.run()
	return s, nil
}

// Serve accepts control connections until Close is called. Each
// connection is handled in its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.controlListener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closing) != 0 {
				return nil
			}
			ringlink.Log().Warningf("accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	if err := ringlink.AcceptHandshake(conn); err != nil {
		conn.Close()
		return
	}

	var endpoint net.Addr = conn.RemoteAddr()
	var transport *ringlink.ControlTransport
	transport = ringlink.NewControlTransport(conn,
		func(typ ringlink.PacketType, body []byte) {
			s.dispatcher.HandleControl(endpoint, transport, typ, body)
		},
		func() {
			s.onConnectionDown(transport)
		},
	)
	transport.Serve()
}

func (s *Server) onConnectionDown(transport *ringlink.ControlTransport) {
	u, ok := s.registry.userByConnScan(transport)
	if !ok {
		return
	}
	s.markUserDown(u.NicknameHash)
}

// markUserDown marks a user connection-down and notifies every pending
// or active counterparty. It is fed by both liveness signals: the ping
// monitor's media-silence sweep (the primary, ~6s signal) and the
// control channel dropping (TCP reset, or keepalive after ~25s of
// silence).
func (s *Server) markUserDown(nicknameHash string) {
	counterparties := s.registry.MarkConnectionDown(nicknameHash, s.onGraceExpired)
	for _, peerHash := range counterparties {
		if peer, ok := s.registry.User(peerHash); ok {
			body, _ := ringlink.MarshalBody(ringlink.ConnectionDownWithUser{NicknameHash: nicknameHash})
			peer.Conn.Send(ringlink.PacketConnectionDownWithUser, body)
		}
	}
}

// onGraceExpired runs the full logout procedure for a user whose
// connection never returned within ServerDisconnectGracePeriod.
func (s *Server) onGraceExpired(nicknameHash string) {
	peers := s.registry.Logout(nicknameHash)
	for _, peerHash := range peers {
		if peer, ok := s.registry.User(peerHash); ok {
			body, _ := ringlink.MarshalBody(ringlink.UserLogoutNotification{NicknameHash: nicknameHash})
			peer.Conn.Send(ringlink.PacketUserLogout, body)
		}
	}
}

// Close stops accepting new connections, stops the ping monitor, and
// releases both sockets.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closing, 1)
	s.monitor.close()
	err1 := s.controlListener.Close()
	err2 := s.mediaConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// MediaAddr returns the bound UDP media address, useful when MediaAddr
// was ":0" in Config.
func (s *Server) MediaAddr() *net.UDPAddr {
	return s.mediaConn.LocalAddr().(*net.UDPAddr)
}

// ControlAddr returns the bound TCP control address, useful when
// ControlAddr was ":0" in Config.
func (s *Server) ControlAddr() net.Addr {
	return s.controlListener.Addr()
}
