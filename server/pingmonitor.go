package server

import (
	"net"
	"sync"
	"time"

	"github.com/ringlink/ringlink"
)

// pingMonitor detects media-level silence: every MediaPingInterval it
// pings the media endpoint of every registered user, and every
// MediaPingCheckInterval it sweeps for endpoints that have not answered
// since the previous sweep. A silent endpoint's user is handed to
// onTimeout, which marks it connection-down and notifies its
// counterparties. This is the server's primary liveness signal — a
// client whose WiFi dropped stops answering within one sweep (~6s),
// long before TCP keepalive would notice.
type pingMonitor struct {
	registry  *Registry
	transport *ringlink.MediaTransport
	onTimeout func(nicknameHash string)

	mu sync.Mutex
	// answered maps a pinged endpoint to whether a pong has arrived
	// since the last sweep. An entry is created at first ping and
	// removed when its endpoint times out or is no longer registered.
	answered map[string]bool

	stopOnce sync.Once
	stop     chan struct{}
}

func newPingMonitor(registry *Registry, transport *ringlink.MediaTransport, onTimeout func(nicknameHash string)) *pingMonitor {
	return &pingMonitor{
		registry:  registry,
		transport: transport,
		onTimeout: onTimeout,
		answered:  make(map[string]bool),
		stop:      make(chan struct{}),
	}
}

// run drives the broadcast/sweep cadence until close is called.
func (p *pingMonitor) run() {
	pingTicker := time.NewTicker(ringlink.MediaPingInterval)
	checkTicker := time.NewTicker(ringlink.MediaPingCheckInterval)
	defer pingTicker.Stop()
	defer checkTicker.Stop()
	for {
		select {
		case <-pingTicker.C:
			p.broadcast()
		case <-checkTicker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

func (p *pingMonitor) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// broadcast pings every registered, not-down media endpoint, admitting
// each into the answered map so the next sweep holds it accountable.
func (p *pingMonitor) broadcast() {
	endpoints := p.registry.MediaEndpoints()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, addr := range endpoints {
		if err := p.transport.SendPing(addr); err != nil {
			ringlink.Log().Debugf("ping to %s failed: %v", addr, err)
			continue
		}
		if _, ok := p.answered[addr.String()]; !ok {
			p.answered[addr.String()] = false
		}
	}
}

// handlePong records a pong from src. Pongs from endpoints that were
// never pinged are ignored.
func (p *pingMonitor) handlePong(src *net.UDPAddr) {
	p.mu.Lock()
	if _, ok := p.answered[src.String()]; ok {
		p.answered[src.String()] = true
	}
	p.mu.Unlock()
}

// sweep resets every endpoint that answered since the last sweep and
// times out every endpoint that did not.
func (p *pingMonitor) sweep() {
	var silent []string
	p.mu.Lock()
	for endpoint, answered := range p.answered {
		if answered {
			p.answered[endpoint] = false
			continue
		}
		silent = append(silent, endpoint)
		delete(p.answered, endpoint)
	}
	p.mu.Unlock()

	for _, endpoint := range silent {
		addr, err := net.ResolveUDPAddr("udp", endpoint)
		if err != nil {
			continue
		}
		u, ok := p.registry.UserByEndpoint(addr)
		if !ok || u.ConnectionDown {
			continue
		}
		ringlink.Log().Noticef("user %s disconnected due to ping timeout", u.NicknameHash)
		p.onTimeout(u.NicknameHash)
	}
}
