package server

import (
	"net"

	"github.com/ringlink/ringlink"
)

// Relay forwards media datagrams between the two participants of an
// active call. It holds no per-call state of its own; every decision is
// a pure function of (source endpoint, current active-call partner),
// looked up in the Registry.
//
// Unlike the client's MediaTransport, the relay never reassembles a
// logical packet before forwarding: it moves the raw datagram bytes,
// header and all. Reassembling and re-chunking here would renumber
// packetId/chunkIndex on the wire and break the far client's own
// reassembly against what the near client actually sent, plus add a
// full-packet buffering delay for nothing.
type Relay struct {
	registry  *Registry
	transport *ringlink.MediaTransport

	// onPong receives the source endpoint of every keepalive pong so
	// the ping monitor can credit it; ping/pong datagrams themselves
	// are never relayed between participants.
	onPong func(src *net.UDPAddr)
}

// NewRelay returns a Relay bound to registry. Call Bind to attach the
// UDP transport once the listening socket is known.
func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// Bind attaches the server's UDP media socket and starts its raw
// (non-reassembling) read loop.
func (rl *Relay) Bind(conn *net.UDPConn) {
	rl.transport = ringlink.NewMediaTransport(conn, nil)
	go rl.transport.ServeRaw(rl.onDatagram)
}

func (rl *Relay) onDatagram(src *net.UDPAddr, datagram []byte) {
	packetType, ok := ringlink.PeekMediaPacketType(datagram)
	if !ok {
		return
	}
	if packetType == ringlink.MediaTypePong {
		if rl.onPong != nil {
			rl.onPong(src)
		}
		return
	}
	if packetType == ringlink.MediaTypePing {
		return
	}
	sender, ok := rl.registry.UserByEndpoint(src)
	if !ok {
		return
	}
	partnerHash, ok := rl.registry.Partner(sender.NicknameHash)
	if !ok {
		return
	}
	partner, ok := rl.registry.User(partnerHash)
	if !ok || partner.MediaEndpoint == nil {
		return
	}
	// Never inspect or decrypt payload: it is end-to-end sealed under
	// the call key, which the relay never holds. Forward the datagram
	// exactly as received.
	_ = rl.transport.SendRaw(partner.MediaEndpoint, datagram)
}
