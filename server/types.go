// Package server implements the relay server: the authoritative user
// registry, the control-message dispatcher, and the stateless
// pair-routed media relay.
package server

import (
	"net"
	"time"

	"github.com/ringlink/ringlink"
)

// CallID is a monotonically increasing identifier for a PendingCall or
// ActiveCall. A call is shared by two Users; keying a plain map by
// CallID gives O(1) two-sided teardown with no cyclic-reference
// hazards.
type CallID uint64

// User is the server's record of one authorized client.
type User struct {
	NicknameHash string
	PublicKey    [32]byte
	Token        string

	ControlEndpoint net.Addr
	MediaEndpoint   *net.UDPAddr

	ConnectionDown bool
	downSince      time.Time
	downGraceTimer *time.Timer

	OutgoingPending CallID // 0 if none
	IncomingPending map[CallID]struct{}
	Active          CallID // 0 if none

	Conn *ringlink.ControlTransport
}

// PendingCall is an unresolved offer shared by two Users.
type PendingCall struct {
	ID        CallID
	Initiator string // nickname hash
	Receiver  string // nickname hash
	timer     *time.Timer
}

// ActiveCall is an established call shared by two Users.
type ActiveCall struct {
	ID   CallID
	A, B string // nickname hashes, unordered pair
}

func (a *ActiveCall) Other(nicknameHash string) string {
	if a.A == nicknameHash {
		return a.B
	}
	return a.A
}
