package server

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ringlink/ringlink"
)

// Registry is the authoritative server-side state: users, pending
// calls, and active calls, all guarded by one coarse mutex. The
// critical sections are short; correctness is easier to reason about
// this way than with finer sharding.
type Registry struct {
	mu sync.Mutex

	users      map[string]*User // by nickname hash
	pending    map[CallID]*PendingCall
	active     map[CallID]*ActiveCall
	nextCallID uint64

	// recentReplies caches the direct response sent for each request
	// uid, so a retried (duplicate) control request that arrives after
	// the original already completed is re-acknowledged with the same
	// reply instead of reprocessed. Clients retry a request up to five
	// times, so a slow server reply plus a retry can race.
	recentReplies *lru.Cache

	onTimeout func(pc *PendingCall, reason string)
}

// NewRegistry returns an empty registry. dupCacheSize bounds the
// recently-replied-request cache.
func NewRegistry(dupCacheSize int) *Registry {
	replies, _ := lru.New(dupCacheSize)
	return &Registry{
		users:         make(map[string]*User),
		pending:       make(map[CallID]*PendingCall),
		active:        make(map[CallID]*ActiveCall),
		recentReplies: replies,
	}
}

type replyKey struct {
	conn *ringlink.ControlTransport
	uid  string
}

type cachedReply struct {
	typ  ringlink.PacketType
	body []byte
}

// CacheReply remembers the direct response sent for uid so a retried
// duplicate of the same request can be re-acknowledged verbatim. The
// cache is scoped per connection: a TaskManager retry always arrives on
// the transport the original was sent on, and distinct clients are free
// to collide on uids without observing each other's replies.
func (r *Registry) CacheReply(conn *ringlink.ControlTransport, uid string, typ ringlink.PacketType, body []byte) {
	if uid == "" {
		return
	}
	r.recentReplies.Add(replyKey{conn: conn, uid: uid}, cachedReply{typ: typ, body: body})
}

// CachedReply returns the response previously sent to conn for uid, if
// any.
func (r *Registry) CachedReply(conn *ringlink.ControlTransport, uid string) (ringlink.PacketType, []byte, bool) {
	v, ok := r.recentReplies.Get(replyKey{conn: conn, uid: uid})
	if !ok {
		return 0, nil, false
	}
	cr := v.(cachedReply)
	return cr.typ, cr.body, true
}

// Authorize registers a new user if the nickname hash is free. Returns
// false if it is already taken.
func (r *Registry) Authorize(nicknameHash, token string, pub [32]byte, endpoint net.Addr, mediaEndpoint *net.UDPAddr, conn *ringlink.ControlTransport) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[nicknameHash]; exists {
		return nil, false
	}
	u := &User{
		NicknameHash:    nicknameHash,
		PublicKey:       pub,
		Token:           token,
		ControlEndpoint: endpoint,
		MediaEndpoint:   mediaEndpoint,
		IncomingPending: make(map[CallID]struct{}),
		Conn:            conn,
	}
	r.users[nicknameHash] = u
	return u, true
}

// User looks up a user by nickname hash.
func (r *Registry) User(nicknameHash string) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nicknameHash]
	return u, ok
}

// Reconnect validates token against the stored user and, on match,
// rebinds its endpoints to the presenting connection, accepting
// whatever new address a NAT rebind produced.
func (r *Registry) Reconnect(nicknameHash, token string, endpoint net.Addr, mediaEndpoint *net.UDPAddr, conn *ringlink.ControlTransport) (*User, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nicknameHash]
	if !ok || u.Token != token {
		return nil, false, false
	}
	if u.downGraceTimer != nil {
		u.downGraceTimer.Stop()
		u.downGraceTimer = nil
	}
	u.ConnectionDown = false
	u.ControlEndpoint = endpoint
	u.MediaEndpoint = mediaEndpoint
	u.Conn = conn
	isActive := u.Active != 0
	return u, true, isActive
}

// Logout removes a user, tearing down its pending and active calls, and
// returns the set of counterparties (pending and active) that must be
// notified.
func (r *Registry) Logout(nicknameHash string) (counterparties []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nicknameHash]
	if !ok {
		return nil
	}
	counterparties = r.tearDownUserLocked(u)
	delete(r.users, nicknameHash)
	return counterparties
}

// tearDownUserLocked clears every pending/active relationship a user
// participates in and returns the peers that must be notified. Caller
// holds r.mu.
func (r *Registry) tearDownUserLocked(u *User) (counterparties []string) {
	if u.OutgoingPending != 0 {
		if pc, ok := r.pending[u.OutgoingPending]; ok {
			counterparties = append(counterparties, r.otherParty(pc, u.NicknameHash))
			r.removePendingLocked(pc.ID)
		}
		u.OutgoingPending = 0
	}
	for id := range u.IncomingPending {
		if pc, ok := r.pending[id]; ok {
			counterparties = append(counterparties, r.otherParty(pc, u.NicknameHash))
			r.removePendingLocked(pc.ID)
		}
	}
	u.IncomingPending = make(map[CallID]struct{})
	if u.Active != 0 {
		if ac, ok := r.active[u.Active]; ok {
			counterparties = append(counterparties, ac.Other(u.NicknameHash))
			delete(r.active, ac.ID)
		}
		u.Active = 0
	}
	return counterparties
}

func (r *Registry) otherParty(pc *PendingCall, nicknameHash string) string {
	if pc.Initiator == nicknameHash {
		return pc.Receiver
	}
	return pc.Initiator
}

func (r *Registry) removePendingLocked(id CallID) {
	if pc, ok := r.pending[id]; ok {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		delete(r.pending, id)
	}
}

// SetPendingTimeoutHandler installs the callback invoked when a
// PendingCall's 32s timer fires. Must be called before any
// pending calls are created.
func (r *Registry) SetPendingTimeoutHandler(f func(pc *PendingCall, reason string)) {
	r.mu.Lock()
	r.onTimeout = f
	r.mu.Unlock()
}

// CreatePendingCall installs a new offer from initiator to receiver,
// rejecting if the initiator already has one outstanding: a user holds
// at most one outgoing pending call at a time.
func (r *Registry) CreatePendingCall(initiatorHash, receiverHash string) (*PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	initiator, ok := r.users[initiatorHash]
	if !ok || initiator.OutgoingPending != 0 {
		return nil, false
	}
	receiver, ok := r.users[receiverHash]
	if !ok {
		return nil, false
	}
	r.nextCallID++
	id := CallID(r.nextCallID)
	pc := &PendingCall{ID: id, Initiator: initiatorHash, Receiver: receiverHash}
	r.pending[id] = pc
	initiator.OutgoingPending = id
	receiver.IncomingPending[id] = struct{}{}

	pc.timer = time.AfterFunc(ringlink.PendingCallTimeout, func() { r.expirePendingCall(id) })
	return pc, true
}

func (r *Registry) expirePendingCall(id CallID) {
	r.mu.Lock()
	pc, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	if initiator, ok := r.users[pc.Initiator]; ok && initiator.OutgoingPending == id {
		initiator.OutgoingPending = 0
	}
	if receiver, ok := r.users[pc.Receiver]; ok {
		delete(receiver.IncomingPending, id)
	}
	handler := r.onTimeout
	r.mu.Unlock()
	if handler != nil {
		handler(pc, "timeout")
	}
}

// EndPendingCall removes a pending call outright (CALLING_END or
// CALL_DECLINE), returning it for the caller to notify the counterparty.
func (r *Registry) EndPendingCall(nicknameHash, counterpartyHash string) (*PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *PendingCall
	for _, pc := range r.pending {
		if (pc.Initiator == nicknameHash && pc.Receiver == counterpartyHash) ||
			(pc.Initiator == counterpartyHash && pc.Receiver == nicknameHash) {
			found = pc
			break
		}
	}
	if found == nil {
		return nil, false
	}
	if initiator, ok := r.users[found.Initiator]; ok && initiator.OutgoingPending == found.ID {
		initiator.OutgoingPending = 0
	}
	if receiver, ok := r.users[found.Receiver]; ok {
		delete(receiver.IncomingPending, found.ID)
	}
	r.removePendingLocked(found.ID)
	return found, true
}

// AcceptPendingCall converts a PendingCall into an ActiveCall, dropping
// every other pending call of both participants, incoming and outgoing.
// Returns the new ActiveCall and the dropped offers, so the caller can
// decline their would-be offerers.
func (r *Registry) AcceptPendingCall(initiatorHash, receiverHash string) (*ActiveCall, []*PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *PendingCall
	for _, pc := range r.pending {
		if pc.Initiator == initiatorHash && pc.Receiver == receiverHash {
			found = pc
			break
		}
	}
	if found == nil {
		return nil, nil, false
	}
	r.removePendingLocked(found.ID)

	initiator := r.users[initiatorHash]
	receiver := r.users[receiverHash]
	if initiator != nil && initiator.OutgoingPending == found.ID {
		initiator.OutgoingPending = 0
	}
	if receiver != nil {
		delete(receiver.IncomingPending, found.ID)
	}

	var dropped []*PendingCall
	if initiator != nil {
		dropped = append(dropped, r.dropIncomingLocked(initiator)...)
	}
	if receiver != nil {
		dropped = append(dropped, r.dropIncomingLocked(receiver)...)
	}
	for _, u := range []*User{initiator, receiver} {
		if u == nil || u.OutgoingPending == 0 {
			continue
		}
		if pc, ok := r.pending[u.OutgoingPending]; ok {
			if callee, ok := r.users[pc.Receiver]; ok {
				delete(callee.IncomingPending, pc.ID)
			}
			r.removePendingLocked(pc.ID)
			dropped = append(dropped, pc)
		}
		u.OutgoingPending = 0
	}

	r.nextCallID++
	id := CallID(r.nextCallID)
	ac := &ActiveCall{ID: id, A: initiatorHash, B: receiverHash}
	r.active[id] = ac
	if initiator != nil {
		initiator.Active = id
	}
	if receiver != nil {
		receiver.Active = id
	}
	return ac, dropped, true
}

func (r *Registry) dropIncomingLocked(u *User) []*PendingCall {
	var dropped []*PendingCall
	for id := range u.IncomingPending {
		if pc, ok := r.pending[id]; ok {
			if other, ok := r.users[r.otherParty(pc, u.NicknameHash)]; ok && other.OutgoingPending == id {
				other.OutgoingPending = 0
			}
			r.removePendingLocked(id)
			dropped = append(dropped, pc)
		}
	}
	u.IncomingPending = make(map[CallID]struct{})
	return dropped
}

// EndActiveCall tears down an ActiveCall, returning the partner's
// nickname hash.
func (r *Registry) EndActiveCall(nicknameHash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nicknameHash]
	if !ok || u.Active == 0 {
		return "", false
	}
	ac, ok := r.active[u.Active]
	if !ok {
		u.Active = 0
		return "", false
	}
	other := ac.Other(nicknameHash)
	delete(r.active, ac.ID)
	u.Active = 0
	if peer, ok := r.users[other]; ok {
		peer.Active = 0
	}
	return other, true
}

// MarkConnectionDown marks a user connection-down and returns every
// counterparty (pending and active) that must be notified with
// CONNECTION_DOWN_WITH_USER, then arms the server-side grace-period
// timer that runs the full logout procedure if the user never returns.
func (r *Registry) MarkConnectionDown(nicknameHash string, onGraceExpired func(nicknameHash string)) []string {
	r.mu.Lock()
	u, ok := r.users[nicknameHash]
	if !ok || u.ConnectionDown {
		r.mu.Unlock()
		return nil
	}
	u.ConnectionDown = true
	u.downSince = time.Now()

	var counterparties []string
	if u.OutgoingPending != 0 {
		if pc, ok := r.pending[u.OutgoingPending]; ok {
			counterparties = append(counterparties, r.otherParty(pc, nicknameHash))
		}
	}
	for id := range u.IncomingPending {
		if pc, ok := r.pending[id]; ok {
			counterparties = append(counterparties, r.otherParty(pc, nicknameHash))
		}
	}
	if u.Active != 0 {
		if ac, ok := r.active[u.Active]; ok {
			counterparties = append(counterparties, ac.Other(nicknameHash))
		}
	}

	u.downGraceTimer = time.AfterFunc(ringlink.ServerDisconnectGracePeriod, func() {
		if onGraceExpired != nil {
			onGraceExpired(nicknameHash)
		}
	})
	r.mu.Unlock()
	return counterparties
}

// Partner returns the nickname hash of an active-call partner, if any,
// used by the media relay to route datagrams.
func (r *Registry) Partner(nicknameHash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nicknameHash]
	if !ok || u.Active == 0 {
		return "", false
	}
	ac, ok := r.active[u.Active]
	if !ok {
		return "", false
	}
	return ac.Other(nicknameHash), true
}

// MediaEndpoints returns the media endpoint of every registered user
// that is not connection-down, for the ping monitor's broadcast.
func (r *Registry) MediaEndpoints() []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var endpoints []*net.UDPAddr
	for _, u := range r.users {
		if !u.ConnectionDown && u.MediaEndpoint != nil {
			endpoints = append(endpoints, u.MediaEndpoint)
		}
	}
	return endpoints
}

// UserByEndpoint finds the user whose registered media endpoint matches
// addr, used by the relay to resolve the sending side of a datagram.
func (r *Registry) UserByEndpoint(addr *net.UDPAddr) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.MediaEndpoint != nil && u.MediaEndpoint.IP.Equal(addr.IP) && u.MediaEndpoint.Port == addr.Port {
			return u, true
		}
	}
	return nil, false
}

// userByConnScan resolves the user currently owning transport, used when
// a connection drops and only the transport pointer is known.
func (r *Registry) userByConnScan(conn *ringlink.ControlTransport) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Conn == conn {
			return u, true
		}
	}
	return nil, false
}

// userByTokenScan resolves a user by bearer token with a linear scan.
// Every token-bearing request handler resolves its sender through it;
// the registry keeps no secondary index by token.
func (r *Registry) userByTokenScan(token string) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Token == token {
			return u, true
		}
	}
	return nil, false
}
