package client

import (
	"sync"
	"time"

	"github.com/ringlink/ringlink"
)

// Phase is the client's top-level authorization phase.
type Phase int

const (
	Unauthorized Phase = iota
	Authorizing
	AuthorizedUp
	AuthorizedDown
	Reconnecting
)

// SharingState is the three-state machine shared by screen and camera
// sharing: Stopped -> Starting -> Active, with explicit transitions.
type SharingState int

const (
	SharingStopped SharingState = iota
	SharingStarting
	SharingActive
)

// OutgoingCall is the client's view of an offer it made, not yet
// resolved.
type OutgoingCall struct {
	TargetNickname string
	CallKey        ringlink.SymmetricKey
	Started        time.Time
	timer          *time.Timer
}

// IncomingCall is the client's view of an offer it received.
type IncomingCall struct {
	CallerNickname string
	CallerPublic   [32]byte
	CallKey        ringlink.SymmetricKey
	Received       time.Time
	timer          *time.Timer
}

// ActiveCall is an established, media-exchanging call.
type ActiveCall struct {
	PeerNickname       string
	PeerPublic         [32]byte
	CallKey            ringlink.SymmetricKey
	PeerConnectionDown bool
	StartedAt          time.Time
	WasOutgoing        bool

	ScreenSharing       SharingState
	CameraSharing       SharingState
	ViewingRemoteScreen bool
}

// Snapshot is a value-typed, lock-free read of the client state,
// consumed by localctl's status endpoint.
type Snapshot struct {
	Phase          Phase
	Nickname       string
	HasOutgoing    bool
	OutgoingTarget string
	IncomingFrom   []string
	HasActive      bool
	ActivePeer     string
	PeerDown       bool
	ScreenSharing  SharingState
	CameraSharing  SharingState
	AudioMuted     bool
}

// State is the authoritative, mutex-guarded client state machine. One
// coarse lock guards the whole aggregate; the critical sections are
// short and contention has never warranted finer sharding.
type State struct {
	mu sync.Mutex

	phase    Phase
	nickname string
	token    string

	keypair ringlink.KeyPair
	hasKeys bool

	outgoing *OutgoingCall
	incoming map[string]*IncomingCall
	active   *ActiveCall

	accepting  bool
	audioMuted bool
}

// NewState returns a fresh, Unauthorized client state.
func NewState() *State {
	return &State{
		phase:    Unauthorized,
		incoming: make(map[string]*IncomingCall),
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:      s.phase,
		Nickname:   s.nickname,
		AudioMuted: s.audioMuted,
	}
	if s.outgoing != nil {
		snap.HasOutgoing = true
		snap.OutgoingTarget = s.outgoing.TargetNickname
	}
	for nick := range s.incoming {
		snap.IncomingFrom = append(snap.IncomingFrom, nick)
	}
	if s.active != nil {
		snap.HasActive = true
		snap.ActivePeer = s.active.PeerNickname
		snap.PeerDown = s.active.PeerConnectionDown
		snap.ScreenSharing = s.active.ScreenSharing
		snap.CameraSharing = s.active.CameraSharing
	}
	return snap
}

func (s *State) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == AuthorizedUp || s.phase == AuthorizedDown || s.phase == Reconnecting
}
