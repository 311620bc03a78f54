package localctl

import (
	"sync"

	"github.com/ringlink/ringlink"
	"github.com/ringlink/ringlink/client"
)

// Event is one line of the GET /events newline-delimited JSON stream:
// the Observer callback name plus whatever scalar arguments it carried.
type Event struct {
	Kind     string `json:"kind"`
	Code     string `json:"code,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// EventQueue buffers Observer callbacks for delivery to long-polling
// /events clients, and implements client.Observer directly so ringlinkd
// can hand it straight to client.New.
type EventQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
}

// NewEventQueue returns an empty queue ready to be used as an Observer.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *EventQueue) push(e Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Drain blocks until at least one event is queued (or the queue is
// closed), then returns and clears everything queued so far. This is
// the long-poll primitive GET /events runs against.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	out := q.pending
	q.pending = nil
	return out
}

// Close unblocks any in-progress Drain call permanently.
func (q *EventQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

var _ client.Observer = (*EventQueue)(nil)

func (q *EventQueue) OnAuthorizationResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "authorization_result", Code: code.String()})
}
func (q *EventQueue) OnLogoutCompleted() { q.push(Event{Kind: "logout_completed"}) }

func (q *EventQueue) OnStartOutgoingCallResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "start_outgoing_call_result", Code: code.String()})
}
func (q *EventQueue) OnStopOutgoingCallResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "stop_outgoing_call_result", Code: code.String()})
}
func (q *EventQueue) OnOutgoingCallAccepted() { q.push(Event{Kind: "outgoing_call_accepted"}) }
func (q *EventQueue) OnOutgoingCallDeclined() { q.push(Event{Kind: "outgoing_call_declined"}) }
func (q *EventQueue) OnOutgoingCallTimeout(code ringlink.ErrorCode) {
	q.push(Event{Kind: "outgoing_call_timeout", Code: code.String()})
}

func (q *EventQueue) OnIncomingCall(nickname string) {
	q.push(Event{Kind: "incoming_call", Nickname: nickname})
}
func (q *EventQueue) OnIncomingCallExpired(code ringlink.ErrorCode, nickname string) {
	q.push(Event{Kind: "incoming_call_expired", Code: code.String(), Nickname: nickname})
}

func (q *EventQueue) OnAcceptCallResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "accept_call_result", Code: code.String()})
}
func (q *EventQueue) OnDeclineCallResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "decline_call_result", Code: code.String()})
}
func (q *EventQueue) OnEndCallResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "end_call_result", Code: code.String()})
}
func (q *EventQueue) OnCallEndedByRemote(code ringlink.ErrorCode) {
	q.push(Event{Kind: "call_ended_by_remote", Code: code.String()})
}

func (q *EventQueue) OnStartScreenSharingResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "start_screen_sharing_result", Code: code.String()})
}
func (q *EventQueue) OnStopScreenSharingResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "stop_screen_sharing_result", Code: code.String()})
}
func (q *EventQueue) OnStartCameraSharingResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "start_camera_sharing_result", Code: code.String()})
}
func (q *EventQueue) OnStopCameraSharingResult(code ringlink.ErrorCode) {
	q.push(Event{Kind: "stop_camera_sharing_result", Code: code.String()})
}
func (q *EventQueue) OnIncomingScreenSharingStarted() {
	q.push(Event{Kind: "incoming_screen_sharing_started"})
}
func (q *EventQueue) OnIncomingScreenSharingStopped() {
	q.push(Event{Kind: "incoming_screen_sharing_stopped"})
}
func (q *EventQueue) OnIncomingCameraSharingStarted() {
	q.push(Event{Kind: "incoming_camera_sharing_started"})
}
func (q *EventQueue) OnIncomingCameraSharingStopped() {
	q.push(Event{Kind: "incoming_camera_sharing_stopped"})
}

// OnIncomingScreen/OnIncomingCamera frames are not queued as events:
// they are high-rate media, not state transitions, and do not belong in
// a JSON control-event stream.
func (q *EventQueue) OnIncomingScreen([]byte) {}
func (q *EventQueue) OnIncomingCamera([]byte) {}

func (q *EventQueue) OnConnectionDown()     { q.push(Event{Kind: "connection_down"}) }
func (q *EventQueue) OnConnectionRestored() { q.push(Event{Kind: "connection_restored"}) }
func (q *EventQueue) OnConnectionRestoredAuthorizationNeeded() {
	q.push(Event{Kind: "connection_restored_authorization_needed"})
}
func (q *EventQueue) OnCallParticipantConnectionDown() {
	q.push(Event{Kind: "call_participant_connection_down"})
}
func (q *EventQueue) OnCallParticipantConnectionRestored() {
	q.push(Event{Kind: "call_participant_connection_restored"})
}
