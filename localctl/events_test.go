package localctl

import (
	"testing"
	"time"

	"github.com/ringlink/ringlink"
)

func TestEventQueueDrainBlocksUntilPush(t *testing.T) {
	q := NewEventQueue()
	done := make(chan []Event, 1)
	go func() { done <- q.Drain() }()

	select {
	case <-done:
		t.Fatal("Drain returned before any event was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.OnLogoutCompleted()

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Kind != "logout_completed" {
			t.Fatalf("drained events = %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain never returned after a push")
	}
}

func TestEventQueueDrainClearsPending(t *testing.T) {
	q := NewEventQueue()
	q.OnAuthorizationResult(ringlink.Success)
	q.OnIncomingCall("alice")

	first := q.Drain()
	if len(first) != 2 {
		t.Fatalf("first drain = %d events, want 2", len(first))
	}
	if first[0].Kind != "authorization_result" || first[0].Code != "success" {
		t.Fatalf("first event = %+v", first[0])
	}
	if first[1].Kind != "incoming_call" || first[1].Nickname != "alice" {
		t.Fatalf("second event = %+v", first[1])
	}

	q.OnLogoutCompleted()
	second := q.Drain()
	if len(second) != 1 || second[0].Kind != "logout_completed" {
		t.Fatalf("second drain = %+v, want only logout_completed", second)
	}
}

func TestEventQueueCloseUnblocksDrain(t *testing.T) {
	q := NewEventQueue()
	done := make(chan []Event, 1)
	go func() { done <- q.Drain() }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case events := <-done:
		if len(events) != 0 {
			t.Fatalf("drained events after close with no pushes = %+v, want empty", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock a pending Drain")
	}
}

func TestEventQueueDoesNotQueueMediaFrames(t *testing.T) {
	q := NewEventQueue()
	q.OnIncomingScreen([]byte{1, 2, 3})
	q.OnIncomingCamera([]byte{4, 5, 6})
	q.OnLogoutCompleted()

	events := q.Drain()
	if len(events) != 1 || events[0].Kind != "logout_completed" {
		t.Fatalf("events = %+v, want only the one non-media event", events)
	}
}
