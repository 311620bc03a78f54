// Package client implements the client-side signalling and media state
// machine: authorization, pending and active calls, reconnection, and
// sharing sub-states.
package client

import "github.com/ringlink/ringlink"

// Observer is the outbound event surface the application (or a CLI/UI
// binding, see localctl) implements to learn about asynchronous
// outcomes. Embed BaseObserver to get a default empty body for every
// method and override only the callbacks you need.
type Observer interface {
	OnAuthorizationResult(code ringlink.ErrorCode)
	OnLogoutCompleted()

	OnStartOutgoingCallResult(code ringlink.ErrorCode)
	OnStopOutgoingCallResult(code ringlink.ErrorCode)
	OnOutgoingCallAccepted()
	OnOutgoingCallDeclined()
	OnOutgoingCallTimeout(code ringlink.ErrorCode)

	OnIncomingCall(nickname string)
	OnIncomingCallExpired(code ringlink.ErrorCode, nickname string)

	OnAcceptCallResult(code ringlink.ErrorCode)
	OnDeclineCallResult(code ringlink.ErrorCode)
	OnEndCallResult(code ringlink.ErrorCode)
	OnCallEndedByRemote(code ringlink.ErrorCode)

	OnStartScreenSharingResult(code ringlink.ErrorCode)
	OnStopScreenSharingResult(code ringlink.ErrorCode)
	OnStartCameraSharingResult(code ringlink.ErrorCode)
	OnStopCameraSharingResult(code ringlink.ErrorCode)
	OnIncomingScreenSharingStarted()
	OnIncomingScreenSharingStopped()
	OnIncomingCameraSharingStarted()
	OnIncomingCameraSharingStopped()
	OnIncomingScreen(frame []byte)
	OnIncomingCamera(frame []byte)

	OnConnectionDown()
	OnConnectionRestored()
	OnConnectionRestoredAuthorizationNeeded()
	OnCallParticipantConnectionDown()
	OnCallParticipantConnectionRestored()
}

// BaseObserver is a no-op Observer. Embed it and override only the
// callbacks you care about.
type BaseObserver struct{}

var _ Observer = BaseObserver{}

func (BaseObserver) OnAuthorizationResult(ringlink.ErrorCode) {}
func (BaseObserver) OnLogoutCompleted()                       {}

func (BaseObserver) OnStartOutgoingCallResult(ringlink.ErrorCode) {}
func (BaseObserver) OnStopOutgoingCallResult(ringlink.ErrorCode)  {}
func (BaseObserver) OnOutgoingCallAccepted()                      {}
func (BaseObserver) OnOutgoingCallDeclined()                      {}
func (BaseObserver) OnOutgoingCallTimeout(ringlink.ErrorCode)     {}

func (BaseObserver) OnIncomingCall(string)                            {}
func (BaseObserver) OnIncomingCallExpired(ringlink.ErrorCode, string) {}

func (BaseObserver) OnAcceptCallResult(ringlink.ErrorCode)  {}
func (BaseObserver) OnDeclineCallResult(ringlink.ErrorCode) {}
func (BaseObserver) OnEndCallResult(ringlink.ErrorCode)     {}
func (BaseObserver) OnCallEndedByRemote(ringlink.ErrorCode) {}

func (BaseObserver) OnStartScreenSharingResult(ringlink.ErrorCode) {}
func (BaseObserver) OnStopScreenSharingResult(ringlink.ErrorCode)  {}
func (BaseObserver) OnStartCameraSharingResult(ringlink.ErrorCode) {}
func (BaseObserver) OnStopCameraSharingResult(ringlink.ErrorCode)  {}
func (BaseObserver) OnIncomingScreenSharingStarted()               {}
func (BaseObserver) OnIncomingScreenSharingStopped()               {}
func (BaseObserver) OnIncomingCameraSharingStarted()               {}
func (BaseObserver) OnIncomingCameraSharingStopped()               {}
func (BaseObserver) OnIncomingScreen([]byte)                       {}
func (BaseObserver) OnIncomingCamera([]byte)                       {}

func (BaseObserver) OnConnectionDown()                        {}
func (BaseObserver) OnConnectionRestored()                    {}
func (BaseObserver) OnConnectionRestoredAuthorizationNeeded() {}
func (BaseObserver) OnCallParticipantConnectionDown()         {}
func (BaseObserver) OnCallParticipantConnectionRestored()     {}
