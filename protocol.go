package ringlink

import "github.com/blang/semver"

// PacketType is the stable numeric tag carried in every control/media
// envelope header. Numbering is fixed across client and
// server builds of this repository.
type PacketType uint32

const (
	// Control-plane requests (client -> server).
	PacketAuthorization PacketType = iota + 1
	PacketLogout
	PacketReconnect
	PacketGetUserInfo
	PacketCallingBegin
	PacketCallingEnd
	PacketCallAccept
	PacketCallDecline
	PacketCallEnd
	PacketScreenSharingBegin
	PacketScreenSharingEnd
	PacketCameraSharingBegin
	PacketCameraSharingEnd

	// Control-plane responses / server-originated notifications.
	PacketAuthorizationResult
	PacketReconnectResult
	PacketGetUserInfoResult
	PacketConfirmation
	PacketConnectionDownWithUser
	PacketConnectionRestoredWithUser
	PacketUserLogout

	// Media-plane types. 0 and 1 are reserved by MediaTransport itself
	// (ping/pong) and must never be used here; values start well above
	// the control-plane range so a stray header is easy to spot in logs.
	PacketVoice PacketType = 100 + iota
	PacketScreen
	PacketCamera
)

// ProtocolVersion is the version this build of ringlink speaks. It is
// carried on AUTHORIZATION and RECONNECT so the server can refuse a
// client whose wire format it no longer understands.
var ProtocolVersion = semver.MustParse("1.0.0")

// MinSupportedProtocolVersion is the oldest client version the server
// will still accept. Anything older is rejected at AUTHORIZATION time
// with UnsupportedVersion.
var MinSupportedProtocolVersion = semver.MustParse("1.0.0")

// Body field keys. These are the exact JSON keys used in the
// wire document; struct field names below are Go-idiomatic but the `json`
// tags pin the wire representation.
const (
	FieldUID                     = "uid"
	FieldToken                   = "token"
	FieldSenderHash              = "sender_hash"
	FieldReceiverHash            = "receiver_hash"
	FieldNicknameHash            = "nickname_hash"
	FieldPublicKey               = "public_key"
	FieldEncryptedCallKey        = "encrypted_call_key"
	FieldSenderPublicKey         = "sender_public_key"
	FieldSenderEncryptedNickname = "sender_encrypted_nickname"
	FieldPacketKey               = "packet_key"
	FieldResult                  = "result"
	FieldIsActiveCall            = "is_active_call"
	FieldUDPPort                 = "udp_port"
)

// AuthorizationRequest is sent once, at the start of a session.
type AuthorizationRequest struct {
	UID             string `json:"uid"`
	NicknameHash    string `json:"nickname_hash"`
	PublicKey       string `json:"public_key"`
	UDPPort         int    `json:"udp_port"`
	ProtocolVersion string `json:"protocol_version"`
}

// AuthorizationResult is the server's reply to AuthorizationRequest.
// Reason distinguishes why Result is false ("taken_nickname" or
// "unsupported_version"); absent on success and when the presented
// public key cannot be decoded.
type AuthorizationResult struct {
	UID    string `json:"uid"`
	Result bool   `json:"result"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LogoutRequest has no payload beyond identity: the request uid and the
// sender's bearer token.
type LogoutRequest struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// ReconnectRequest re-presents identity via the stored token after a
// control-channel drop. udp_port is carried here exactly as it is on
// AuthorizationRequest: a reconnect can follow a NAT rebind that
// changed the client's media port.
type ReconnectRequest struct {
	UID             string `json:"uid"`
	NicknameHash    string `json:"nickname_hash"`
	Token           string `json:"token"`
	UDPPort         int    `json:"udp_port"`
	ProtocolVersion string `json:"protocol_version"`
}

// ReconnectResult is the server's reply to ReconnectRequest.
type ReconnectResult struct {
	UID          string `json:"uid"`
	Result       bool   `json:"result"`
	IsActiveCall bool   `json:"is_active_call"`
}

// GetUserInfoRequest looks up a target user's public key by nickname hash.
type GetUserInfoRequest struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	NicknameHash string `json:"nickname_hash"`
}

// GetUserInfoResult is the server's reply to GetUserInfoRequest.
type GetUserInfoResult struct {
	UID       string `json:"uid"`
	Result    bool   `json:"result"`
	PublicKey string `json:"public_key,omitempty"`
}

// CallingBeginRequest offers a call to the receiver. The call key is
// wrapped under the receiver's public key; the caller's nickname travels
// encrypted under a fresh, per-packet symmetric key which is itself
// wrapped under the receiver's public key.
type CallingBeginRequest struct {
	UID                     string `json:"uid"`
	Token                   string `json:"token"`
	SenderHash              string `json:"sender_hash"`
	ReceiverHash            string `json:"receiver_hash"`
	SenderPublicKey         string `json:"sender_public_key"`
	EncryptedCallKey        string `json:"encrypted_call_key"`
	PacketKey               string `json:"packet_key"`
	SenderEncryptedNickname string `json:"sender_encrypted_nickname"`
	UDPPort                 int    `json:"udp_port"`
}

// CallingEndRequest cancels an outgoing offer before it is resolved.
type CallingEndRequest struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	SenderHash   string `json:"sender_hash"`
	ReceiverHash string `json:"receiver_hash"`
}

// CallAcceptRequest accepts a pending incoming offer. The call key is
// re-wrapped under the original caller's public key so the caller can
// recover it even if its local copy was lost.
type CallAcceptRequest struct {
	UID              string `json:"uid"`
	Token            string `json:"token"`
	SenderHash       string `json:"sender_hash"`
	ReceiverHash     string `json:"receiver_hash"`
	SenderPublicKey  string `json:"sender_public_key"`
	EncryptedCallKey string `json:"encrypted_call_key"`
	UDPPort          int    `json:"udp_port"`
}

// CallDeclineRequest rejects a pending incoming offer.
type CallDeclineRequest struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	SenderHash   string `json:"sender_hash"`
	ReceiverHash string `json:"receiver_hash"`
}

// CallEndRequest ends an active call.
type CallEndRequest struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	SenderHash   string `json:"sender_hash"`
	ReceiverHash string `json:"receiver_hash"`
}

// SharingRequest covers SCREEN_SHARING_BEGIN/END and
// CAMERA_SHARING_BEGIN/END, which carry no payload beyond routing.
type SharingRequest struct {
	UID          string `json:"uid"`
	Token        string `json:"token"`
	SenderHash   string `json:"sender_hash"`
	ReceiverHash string `json:"receiver_hash"`
}

// Confirmation is a generic ack sent in reply to a forwarded request
// (e.g. LOGOUT), carrying the same uid so the original sender's task can
// be completed.
type Confirmation struct {
	UID    string `json:"uid"`
	Result bool   `json:"result"`
}

// ConnectionDownWithUser notifies a user's counterparty that the user's
// connection has gone down (pending or active call relationship).
type ConnectionDownWithUser struct {
	NicknameHash string `json:"nickname_hash"`
}

// ConnectionRestoredWithUser notifies a user's active-call partner that
// the user's connection has been restored after a reconnect.
type ConnectionRestoredWithUser struct {
	NicknameHash string `json:"nickname_hash"`
}

// UserLogoutNotification informs a pending/active counterparty that the
// user logged out.
type UserLogoutNotification struct {
	NicknameHash string `json:"nickname_hash"`
}
