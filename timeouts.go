package ringlink

import "time"

// Timing and sizing constants shared by the client and the server.
// Both halves are already deployed against these values; changing one
// side alone breaks the protocol's liveness assumptions.
const (
	// PendingCallTimeout is how long an offer (outgoing or incoming, on
	// either the client or the server) waits for resolution before it is
	// torn down as a timeout.
	PendingCallTimeout = 32 * time.Second

	// TaskRetryInterval is the default period between attempts for a
	// signalling request.
	TaskRetryInterval = 1500 * time.Millisecond

	// TaskMaxAttemptsShort/Long are the two retry budgets signalling
	// operations use.
	TaskMaxAttemptsShort = 3
	TaskMaxAttemptsLong  = 5

	// ReconnectRetryInterval is how often ReconnectController retries the
	// TCP connect-and-handshake sequence while down.
	ReconnectRetryInterval = 2 * time.Second

	// ServerDisconnectGracePeriod is how long the server keeps a
	// connection-down user registered before running the full logout
	// procedure.
	ServerDisconnectGracePeriod = 2 * time.Minute

	// MediaPingInterval is how often the server pings every registered
	// media endpoint.
	MediaPingInterval = 2 * time.Second

	// MediaPingCheckInterval is how often the server sweeps for
	// endpoints that have not answered a ping since the previous sweep;
	// a silent endpoint is marked connection-down.
	MediaPingCheckInterval = 6 * time.Second

	// MediaFragmentMaxPayload is the largest payload carried by a single
	// UDP chunk before MediaTransport splits it further.
	MediaFragmentMaxPayload = 1300

	// MediaPendingPacketCap is the maximum number of in-flight reassembly
	// entries retained per source endpoint.
	MediaPendingPacketCap = 64

	// MediaPendingPacketIdle is how long an incomplete reassembly entry
	// may sit without a new chunk before it is dropped.
	MediaPendingPacketIdle = 5 * time.Second

	// ControlKeepaliveIdle/Interval/Count are aggressive TCP keepalive
	// parameters so silent failures surface within ~25s.
	ControlKeepaliveIdle     = 10 * time.Second
	ControlKeepaliveInterval = 5 * time.Second
	ControlKeepaliveCount    = 3

	// ConnectSyncTimeout bounds the synchronous connect-and-handshake
	// helper some embedders use instead of the async callback path.
	ConnectSyncTimeout = 10 * time.Second
)
