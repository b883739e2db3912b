package dropify

// ChannelState represents the lifecycle of a Channel.
type ChannelState int

const (
	// ChannelIdle means Open has not been called yet.
	ChannelIdle ChannelState = iota

	// ChannelConnecting means a dial is in flight.
	ChannelConnecting

	// ChannelOpen means the socket is up and delivering events.
	ChannelOpen

	// ChannelPendingReconnect means the socket dropped and a redial is scheduled.
	ChannelPendingReconnect

	// ChannelClosed means Close was called. Terminal.
	ChannelClosed
)

// String returns the string representation of a ChannelState.
func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelPendingReconnect:
		return "pending_reconnect"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a channel state change.
type StateEvent struct {
	OldState ChannelState
	NewState ChannelState
	Error    error // Optional error that caused the state change
}

// SessionStatus is the lifecycle of a Session view.
type SessionStatus int

const (
	SessionIdle SessionStatus = iota
	SessionLoading
	SessionLive
	SessionOffline
	SessionTornDown
)

func (s SessionStatus) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionLoading:
		return "loading"
	case SessionLive:
		return "live"
	case SessionOffline:
		return "offline"
	case SessionTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// StatusEvent represents a session status change.
type StatusEvent struct {
	Old SessionStatus
	New SessionStatus
}

// SnapshotSource tells where the current drop list was loaded from.
type SnapshotSource int

const (
	SourceNone SnapshotSource = iota
	SourceServer
	SourceCache
	SourceEmpty // fetch failed and nothing was cached
)

func (s SnapshotSource) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceCache:
		return "cache"
	case SourceEmpty:
		return "empty"
	default:
		return "none"
	}
}
