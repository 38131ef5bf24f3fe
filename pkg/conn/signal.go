package conn

import (
	"time"

	"convo/pkg/protocol"
)

// State is the physical connection state as the manager sees it. The
// session's user-facing state additionally waits for the ready event.
type State int

// Connection states.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target identifies what to connect to.
type Target struct {
	AgentID   string
	SessionID string
}

// SignalKind classifies a Signal.
type SignalKind int

// Signal kinds.
const (
	// SignalOpened: the socket opened. The session is not usable until
	// the server's ready event.
	SignalOpened SignalKind = iota
	// SignalEvent: a server event arrived.
	SignalEvent
	// SignalClosed: the socket failed or closed unexpectedly and a retry
	// is scheduled after RetryIn.
	SignalClosed
	// SignalFailed: retries are exhausted or authentication failed. Err
	// is a *RetriesExhaustedError or *AuthError. Nothing happens until
	// ForceReconnect.
	SignalFailed
)

func (k SignalKind) String() string {
	switch k {
	case SignalOpened:
		return "opened"
	case SignalEvent:
		return "event"
	case SignalClosed:
		return "closed"
	case SignalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Signal is one callback from the manager, tagged with the sequence number
// of the connection attempt that produced it. Consumers must drop signals
// for which Manager.IsCurrent(Seq) is false.
type Signal struct {
	Seq     uint64
	Kind    SignalKind
	Event   protocol.Event
	Err     error
	Attempt int
	RetryIn time.Duration
}
