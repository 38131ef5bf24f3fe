package reducer

import (
	"time"

	"convo/pkg/protocol"
)

// Effect is a side-effect request produced by the reducer. The reducer
// never performs I/O itself; the chat client executes effects it owns
// (sends, timers, reconnects) and forwards all of them to observers.
type Effect interface {
	isEffect()
}

// SendMessage asks the client to transmit Message. Outgoing is set for
// queued chat turns so a failed send can be re-queued under the same id.
type SendMessage struct {
	Message  protocol.ClientMessage
	Outgoing *Outgoing
}

// ShowModal opens a side-channel prompt that closes itself after Timeout.
type ShowModal struct {
	Prompt  Prompt
	Timeout time.Duration
}

// CloseReason says why a modal closed.
type CloseReason string

// Close reasons.
const (
	CloseAnswered   CloseReason = "answered"
	CloseTimeout    CloseReason = "timeout"
	CloseSuperseded CloseReason = "superseded"
	CloseAborted    CloseReason = "aborted"
)

// CloseModal closes the prompt with PromptID.
type CloseModal struct {
	PromptID string
	Reason   CloseReason
}

// NoticeLevel grades a user-visible notice.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible message. Blocking notices represent a stopped
// session rather than a transient banner.
type Notice struct {
	Level    NoticeLevel
	Text     string
	Blocking bool
}

// ScheduleReconnect asks for exactly one reconnect after Delay, without a
// session id so the server mints a new session.
type ScheduleReconnect struct {
	Delay time.Duration
}

// Invalidate tells external caches that Resource is stale.
type Invalidate struct {
	Resource string
}

// ResourceSessions is the session list kept by the surrounding application.
const ResourceSessions = "sessions"

func (SendMessage) isEffect()       {}
func (ShowModal) isEffect()         {}
func (CloseModal) isEffect()        {}
func (Notice) isEffect()            {}
func (ScheduleReconnect) isEffect() {}
func (Invalidate) isEffect()        {}
