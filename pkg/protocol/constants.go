package protocol

// Directory and query-parameter constants shared by the client packages.
const (
	// HomeDir is the user-level state directory (e.g., ~/.convo).
	HomeDir = ".convo"

	// QueryToken carries the bearer token on the socket URL.
	QueryToken = "token"

	// QueryAgent selects the backend agent persona.
	QueryAgent = "agentId"

	// QuerySession resumes an existing session when present.
	QuerySession = "sessionId"
)

// EventType discriminates server-to-client events.
type EventType string

// Server event types.
const (
	EventReady            EventType = "ready"
	EventSessionID        EventType = "session_id"
	EventTextDelta        EventType = "text_delta"
	EventAssistantText    EventType = "assistant_text"
	EventToolUse          EventType = "tool_use"
	EventToolResult       EventType = "tool_result"
	EventDone             EventType = "done"
	EventCancelled        EventType = "cancelled"
	EventCompactStarted   EventType = "compact_started"
	EventCompactCompleted EventType = "compact_completed"
	EventAskUserQuestion  EventType = "ask_user_question"
	EventPlanApproval     EventType = "plan_approval"
	EventError            EventType = "error"
)

// MessageType discriminates client-to-server messages. Chat turns carry no
// type field.
type MessageType string

// Client message types.
const (
	MsgUserAnswer           MessageType = "user_answer"
	MsgPlanApprovalResponse MessageType = "plan_approval_response"
	MsgCancelRequest        MessageType = "cancel_request"
	MsgCompactRequest       MessageType = "compact_request"
)
