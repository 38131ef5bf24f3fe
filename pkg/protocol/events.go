// Package protocol defines the wire format spoken between the chat client and
// the agent backend: server events (a closed set of Event types decoded from
// JSON frames with a "type" discriminator) and client messages.
package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is a decoded server-to-client frame. The set of implementations is
// closed: only the types in this file satisfy it.
type Event interface {
	EventType() EventType
	isEvent()
}

// Ready signals the socket is authenticated and usable. SessionID is set
// when the server assigned or re-assigned a session.
type Ready struct {
	SessionID string `json:"sessionId,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	TurnCount int    `json:"turnCount,omitempty"`
}

// SessionAssigned carries a session id outside the ready handshake.
type SessionAssigned struct {
	SessionID string `json:"sessionId"`
}

// TextDelta is an increment of assistant text.
type TextDelta struct {
	Text               string `json:"text"`
	ParentInvocationID string `json:"parentInvocationId,omitempty"`
}

// AssistantText is the canonical full text of the current assistant message.
type AssistantText struct {
	Text string `json:"text"`
}

// ToolUse is a tool invocation by the agent.
type ToolUse struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Input              json.RawMessage `json:"input,omitempty"`
	ParentInvocationID string          `json:"parentInvocationId,omitempty"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	InvocationID       string  `json:"invocationId"`
	Content            Content `json:"content"`
	IsError            *bool   `json:"isError,omitempty"`
	ParentInvocationID string  `json:"parentInvocationId,omitempty"`
}

// Failed reports whether the result is flagged as an error.
func (r ToolResult) Failed() bool { return r.IsError != nil && *r.IsError }

// Usage is token accounting for one turn.
type Usage struct {
	InputTokens              int `json:"inputTokens,omitempty"`
	OutputTokens             int `json:"outputTokens,omitempty"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`
}

// Done ends an agent turn.
type Done struct {
	TurnCount    int      `json:"turnCount"`
	TotalCostUSD *float64 `json:"totalCostUsd,omitempty"`
	DurationMs   *int64   `json:"durationMs,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
}

// Cancelled confirms a cancel_request.
type Cancelled struct{}

// CompactStarted signals the server began compacting the session history.
type CompactStarted struct{}

// CompactCompleted ends compaction; the compacted history lives under
// SessionID.
type CompactCompleted struct {
	SessionID string `json:"sessionId"`
}

// Seconds is a prompt timeout in whole seconds. Fractional values are
// rounded and numeric strings are accepted. Anything else decodes as zero,
// the same as an absent timeout.
type Seconds int

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	*s = 0
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		var str string
		if json.Unmarshal(data, &str) != nil {
			return nil
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return nil
		}
	}
	switch {
	case math.IsNaN(f) || f <= 0:
	case f >= math.MaxInt32:
		*s = math.MaxInt32
	default:
		*s = Seconds(math.Round(f))
	}
	return nil
}

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) * time.Second }

// AskUserQuestion asks the user to pick answers. Questions arrives either as
// a JSON array or as a string holding an encoded array; it is normalised by
// the reducer.
type AskUserQuestion struct {
	QuestionID     string          `json:"questionId"`
	Questions      json.RawMessage `json:"questions"`
	TimeoutSeconds Seconds         `json:"timeoutSeconds,omitempty"`
}

// PlanApproval asks the user to approve a plan. Steps has the same
// array-or-encoded-string tolerance as AskUserQuestion.Questions.
type PlanApproval struct {
	PlanID         string          `json:"planId"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Steps          json.RawMessage `json:"steps"`
	TimeoutSeconds Seconds         `json:"timeoutSeconds,omitempty"`
}

// Error is a semantic error reported by the server.
type Error struct {
	Message string `json:"error"`
}

func (Ready) EventType() EventType            { return EventReady }
func (SessionAssigned) EventType() EventType  { return EventSessionID }
func (TextDelta) EventType() EventType        { return EventTextDelta }
func (AssistantText) EventType() EventType    { return EventAssistantText }
func (ToolUse) EventType() EventType          { return EventToolUse }
func (ToolResult) EventType() EventType       { return EventToolResult }
func (Done) EventType() EventType             { return EventDone }
func (Cancelled) EventType() EventType        { return EventCancelled }
func (CompactStarted) EventType() EventType   { return EventCompactStarted }
func (CompactCompleted) EventType() EventType { return EventCompactCompleted }
func (AskUserQuestion) EventType() EventType  { return EventAskUserQuestion }
func (PlanApproval) EventType() EventType     { return EventPlanApproval }
func (Error) EventType() EventType            { return EventError }

func (Ready) isEvent()            {}
func (SessionAssigned) isEvent()  {}
func (TextDelta) isEvent()        {}
func (AssistantText) isEvent()    {}
func (ToolUse) isEvent()          {}
func (ToolResult) isEvent()       {}
func (Done) isEvent()             {}
func (Cancelled) isEvent()        {}
func (CompactStarted) isEvent()   {}
func (CompactCompleted) isEvent() {}
func (AskUserQuestion) isEvent()  {}
func (PlanApproval) isEvent()     {}
func (Error) isEvent()            {}

// DecodeEvent parses one JSON frame into its Event type. It returns
// ErrMissingType, *UnknownEventError or *DecodeError for frames it cannot
// use.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch head.Type {
	case "":
		return nil, ErrMissingType
	case EventReady:
		return decodeAs[Ready](head.Type, data)
	case EventSessionID:
		return decodeAs[SessionAssigned](head.Type, data)
	case EventTextDelta:
		return decodeAs[TextDelta](head.Type, data)
	case EventAssistantText:
		return decodeAs[AssistantText](head.Type, data)
	case EventToolUse:
		return decodeAs[ToolUse](head.Type, data)
	case EventToolResult:
		return decodeAs[ToolResult](head.Type, data)
	case EventDone:
		return decodeAs[Done](head.Type, data)
	case EventCancelled:
		return Cancelled{}, nil
	case EventCompactStarted:
		return CompactStarted{}, nil
	case EventCompactCompleted:
		return decodeAs[CompactCompleted](head.Type, data)
	case EventAskUserQuestion:
		return decodeAs[AskUserQuestion](head.Type, data)
	case EventPlanApproval:
		return decodeAs[PlanApproval](head.Type, data)
	case EventError:
		return decodeAs[Error](head.Type, data)
	default:
		return nil, &UnknownEventError{Type: head.Type}
	}
}

func decodeAs[T Event](typ EventType, data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	return ev, nil
}

// EncodeEvent renders an event with its type discriminator. The server does
// this in production; the client uses it for recordings and test fixtures.
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	typ, _ := json.Marshal(ev.EventType())
	fields["type"] = typ
	return json.Marshal(fields)
}
