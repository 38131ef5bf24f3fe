// Package transcript holds the ordered list of conversation entries built by
// the reducer. Entries have stable ids; a tool invocation's id is the
// server's invocation id so its result can be matched by id, not position.
package transcript

import (
	"encoding/json"
	"strings"

	"convo/pkg/protocol"
)

// Role is the kind of a transcript entry.
type Role string

// Entry roles.
const (
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleToolInvocation Role = "tool_invocation"
	RoleToolResult     Role = "tool_result"
)

// Entry is one unit of the visible conversation.
type Entry struct {
	ID      string           `json:"id"`
	Role    Role             `json:"role"`
	Content protocol.Content `json:"content"`

	// Streaming is true while an assistant entry still receives deltas.
	Streaming bool `json:"streaming,omitempty"`

	// ParentInvocationID links entries produced inside a delegated
	// sub-agent to the delegating invocation.
	ParentInvocationID string `json:"parentInvocationId,omitempty"`

	// ToolName and Input are set on tool invocations.
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`

	// InvocationID and IsError are set on tool results.
	InvocationID string `json:"invocationId,omitempty"`
	IsError      *bool  `json:"isError,omitempty"`
}

// Failed reports whether a tool result is flagged as an error.
func (e Entry) Failed() bool { return e.IsError != nil && *e.IsError }

// Text returns the entry content flattened to text.
func (e Entry) Text() string { return e.Content.PlainText() }

// Transcript is the ordered entry list. It is not safe for concurrent use;
// the reducer owns it and hands out copies.
type Transcript struct {
	entries   []Entry
	index     map[string]int
	streaming int
}

// New returns an empty Transcript.
func New() *Transcript {
	return &Transcript{index: make(map[string]int), streaming: -1}
}

// Len returns the number of entries.
func (t *Transcript) Len() int { return len(t.entries) }

// Has reports whether an entry with id exists.
func (t *Transcript) Has(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Get returns the entry with id.
func (t *Transcript) Get(id string) (Entry, bool) {
	i, ok := t.index[id]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of the entries in order.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Last returns the final entry.
func (t *Transcript) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Append adds e at the end. Any open streaming entry is finalized first,
// since a newer entry supersedes it. If e.Streaming is set, e becomes the
// open streaming entry. Append returns false and changes nothing when an
// entry with the same id exists.
func (t *Transcript) Append(e Entry) bool {
	if e.ID == "" || t.Has(e.ID) {
		return false
	}
	t.Finalize()
	t.index[e.ID] = len(t.entries)
	t.entries = append(t.entries, e)
	if e.Streaming {
		t.streaming = len(t.entries) - 1
	}
	return true
}

// Streaming returns the open streaming entry.
func (t *Transcript) Streaming() (Entry, bool) {
	if t.streaming < 0 {
		return Entry{}, false
	}
	return t.entries[t.streaming], true
}

// AppendText appends text to the open streaming entry. It returns false if
// no entry is streaming.
func (t *Transcript) AppendText(text string) bool {
	if t.streaming < 0 {
		return false
	}
	e := &t.entries[t.streaming]
	e.Content.Text += text
	return true
}

// ReplaceStreaming replaces the content of the open streaming entry.
func (t *Transcript) ReplaceStreaming(c protocol.Content) bool {
	if t.streaming < 0 {
		return false
	}
	t.entries[t.streaming].Content = c
	return true
}

// ReplaceLastAssistant swaps in canonical text for the current turn's
// assistant message: the streaming entry if there is one, otherwise the
// last assistant entry after the most recent user entry. This is the only
// write allowed on a finalized entry.
func (t *Transcript) ReplaceLastAssistant(c protocol.Content) bool {
	if t.streaming >= 0 && t.entries[t.streaming].Role == RoleAssistant {
		t.entries[t.streaming].Content = c
		return true
	}
	for i := len(t.entries) - 1; i >= 0; i-- {
		switch t.entries[i].Role {
		case RoleUser:
			return false
		case RoleAssistant:
			t.entries[i].Content = c
			return true
		}
	}
	return false
}

// Finalize closes the open streaming entry, making it immutable. It
// reports whether an entry was open.
func (t *Transcript) Finalize() bool {
	if t.streaming < 0 {
		return false
	}
	t.entries[t.streaming].Streaming = false
	t.streaming = -1
	return true
}

// DropEmptyAssistant removes the final entry if it is an assistant entry
// with no visible text, finalizing it first. It reports whether an entry
// was removed.
func (t *Transcript) DropEmptyAssistant() bool {
	last, ok := t.Last()
	if !ok || last.Role != RoleAssistant || strings.TrimSpace(last.Text()) != "" {
		return false
	}
	if t.streaming == len(t.entries)-1 {
		t.streaming = -1
	}
	delete(t.index, last.ID)
	t.entries = t.entries[:len(t.entries)-1]
	return true
}
