// Package reducer turns server events into session state and a transcript.
//
// A Reducer is a deterministic state machine: Apply consumes one event,
// mutates the session state and transcript in memory, and returns the side
// effects the caller should perform. It never touches the network or the
// clock. It is not safe for concurrent use; the chat client drives it from a
// single goroutine.
package reducer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"convo/pkg/protocol"
	"convo/pkg/transcript"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultPromptTimeout        = 5 * time.Minute
	DefaultSessionRecoveryDelay = time.Second
)

// ErrNoPendingPrompt is returned when answering a prompt that is not open.
var ErrNoPendingPrompt = errors.New("no pending prompt with that id")

// ConnectionState is the session's connection state as users see it. It
// becomes Connected only on the server's ready event, not on socket open.
type ConnectionState string

// Connection states.
const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	ConnError    ConnectionState = "error"
)

// Phase is where the current turn is.
type Phase string

// Turn phases.
const (
	PhaseIdle        Phase = "idle"
	PhaseStreaming   Phase = "streaming"
	PhaseToolPending Phase = "tool_pending"
	PhaseFinalized   Phase = "finalized"
)

// Outgoing is a chat turn the user submitted. ID becomes the transcript id
// of the user entry, so re-sending after a reconnect never duplicates it.
type Outgoing struct {
	ID      string           `json:"id"`
	Content protocol.Content `json:"content"`
}

// State is a snapshot of the session.
type State struct {
	SessionID  string          `json:"sessionId,omitempty"`
	AgentID    string          `json:"agentId"`
	Connection ConnectionState `json:"connection"`
	Phase      Phase           `json:"phase"`
	TurnActive bool            `json:"turnActive"`
	Resumed    bool            `json:"resumed,omitempty"`
	Compacting bool            `json:"compacting,omitempty"`

	TurnCount    int             `json:"turnCount"`
	TotalCostUSD *float64        `json:"totalCostUsd,omitempty"`
	DurationMs   *int64          `json:"durationMs,omitempty"`
	Usage        *protocol.Usage `json:"usage,omitempty"`

	// Queued holds turns submitted before the server was ready.
	Queued []Outgoing `json:"queued,omitempty"`
	Prompt *Prompt    `json:"prompt,omitempty"`

	// Err is the terminal error text when Connection is ConnError.
	Err string `json:"error,omitempty"`
}

// Config configures a Reducer.
type Config struct {
	AgentID   string
	SessionID string

	// NewID mints transcript ids. Defaults to uuid.NewString.
	NewID  func() string
	Logger *slog.Logger

	// PromptTimeout applies when a prompt carries no timeoutSeconds.
	PromptTimeout time.Duration
	// SessionRecoveryDelay is the wait before reconnecting after the
	// server reports the session is gone.
	SessionRecoveryDelay time.Duration
}

// Reducer owns the session state and transcript.
type Reducer struct {
	cfg    Config
	logger *slog.Logger
	state  State
	tr     *transcript.Transcript

	// open holds invocation ids still waiting for a result; results holds
	// those that already have one.
	open    map[string]struct{}
	results map[string]struct{}

	// sessionAdopted is set once the server assigned a session id on the
	// current connection.
	sessionAdopted  bool
	recoveryPending bool
}

// New returns a Reducer for cfg.AgentID, optionally resuming cfg.SessionID.
func New(cfg Config) *Reducer {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = DefaultPromptTimeout
	}
	if cfg.SessionRecoveryDelay <= 0 {
		cfg.SessionRecoveryDelay = DefaultSessionRecoveryDelay
	}
	r := &Reducer{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "reducer"),
	}
	r.Reset(cfg.AgentID, cfg.SessionID)
	return r
}

// Reset discards the transcript and state and targets a new conversation.
func (r *Reducer) Reset(agentID, sessionID string) {
	r.state = State{
		AgentID:    agentID,
		SessionID:  sessionID,
		Connection: Disconnected,
		Phase:      PhaseIdle,
	}
	r.tr = transcript.New()
	r.open = make(map[string]struct{})
	r.results = make(map[string]struct{})
	r.sessionAdopted = false
	r.recoveryPending = false
}

// State returns a snapshot of the session state.
func (r *Reducer) State() State {
	s := r.state
	s.Queued = append([]Outgoing(nil), r.state.Queued...)
	if r.state.Prompt != nil {
		p := *r.state.Prompt
		s.Prompt = &p
	}
	return s
}

// Transcript returns a copy of the transcript entries.
func (r *Reducer) Transcript() []transcript.Entry {
	return r.tr.Entries()
}

// Connecting records that a connection attempt is underway.
func (r *Reducer) Connecting() {
	if r.state.Connection != Connected {
		r.state.Connection = Connecting
	}
	r.state.Err = ""
}

// Opened records a new socket. The session is not usable until ready.
func (r *Reducer) Opened() {
	r.state.Connection = Connecting
	r.state.Err = ""
	r.sessionAdopted = false
	r.recoveryPending = false
}

// Dropped records an unexpected close that the connection manager will
// retry after retryIn.
func (r *Reducer) Dropped(cause error, retryIn time.Duration) []Effect {
	wasConnected := r.state.Connection == Connected
	r.state.Connection = Connecting
	r.interruptTurn()
	if !wasConnected {
		return nil
	}
	text := "Connection lost, reconnecting"
	if retryIn > 0 {
		text = fmt.Sprintf("Connection lost, reconnecting in %s", retryIn.Round(time.Second))
	}
	r.logger.Info("connection dropped", "error", cause, "retry_in", retryIn)
	return []Effect{Notice{Level: NoticeWarning, Text: text}}
}

// Failed records that the connection manager gave up.
func (r *Reducer) Failed(err error) []Effect {
	r.state.Connection = ConnError
	r.state.Err = err.Error()
	r.interruptTurn()
	effects := r.abortPrompt()
	return append(effects, Notice{Level: NoticeError, Text: r.state.Err, Blocking: true})
}

// Disconnected records an explicit disconnect.
func (r *Reducer) Disconnected() {
	r.state.Connection = Disconnected
	r.interruptTurn()
}

// CanSend reports whether a chat turn would be transmitted immediately.
func (r *Reducer) CanSend() bool {
	return r.state.Connection == Connected
}

// Submit starts a user turn. When the session is ready the user entry is
// appended and a SendMessage effect returned; otherwise the turn is queued
// and sent on the next ready event.
func (r *Reducer) Submit(content protocol.Content) []Effect {
	out := Outgoing{ID: r.cfg.NewID(), Content: content}
	if !r.CanSend() {
		r.Requeue(out)
		return nil
	}
	return r.send(out)
}

// Requeue puts a turn back on the queue, for example when the socket
// closed between the reducer deciding to send and the write.
func (r *Reducer) Requeue(out Outgoing) {
	for _, q := range r.state.Queued {
		if q.ID == out.ID {
			return
		}
	}
	r.state.Queued = append(r.state.Queued, out)
}

func (r *Reducer) send(out Outgoing) []Effect {
	r.tr.Append(transcript.Entry{ID: out.ID, Role: transcript.RoleUser, Content: out.Content})
	r.state.TurnActive = true
	r.state.Phase = PhaseIdle
	o := out
	return []Effect{SendMessage{Message: protocol.ChatMessage{Content: out.Content}, Outgoing: &o}}
}

// Cancel asks the server to stop the current turn. Local state is left
// alone until the server confirms with a cancelled event.
func (r *Reducer) Cancel() []Effect {
	if !r.CanSend() || !r.state.TurnActive {
		return nil
	}
	return []Effect{SendMessage{Message: protocol.CancelRequest{}}}
}

// Compact asks the server to compact the conversation.
func (r *Reducer) Compact() []Effect {
	if !r.CanSend() || r.state.Compacting {
		return nil
	}
	return []Effect{SendMessage{Message: protocol.CompactRequest{}}}
}

// Apply consumes one server event.
func (r *Reducer) Apply(ev protocol.Event) []Effect {
	switch ev := ev.(type) {
	case protocol.Ready:
		return r.ready(ev)
	case protocol.SessionAssigned:
		return r.adoptSession(ev.SessionID)
	case protocol.TextDelta:
		r.textDelta(ev)
	case protocol.AssistantText:
		r.assistantText(ev)
	case protocol.ToolUse:
		r.toolUse(ev)
	case protocol.ToolResult:
		r.toolResult(ev)
	case protocol.Done:
		return r.done(ev)
	case protocol.Cancelled:
		r.tr.Finalize()
		r.endTurn()
		return []Effect{Notice{Level: NoticeInfo, Text: "Cancelled"}}
	case protocol.CompactStarted:
		r.state.Compacting = true
		return []Effect{Notice{Level: NoticeInfo, Text: "Compacting conversation"}}
	case protocol.CompactCompleted:
		return r.compactCompleted(ev)
	case protocol.AskUserQuestion:
		return r.askQuestion(ev)
	case protocol.PlanApproval:
		return r.planApproval(ev)
	case protocol.Error:
		return r.serverError(ev)
	default:
		r.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
	}
	return nil
}

func (r *Reducer) ready(ev protocol.Ready) []Effect {
	r.state.Connection = Connected
	r.state.Err = ""
	r.state.Resumed = ev.Resumed
	if ev.TurnCount > 0 {
		r.state.TurnCount = ev.TurnCount
	}
	effects := r.adoptSession(ev.SessionID)

	queued := r.state.Queued
	r.state.Queued = nil
	for _, out := range queued {
		effects = append(effects, r.send(out)...)
	}
	return effects
}

// adoptSession applies a server-assigned session id. The server assigns at
// most one per connection; later assignments on the same connection are
// ignored.
func (r *Reducer) adoptSession(id string) []Effect {
	if id == "" {
		return nil
	}
	if r.sessionAdopted {
		if id != r.state.SessionID {
			r.logger.Warn("ignoring second session assignment", "session", id, "current", r.state.SessionID)
		}
		return nil
	}
	r.sessionAdopted = true
	if id == r.state.SessionID {
		return nil
	}
	r.state.SessionID = id
	return []Effect{Invalidate{Resource: ResourceSessions}}
}

func (r *Reducer) textDelta(ev protocol.TextDelta) {
	text := StripToolReferences(ev.Text)
	if cur, ok := r.tr.Streaming(); ok && cur.ParentInvocationID == ev.ParentInvocationID {
		r.tr.AppendText(text)
		return
	}
	if text == "" {
		return
	}
	r.tr.Append(transcript.Entry{
		ID:                 r.cfg.NewID(),
		Role:               transcript.RoleAssistant,
		Content:            protocol.TextContent(text),
		Streaming:          true,
		ParentInvocationID: ev.ParentInvocationID,
	})
	r.state.Phase = PhaseStreaming
	r.state.TurnActive = true
}

func (r *Reducer) assistantText(ev protocol.AssistantText) {
	c := protocol.TextContent(StripToolReferences(ev.Text))
	if r.tr.ReplaceLastAssistant(c) {
		return
	}
	if c.IsEmpty() {
		return
	}
	r.tr.Append(transcript.Entry{ID: r.cfg.NewID(), Role: transcript.RoleAssistant, Content: c})
}

func (r *Reducer) toolUse(ev protocol.ToolUse) {
	id := ev.ID
	if id == "" {
		id = r.cfg.NewID()
	} else if r.tr.Has(id) {
		r.logger.Debug("duplicate tool invocation ignored", "invocation", id)
		return
	}
	r.tr.Append(transcript.Entry{
		ID:                 id,
		Role:               transcript.RoleToolInvocation,
		ToolName:           ev.Name,
		Input:              ev.Input,
		ParentInvocationID: ev.ParentInvocationID,
	})
	r.open[id] = struct{}{}
	r.state.Phase = PhaseToolPending
	r.state.TurnActive = true
}

func (r *Reducer) toolResult(ev protocol.ToolResult) {
	if _, dup := r.results[ev.InvocationID]; dup && ev.InvocationID != "" {
		r.logger.Debug("duplicate tool result ignored", "invocation", ev.InvocationID)
		return
	}
	if !r.tr.Has(ev.InvocationID) {
		r.logger.Debug("tool result without invocation", "invocation", ev.InvocationID)
	}
	r.tr.Append(transcript.Entry{
		ID:                 r.cfg.NewID(),
		Role:               transcript.RoleToolResult,
		Content:            ev.Content,
		InvocationID:       ev.InvocationID,
		IsError:            ev.IsError,
		ParentInvocationID: ev.ParentInvocationID,
	})
	r.results[ev.InvocationID] = struct{}{}
	delete(r.open, ev.InvocationID)
	if len(r.open) > 0 {
		r.state.Phase = PhaseToolPending
	} else {
		r.state.Phase = PhaseIdle
	}
}

func (r *Reducer) done(ev protocol.Done) []Effect {
	r.tr.Finalize()
	r.tr.DropEmptyAssistant()
	r.endTurn()
	if ev.TurnCount > 0 {
		r.state.TurnCount = ev.TurnCount
	} else {
		r.state.TurnCount++
	}
	if ev.TotalCostUSD != nil {
		r.state.TotalCostUSD = ev.TotalCostUSD
	}
	if ev.DurationMs != nil {
		r.state.DurationMs = ev.DurationMs
	}
	if ev.Usage != nil {
		r.state.Usage = ev.Usage
	}
	return []Effect{Invalidate{Resource: ResourceSessions}}
}

func (r *Reducer) compactCompleted(ev protocol.CompactCompleted) []Effect {
	r.state.Compacting = false
	effects := []Effect{Notice{Level: NoticeInfo, Text: "Conversation compacted"}}
	if ev.SessionID != "" && ev.SessionID != r.state.SessionID {
		r.state.SessionID = ev.SessionID
		effects = append(effects, Invalidate{Resource: ResourceSessions})
	}
	return effects
}

func (r *Reducer) serverError(ev protocol.Error) []Effect {
	r.tr.Finalize()
	r.tr.DropEmptyAssistant()
	r.endTurn()

	if IsSessionNotFound(ev.Message) {
		if r.recoveryPending {
			return nil
		}
		r.recoveryPending = true
		r.logger.Info("session gone, starting a new one", "session", r.state.SessionID)
		r.state.SessionID = ""
		r.sessionAdopted = false
		return []Effect{
			ScheduleReconnect{Delay: r.cfg.SessionRecoveryDelay},
			Notice{Level: NoticeInfo, Text: "Previous session is no longer available, starting a new session"},
		}
	}

	r.state.Connection = ConnError
	r.state.Err = ev.Message
	effects := r.abortPrompt()
	return append(effects, Notice{Level: NoticeError, Text: ev.Message, Blocking: true})
}

// IsSessionNotFound reports whether a server error names a missing session.
func IsSessionNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "session") && strings.Contains(m, "not found")
}

func (r *Reducer) endTurn() {
	r.state.TurnActive = false
	r.state.Phase = PhaseFinalized
	clear(r.open)
}

// interruptTurn closes a turn cut short by the connection. Partial text is
// kept.
func (r *Reducer) interruptTurn() {
	if !r.state.TurnActive {
		return
	}
	r.tr.Finalize()
	r.endTurn()
}
