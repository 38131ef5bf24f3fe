// Package chat runs a conversation: it feeds connection signals, timers and
// user commands through one event loop into the reducer, performs the
// effects the reducer asks for, and publishes snapshots to an Observer.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"convo/internal/clock"
	"convo/pkg/board"
	"convo/pkg/conn"
	"convo/pkg/protocol"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

const commandBuffer = 64

// ErrStopped is returned by Client methods once Run has returned.
var ErrStopped = errors.New("chat client stopped")

// Connection is the part of *conn.Manager the client drives.
type Connection interface {
	Signals() <-chan conn.Signal
	Connect(conn.Target) error
	ForceReconnect(conn.Target) error
	Disconnect()
	Send(protocol.ClientMessage) bool
	SetSession(sessionID string)
	IsCurrent(seq uint64) bool
}

// Update is published after every change.
type Update struct {
	State      reducer.State
	Transcript []transcript.Entry
	Board      board.Board
	// Effects are the effects produced by the change, including the ones
	// the client already performed.
	Effects []reducer.Effect
}

// Observer receives updates on the client's event loop goroutine. It must
// not block and must not call back into the client synchronously.
type Observer interface {
	Update(Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Update)

// Update implements Observer.
func (f ObserverFunc) Update(u Update) { f(u) }

// Config configures a Client.
type Config struct {
	Conn      Connection
	AgentID   string
	SessionID string

	Clock      clock.Clock
	Logger     *slog.Logger
	Observer   Observer
	Vocabulary board.Vocabulary

	PromptTimeout        time.Duration
	SessionRecoveryDelay time.Duration
	// NewID mints transcript ids; see reducer.Config.
	NewID func() string
}

// Client owns the reducer. All of its state is touched only by the Run
// goroutine; exported methods hand closures to that goroutine.
type Client struct {
	conn     Connection
	red      *reducer.Reducer
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	vocab    board.Vocabulary

	cmds chan func()
	done chan struct{}

	reconnect     *clock.Timer
	promptTimers  map[string]*clock.Timer
	syncedSession string
}

// New returns a Client. Call Run to start it.
func New(cfg Config) (*Client, error) {
	if cfg.Conn == nil {
		return nil, errors.New("chat: nil Conn")
	}
	if cfg.AgentID == "" {
		return nil, errors.New("chat: empty AgentID")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = ObserverFunc(func(Update) {})
	}
	return &Client{
		conn: cfg.Conn,
		red: reducer.New(reducer.Config{
			AgentID:              cfg.AgentID,
			SessionID:            cfg.SessionID,
			NewID:                cfg.NewID,
			Logger:               cfg.Logger,
			PromptTimeout:        cfg.PromptTimeout,
			SessionRecoveryDelay: cfg.SessionRecoveryDelay,
		}),
		clock:         cfg.Clock,
		logger:        cfg.Logger.With("component", "chat"),
		observer:      cfg.Observer,
		vocab:         cfg.Vocabulary.Merge(board.DefaultVocabulary()),
		cmds:          make(chan func(), commandBuffer),
		done:          make(chan struct{}),
		promptTimers:  make(map[string]*clock.Timer),
		syncedSession: cfg.SessionID,
	}, nil
}

// Run is the event loop. It returns when ctx is done. Every other method
// requires Run to be running.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.stopTimers()
	signals := c.conn.Signals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-signals:
			c.handleSignal(sig)
		case fn := <-c.cmds:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

// Connect connects to agentID, resuming sessionID if set. Connecting to a
// different agent or session starts a fresh transcript.
func (c *Client) Connect(agentID, sessionID string) error {
	return c.call(func() error {
		st := c.red.State()
		if agentID != st.AgentID || (sessionID != "" && sessionID != st.SessionID) {
			c.stopTimers()
			c.red.Reset(agentID, sessionID)
			c.syncedSession = sessionID
		}
		st = c.red.State()
		c.red.Connecting()
		err := c.conn.Connect(conn.Target{AgentID: st.AgentID, SessionID: st.SessionID})
		c.publish(nil)
		return err
	})
}

// ForceReconnect reconnects immediately, for example after the connection
// manager gave up.
func (c *Client) ForceReconnect() error {
	return c.call(func() error {
		c.stopReconnect()
		st := c.red.State()
		c.red.Connecting()
		err := c.conn.ForceReconnect(conn.Target{AgentID: st.AgentID, SessionID: st.SessionID})
		c.publish(nil)
		return err
	})
}

// Disconnect closes the connection without retrying.
func (c *Client) Disconnect() error {
	return c.call(func() error {
		c.stopTimers()
		c.conn.Disconnect()
		c.red.Disconnected()
		c.publish(nil)
		return nil
	})
}

// Send submits a chat turn. Before the server is ready the turn is queued
// and sent on ready.
func (c *Client) Send(content protocol.Content) error {
	return c.call(func() error {
		c.apply(c.red.Submit(content))
		return nil
	})
}

// SendText submits a plain-text chat turn.
func (c *Client) SendText(text string) error {
	return c.Send(protocol.TextContent(text))
}

// Answer answers the open question prompt.
func (c *Client) Answer(questionID string, answers map[string]string) error {
	return c.call(func() error {
		effects, err := c.red.AnswerQuestion(questionID, answers)
		if err != nil {
			return err
		}
		c.apply(effects)
		return nil
	})
}

// RespondPlan approves or rejects the open plan prompt.
func (c *Client) RespondPlan(planID string, approved bool, feedback string) error {
	return c.call(func() error {
		effects, err := c.red.RespondPlan(planID, approved, feedback)
		if err != nil {
			return err
		}
		c.apply(effects)
		return nil
	})
}

// Cancel asks the server to stop the running turn.
func (c *Client) Cancel() error {
	return c.call(func() error {
		c.apply(c.red.Cancel())
		return nil
	})
}

// Compact asks the server to compact the conversation.
func (c *Client) Compact() error {
	return c.call(func() error {
		c.apply(c.red.Compact())
		return nil
	})
}

// Snapshot returns the current state.
func (c *Client) Snapshot() (Update, error) {
	var u Update
	err := c.call(func() error {
		u = c.snapshot(nil)
		return nil
	})
	return u, err
}

// call runs fn on the event loop and waits for it.
func (c *Client) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// post queues fn on the event loop without waiting. Timer callbacks use it.
func (c *Client) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Client) handleSignal(sig conn.Signal) {
	if !c.conn.IsCurrent(sig.Seq) {
		c.logger.Debug("discarding stale signal", "seq", sig.Seq, "kind", sig.Kind.String())
		return
	}
	switch sig.Kind {
	case conn.SignalOpened:
		c.red.Opened()
		c.publish(nil)
	case conn.SignalEvent:
		c.apply(c.red.Apply(sig.Event))
	case conn.SignalClosed:
		c.apply(c.red.Dropped(sig.Err, sig.RetryIn))
	case conn.SignalFailed:
		c.stopReconnect()
		c.apply(c.red.Failed(sig.Err))
	}
}

// apply performs effects, keeps the manager's reconnect target in step
// with the session and publishes the result.
func (c *Client) apply(effects []reducer.Effect) {
	for _, e := range effects {
		c.perform(e)
	}
	if id := c.red.State().SessionID; id != c.syncedSession {
		c.conn.SetSession(id)
		c.syncedSession = id
	}
	c.publish(effects)
}

func (c *Client) perform(e reducer.Effect) {
	switch e := e.(type) {
	case reducer.SendMessage:
		if c.conn.Send(e.Message) {
			return
		}
		if e.Outgoing != nil {
			c.logger.Warn("send failed, message queued", "id", e.Outgoing.ID)
			c.red.Requeue(*e.Outgoing)
			return
		}
		c.logger.Warn("send failed, message dropped", "message", messageName(e.Message))
	case reducer.ShowModal:
		c.startPromptTimer(e.Prompt.ID, e.Timeout)
	case reducer.CloseModal:
		c.stopPromptTimer(e.PromptID)
	case reducer.ScheduleReconnect:
		c.scheduleReconnect(e.Delay)
	case reducer.Notice:
		if e.Blocking {
			c.stopReconnect()
			c.conn.Disconnect()
		}
	case reducer.Invalidate:
	}
}

// scheduleReconnect arms the single session-recovery timer. A request while
// one is armed is ignored.
func (c *Client) scheduleReconnect(delay time.Duration) {
	if c.reconnect != nil {
		return
	}
	c.conn.SetSession("")
	c.syncedSession = ""
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.post(func() {
			c.reconnect = nil
			st := c.red.State()
			c.red.Connecting()
			if err := c.conn.ForceReconnect(conn.Target{AgentID: st.AgentID}); err != nil {
				c.logger.Warn("session recovery reconnect failed", "error", err)
			}
			c.publish(nil)
		})
	})
}

func (c *Client) startPromptTimer(id string, timeout time.Duration) {
	c.stopPromptTimer(id)
	c.promptTimers[id] = c.clock.AfterFunc(timeout, func() {
		c.post(func() {
			delete(c.promptTimers, id)
			c.apply(c.red.ExpirePrompt(id))
		})
	})
}

func (c *Client) stopPromptTimer(id string) {
	if t, ok := c.promptTimers[id]; ok {
		t.Stop()
		delete(c.promptTimers, id)
	}
}

func (c *Client) stopReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) stopTimers() {
	c.stopReconnect()
	for id := range c.promptTimers {
		c.stopPromptTimer(id)
	}
}

func (c *Client) snapshot(effects []reducer.Effect) Update {
	entries := c.red.Transcript()
	return Update{
		State:      c.red.State(),
		Transcript: entries,
		Board:      c.vocab.Derive(entries),
		Effects:    effects,
	}
}

func (c *Client) publish(effects []reducer.Effect) {
	c.observer.Update(c.snapshot(effects))
}

func messageName(m protocol.ClientMessage) string {
	switch m.(type) {
	case protocol.ChatMessage:
		return "chat"
	case protocol.UserAnswer:
		return string(protocol.MsgUserAnswer)
	case protocol.PlanApprovalResponse:
		return string(protocol.MsgPlanApprovalResponse)
	case protocol.CancelRequest:
		return string(protocol.MsgCancelRequest)
	case protocol.CompactRequest:
		return string(protocol.MsgCompactRequest)
	}
	return "unknown"
}
