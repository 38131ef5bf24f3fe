// Package conn implements the connection manager: it owns the single
// transport connection, reconnects with a bounded constant-delay policy,
// refreshes credentials once on an auth rejection, and tags every callback
// with a connection sequence number so late callbacks from a superseded
// socket are discarded.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"convo/internal/clock"
	"convo/pkg/credential"
	"convo/pkg/protocol"
	"convo/pkg/transport"
)

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultRetryDelay       = 2 * time.Second
	DefaultMaxAttempts      = 5
	DefaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	signalBuffer            = 256
)

// Config holds the manager's collaborators and policy.
type Config struct {
	Endpoint    string
	Dialer      transport.Dialer
	Credentials credential.Provider
	Clock       clock.Clock
	Logger      *slog.Logger

	// RetryDelay is the constant wait between reconnect attempts.
	RetryDelay time.Duration
	// RetryJitter adds a random [0, RetryJitter) to each wait. Zero
	// disables jitter.
	RetryJitter time.Duration
	// MaxAttempts is the number of automatic reconnects before giving up.
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

// Manager owns the physical connection. Its methods are safe for
// concurrent use.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	signals chan Signal

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	seq       uint64
	state     State
	target    Target
	hasTarget bool
	conn      transport.Conn
	attempts  int
	retry     *clock.Timer
	closed    bool
}

// NewManager validates cfg and returns an idle Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("conn: nil Dialer")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("conn: nil Credentials")
	}
	if _, err := transport.BuildURL(cfg.Endpoint, "", "", ""); err != nil {
		return nil, fmt.Errorf("conn: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "conn"),
		signals: make(chan Signal, signalBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Signals delivers opened/event/closed/failed callbacks in the order each
// connection produced them.
func (m *Manager) Signals() <-chan Signal { return m.signals }

// Connect opens a connection to target. It is a no-op while a connection
// to the same target is open or pending; an empty SessionID matches any
// session of the same agent. A different target tears the old connection
// down first. Connect does not wait for the socket to open.
func (m *Manager) Connect(target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.hasTarget && (m.state == StateConnecting || m.state == StateOpen) && m.sameTargetLocked(target) {
		m.logger.Debug("connect ignored, already connected", "agent", target.AgentID, "state", m.state.String())
		return nil
	}
	m.teardownLocked()
	m.target = target
	m.hasTarget = true
	m.attempts = 0
	m.startAttemptLocked()
	return nil
}

// ForceReconnect drops the current connection, if any, and dials target
// immediately, skipping the retry delay and resetting the attempt count.
func (m *Manager) ForceReconnect(target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.teardownLocked()
	m.target = target
	m.hasTarget = true
	m.attempts = 0
	m.startAttemptLocked()
	return nil
}

// Disconnect closes the connection and cancels any pending retry. No
// further signals are produced for it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.hasTarget = false
}

// Close disconnects and releases the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.hasTarget = false
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// Send writes msg on the open socket. It returns false, without error, when
// the socket is not open or the write fails; callers queue or drop.
func (m *Manager) Send(msg protocol.ClientMessage) bool {
	m.mu.Lock()
	c := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || c == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(m.ctx, defaultWriteTimeout)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		m.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// SetSession changes the session id used by future (re)connects without
// touching the current socket.
func (m *Manager) SetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target.SessionID = sessionID
}

// IsCurrent reports whether seq belongs to the latest connection attempt.
func (m *Manager) IsCurrent(seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return seq == m.seq
}

// State returns the physical connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the current connection target.
func (m *Manager) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Manager) sameTargetLocked(t Target) bool {
	if t.AgentID != m.target.AgentID {
		return false
	}
	return t.SessionID == "" || t.SessionID == m.target.SessionID
}

// teardownLocked invalidates every callback of the current attempt.
func (m *Manager) teardownLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.seq++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateIdle
}

func (m *Manager) startAttemptLocked() {
	m.seq++
	seq := m.seq
	target := m.target
	m.state = StateConnecting
	m.logger.Debug("dialing", "seq", seq, "agent", target.AgentID, "session", target.SessionID, "attempt", m.attempts)
	go m.dial(seq, target)
}

func (m *Manager) dial(seq uint64, target Target) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.HandshakeTimeout)
	c, err := m.open(ctx, target, m.cfg.Credentials.Token)
	if needsRefresh(err) && m.IsCurrent(seq) {
		m.logger.Info("handshake rejected, refreshing credentials", "seq", seq, "error", err)
		c, err = m.open(ctx, target, m.cfg.Credentials.Refresh)
		if needsRefresh(err) {
			cancel()
			m.fail(seq, asAuthError(err))
			return
		}
	}
	cancel()
	if err != nil {
		m.dropped(seq, err)
		return
	}

	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		_ = c.Close()
		m.logger.Debug("discarding superseded connection", "seq", seq)
		return
	}
	m.conn = c
	m.state = StateOpen
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info("connected", "seq", seq, "agent", target.AgentID)
	m.emit(Signal{Seq: seq, Kind: SignalOpened})
	m.readLoop(seq, c)
}

func (m *Manager) open(ctx context.Context, target Target, token func(context.Context) (string, error)) (transport.Conn, error) {
	tok, err := token(ctx)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("obtain token: %w", err)}
	}
	u, err := transport.BuildURL(m.cfg.Endpoint, tok, target.AgentID, target.SessionID)
	if err != nil {
		return nil, err
	}
	c, err := m.cfg.Dialer.Dial(ctx, u)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func needsRefresh(err error) bool {
	var authErr *AuthError
	return transport.IsAuthFailure(err) || errors.As(err, &authErr)
}

func asAuthError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return &AuthError{Err: err}
}

func (m *Manager) readLoop(seq uint64, c transport.Conn) {
	for {
		ev, err := c.Receive(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.dropped(seq, err)
			return
		}
		if !m.IsCurrent(seq) {
			m.logger.Debug("discarding event from stale connection", "seq", seq, "type", ev.EventType())
			_ = c.Close()
			return
		}
		m.emit(Signal{Seq: seq, Kind: SignalEvent, Event: ev})
	}
}

// dropped handles a failed dial or an unexpected close of attempt seq.
func (m *Manager) dropped(seq uint64, cause error) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		m.logger.Debug("ignoring close of stale connection", "seq", seq, "error", cause)
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.attempts++
	if m.attempts > m.cfg.MaxAttempts {
		m.state = StateFailed
		m.mu.Unlock()
		m.logger.Error("giving up reconnecting", "attempts", m.cfg.MaxAttempts, "error", cause)
		m.emit(Signal{Seq: seq, Kind: SignalFailed, Err: &RetriesExhaustedError{Attempts: m.cfg.MaxAttempts, Last: cause}})
		return
	}

	attempt := m.attempts
	delay := m.retryDelay()
	m.state = StateConnecting
	m.retry = m.cfg.Clock.AfterFunc(delay, func() { m.retryFired(seq) })
	m.mu.Unlock()

	m.logger.Warn("connection lost, retry scheduled", "seq", seq, "attempt", attempt, "delay", delay, "error", cause)
	m.emit(Signal{Seq: seq, Kind: SignalClosed, Err: cause, Attempt: attempt, RetryIn: delay})
}

func (m *Manager) retryFired(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.seq || m.closed {
		return
	}
	m.retry = nil
	m.startAttemptLocked()
}

func (m *Manager) fail(seq uint64, err error) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateFailed
	m.mu.Unlock()

	m.logger.Error("connection failed", "seq", seq, "error", err)
	m.emit(Signal{Seq: seq, Kind: SignalFailed, Err: err})
}

func (m *Manager) retryDelay() time.Duration {
	d := m.cfg.RetryDelay
	if m.cfg.RetryJitter > 0 {
		d += time.Duration(rand.Int64N(int64(m.cfg.RetryJitter))) //nolint:gosec // jitter doesn't need crypto rand
	}
	return d
}

func (m *Manager) emit(sig Signal) {
	select {
	case m.signals <- sig:
	case <-m.ctx.Done():
	}
}
