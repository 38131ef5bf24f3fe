// Package transporttest provides an in-memory transport.Dialer for tests of
// the connection manager and chat client.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"convo/pkg/protocol"
	"convo/pkg/transport"
)

// waitTimeout bounds every Wait helper so a broken test fails instead of
// hanging.
const waitTimeout = 2 * time.Second

// Dialer hands out Conns. Failures queued with Fail are consumed in order
// before any successful dial.
type Dialer struct {
	mu       sync.Mutex
	failures []error
	block    chan struct{}
	urls     []string
	conns    []*Conn
}

// NewDialer returns a Dialer whose dials succeed unless Fail was called.
func NewDialer() *Dialer { return &Dialer{} }

// Fail queues errors for the next dials.
func (d *Dialer) Fail(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Hold makes dials block until the returned release function is called,
// so tests can observe a pending connection.
func (d *Dialer) Hold() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{})
	d.block = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.block == ch {
				d.block = nil
			}
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (transport.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	c := newConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// URLs returns every URL dialled so far, in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Attempts returns the number of Dial calls so far.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// WaitAttempts blocks until at least n Dial calls happened.
func (d *Dialer) WaitAttempts(t testing.TB, n int) {
	t.Helper()
	waitFor(t, func() bool { return d.Attempts() >= n }, "%d dial attempts", n)
}

// WaitConn blocks until the n-th successful connection (1-based) exists and
// returns it.
func (d *Dialer) WaitConn(t testing.TB, n int) *Conn {
	t.Helper()
	var c *Conn
	waitFor(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) >= n {
			c = d.conns[n-1]
			return true
		}
		return false
	}, "connection #%d", n)
	return c
}

// Conn is an in-memory transport.Conn. Tests push server events with Emit
// and simulate a dropped socket with Drop.
type Conn struct {
	events chan protocol.Event
	done   chan struct{}

	mu       sync.Mutex
	sent     []protocol.ClientMessage
	dropErr  error
	closed   bool
	doneOnce sync.Once
}

func newConn() *Conn {
	return &Conn{
		events: make(chan protocol.Event, 64),
		done:   make(chan struct{}),
	}
}

// Emit delivers events to the reader in order.
func (c *Conn) Emit(evs ...protocol.Event) {
	for _, ev := range evs {
		c.events <- ev
	}
}

// Drop simulates the server closing the socket with err.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	c.mu.Lock()
	c.dropErr = err
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Receive implements transport.Conn. Queued events are delivered before a
// drop is reported.
func (c *Conn) Receive(ctx context.Context) (protocol.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, transport.ErrClosed
		}
		return nil, c.dropErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements transport.Conn.
func (c *Conn) Send(_ context.Context, msg protocol.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.dropErr != nil {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

// Closed reports whether the client closed the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns the messages written by the client.
func (c *Conn) Sent() []protocol.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ClientMessage(nil), c.sent...)
}

// WaitSent blocks until at least n messages were written.
func (c *Conn) WaitSent(t testing.TB, n int) []protocol.ClientMessage {
	t.Helper()
	waitFor(t, func() bool { return len(c.Sent()) >= n }, "%d sent messages", n)
	return c.Sent()
}

func waitFor(t testing.TB, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
