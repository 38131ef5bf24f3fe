// Package credential supplies the short-lived bearer token the client puts on
// the socket URL, and mints a fresh one when the server rejects it.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyToken is returned when a provider has no token to give.
var ErrEmptyToken = errors.New("credential: empty token")

// Provider is the credential contract consumed by the connection manager.
type Provider interface {
	// Token returns the current token, possibly cached.
	Token(ctx context.Context) (string, error)

	// Refresh obtains a fresh token, replacing the cached one.
	Refresh(ctx context.Context) (string, error)
}

// Static returns a Provider that always hands out token. Refresh returns
// the same token, so an expired static token fails fast after one retry.
func Static(token string) Provider { return staticProvider(token) }

type staticProvider string

func (s staticProvider) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}

func (s staticProvider) Refresh(ctx context.Context) (string, error) { return s.Token(ctx) }

// RefreshFunc mints a new token, typically by calling an auth endpoint
// that lives outside this module.
type RefreshFunc func(ctx context.Context) (string, error)

// Func is a Provider that caches the token returned by its RefreshFunc and
// calls it again only on Refresh or when nothing is cached. Concurrent
// Refresh calls share one RefreshFunc call.
type Func struct {
	refresh RefreshFunc

	mu       sync.Mutex
	token    string
	inflight *refreshCall
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// NewFunc returns a Func seeded with initial (which may be empty).
func NewFunc(initial string, refresh RefreshFunc) *Func {
	return &Func{refresh: refresh, token: initial}
}

// Token implements Provider.
func (f *Func) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	tok := f.token
	f.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	return f.Refresh(ctx)
}

// Refresh implements Provider. A call made while another is in flight
// waits for it and returns its outcome.
func (f *Func) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	if c := f.inflight; c != nil {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.token, c.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c := &refreshCall{done: make(chan struct{})}
	f.inflight = c
	f.mu.Unlock()

	c.token, c.err = f.mint(ctx)

	f.mu.Lock()
	if c.err == nil {
		f.token = c.token
	}
	f.inflight = nil
	f.mu.Unlock()
	close(c.done)
	return c.token, c.err
}

func (f *Func) mint(ctx context.Context) (string, error) {
	tok, err := f.refresh(ctx)
	if err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}
