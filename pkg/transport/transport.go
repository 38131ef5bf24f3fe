// Package transport owns one physical socket to the agent backend and turns
// its frames into protocol events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"convo/pkg/protocol"
)

// ErrClosed is returned by Receive and Send after Close.
var ErrClosed = errors.New("transport: connection closed")

// Dialer opens connections. Dial returns a *HandshakeError when the server
// answered the upgrade request with an HTTP error status.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Conn is one open socket.
type Conn interface {
	// Receive blocks for the next decodable event. Frames that fail to
	// decode are skipped. It returns an error once the socket is closed.
	Receive(ctx context.Context) (protocol.Event, error)

	// Send writes one client message.
	Send(ctx context.Context, msg protocol.ClientMessage) error

	// Close closes the socket. It is safe to call more than once.
	Close() error
}

// HandshakeError reports a rejected upgrade request.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// IsAuth reports whether the rejection was for credential reasons.
func (e *HandshakeError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsAuthFailure reports whether err is a handshake rejected for credential
// reasons.
func IsAuthFailure(err error) bool {
	var hs *HandshakeError
	return errors.As(err, &hs) && hs.IsAuth()
}

// BuildURL adds the token and the optional agent and session identifiers to
// endpoint as query parameters.
func BuildURL(endpoint, token, agentID, sessionID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint scheme %q: want ws or wss", u.Scheme)
	}
	q := u.Query()
	q.Set(protocol.QueryToken, token)
	if agentID != "" {
		q.Set(protocol.QueryAgent, agentID)
	} else {
		q.Del(protocol.QueryAgent)
	}
	if sessionID != "" {
		q.Set(protocol.QuerySession, sessionID)
	} else {
		q.Del(protocol.QuerySession)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedactURL hides the token in a socket URL for logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has(protocol.QueryToken) {
		q.Set(protocol.QueryToken, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
