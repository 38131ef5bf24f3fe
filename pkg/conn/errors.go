package conn

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Connect and ForceReconnect after Close.
var ErrClosed = errors.New("connection manager closed")

// AuthError is the terminal failure after the server rejected both the
// cached token and one freshly minted token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RetriesExhaustedError is reported when the socket kept failing past the
// attempt ceiling. Automatic reconnection stops until ForceReconnect.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("connection lost after %d reconnect attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
