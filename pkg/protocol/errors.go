package protocol

import (
	"errors"
	"fmt"
)

// ErrMissingType is returned by DecodeEvent for a frame without a "type" field.
var ErrMissingType = errors.New("event has no type")

// UnknownEventError reports a frame whose type discriminator is not one of
// the known server events. Callers usually skip such frames.
type UnknownEventError struct {
	Type EventType
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// DecodeError wraps a JSON failure while decoding a frame of a known type.
type DecodeError struct {
	Type EventType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode event: %v", e.Err)
	}
	return fmt.Sprintf("decode %s event: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
