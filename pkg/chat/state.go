package chat

import "github.com/pkg/errors"

// State is the lifecycle state of a SessionManager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateAwaitingResponse
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether an operation is in flight and the caller should not
// offer a way to send.
func (s State) Busy() bool {
	return s == StateInitializing || s == StateAwaitingResponse
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for c := StateUninitialized; c <= StateFailed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return errors.Errorf("unknown session state %q", string(b))
}
