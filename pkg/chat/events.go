package chat

import "time"

// EventType names the notifications published by a SessionManager.
type EventType string

const (
	// EventHistory carries a full copy of the history after a mutation.
	// EventTurnCompleted and EventError carry one as well.
	EventHistory EventType = "history"
	// EventState is published on every state transition.
	EventState EventType = "state"
	// EventError carries a surfaced failure.
	EventError EventType = "error"
	// EventTurnCompleted is published when a turn stream ends normally.
	EventTurnCompleted EventType = "turn_completed"
)

// ErrorInfo is the serializable form of an *Error.
type ErrorInfo struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Credential bool      `json:"credential,omitempty"`
}

// Event is a notification emitted by a SessionManager.
type Event struct {
	Type      EventType  `json:"type"`
	ConvID    string     `json:"conv_id"`
	SessionID string     `json:"session_id,omitempty"`
	Seq       uint64     `json:"seq"`
	State     State      `json:"state"`
	History   History    `json:"history,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Profile   *Profile   `json:"profile,omitempty"`
	Time      time.Time  `json:"time"`
}

// EventSink receives SessionManager notifications. Sinks are called
// synchronously while the manager holds its lock and must not call back into
// the manager.
type EventSink interface {
	PublishEvent(e Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(e Event) error

func (f SinkFunc) PublishEvent(e Event) error { return f(e) }

func infoFromError(err *Error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: err.Kind, Message: err.Error(), Credential: err.Credential}
}
