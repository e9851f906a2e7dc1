package chat

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind distinguishes failures surfaced by the SessionManager.
type ErrorKind string

const (
	KindSessionNotReady     ErrorKind = "session_not_ready"
	KindSessionInitFailed   ErrorKind = "session_init_failed"
	KindStreamFailed        ErrorKind = "stream_failed"
	KindInvalidProfileField ErrorKind = "invalid_profile_field"
)

// Error is the single error type returned by SessionManager operations.
type Error struct {
	Kind    ErrorKind
	Message string
	// Credential is set when the cause looks like a rejected API key or an
	// unknown model/entity, so the caller can ask for new credentials.
	Credential bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error { return e.Err }

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		Credential: cause != nil && IsCredentialError(cause),
		Err:        cause,
	}
}

// KindOf returns the ErrorKind of err, or "" if err was not produced by this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// CredentialError can be implemented by client errors that know they were caused
// by invalid credentials.
type CredentialError interface {
	CredentialInvalid() bool
}

// credentialMarkers are substrings remote services use when an API key is
// rejected or the requested model/project does not exist for that key.
var credentialMarkers = []string{
	"requested entity was not found",
	"api key not valid",
	"api_key_invalid",
	"invalid api key",
	"incorrect api key",
	"permission_denied",
	"unauthenticated",
	"401 unauthorized",
}

// IsCredentialError reports whether err (or anything it wraps) signals an
// invalid credential or an entity-not-found condition.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	var ce CredentialError
	if errors.As(err, &ce) && ce.CredentialInvalid() {
		return true
	}
	var e *Error
	if errors.As(err, &e) && e.Credential {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range credentialMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ErrCredential wraps err so that IsCredentialError recognises it.
func ErrCredential(err error) error {
	if err == nil {
		return nil
	}
	return &credentialErr{err: err}
}

type credentialErr struct{ err error }

func (c *credentialErr) Error() string           { return c.err.Error() }
func (c *credentialErr) Unwrap() error           { return c.err }
func (c *credentialErr) CredentialInvalid() bool { return true }
