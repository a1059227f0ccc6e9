package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the stable, machine-readable classification of a business
// rule violation. Infrastructure failures are not Errors; they propagate
// as wrapped plain errors.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindNotPublished       ErrorKind = "not_published"
	KindRoleNotAllowed     ErrorKind = "role_not_allowed"
	KindNotYetOpen         ErrorKind = "not_yet_open"
	KindWindowClosed       ErrorKind = "window_closed"
	KindAttemptsExhausted  ErrorKind = "attempts_exhausted"
	KindNoActiveAttempt    ErrorKind = "no_active_attempt"
	KindAlreadySubmitted   ErrorKind = "already_submitted"
	KindTimeExpired        ErrorKind = "time_expired"
	KindValidation         ErrorKind = "validation_error"
	KindConflict           ErrorKind = "conflict"
)

// Error is an expected business outcome, not an exceptional failure.
// Callers branch on Kind; Message is safe to show to the participant.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewError builds a business error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a business Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// KindOf returns the business kind of err, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

var (
	ErrDefinitionNotFound = &Error{Kind: KindNotFound, Message: "assessment not found"}
	ErrQuestionNotFound   = &Error{Kind: KindNotFound, Message: "question not found"}
	ErrAttemptNotFound    = &Error{Kind: KindNotFound, Message: "attempt not found"}
	ErrNotPublished       = &Error{Kind: KindNotPublished, Message: "this assessment has not been published"}
	ErrNoActiveAttempt    = &Error{Kind: KindNoActiveAttempt, Message: "no attempt in progress for this assessment"}
	ErrAlreadySubmitted   = &Error{Kind: KindAlreadySubmitted, Message: "this attempt has already been submitted"}
)

// ErrRoleNotAllowed names the rejected role so the message is actionable.
func ErrRoleNotAllowed(role string) *Error {
	return NewError(KindRoleNotAllowed, "role %q is not allowed to take this assessment", role)
}

// ErrNotYetOpen tells the caller when the window opens.
func ErrNotYetOpen(opensAt time.Time) *Error {
	return NewError(KindNotYetOpen, "this assessment opens at %s", opensAt.Format(time.RFC3339))
}

// ErrWindowClosed tells the caller when the window closed.
func ErrWindowClosed(closedAt time.Time) *Error {
	return NewError(KindWindowClosed, "this assessment closed at %s", closedAt.Format(time.RFC3339))
}

// ErrAttemptsExhausted reports the attempt ceiling that was hit.
func ErrAttemptsExhausted(allowed int) *Error {
	return NewError(KindAttemptsExhausted, "all %d allowed attempts have been used", allowed)
}

// ErrTimeExpired reports the limit that was exceeded. The zero score has
// already been persisted by the time this error is returned.
func ErrTimeExpired(limitMinutes int) *Error {
	return NewError(KindTimeExpired, "the %d minute time limit has expired; the attempt was scored 0", limitMinutes)
}
