// Package apperr defines the error taxonomy shared by the store, the hand-off
// state machine and the transports. Callers compare with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound is returned for an unknown conversation or support request.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a transition is not legal from the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrAlreadyAccepted is returned to staff that lost the accept race.
	ErrAlreadyAccepted = errors.New("support request already accepted")
	// ErrTransportUnavailable means the push channel could not deliver an event.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrUnauthorized is returned when the actor lacks the role or ownership for an action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when a sender exceeds the message rate limit.
	ErrRateLimited = errors.New("rate limited")
)

// IsRecoverable reports whether the caller should refresh its view and carry on
// instead of surfacing err as a failure.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAlreadyAccepted)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyAccepted):
		return "already_accepted"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
