package coordinator

import "errors"

var (
	// ErrForbidden is an identity that is not a participant of the session.
	ErrForbidden = errors.New("not a session participant")
	// ErrPersistence is a message sink failure, the message is not broadcast.
	ErrPersistence = errors.New("message sink unavailable")
	// ErrProtocolViolation is a malformed inbound frame.
	ErrProtocolViolation = errors.New("protocol violation")
)
