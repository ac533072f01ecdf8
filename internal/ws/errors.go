package ws

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport means the connection is unusable. It is the only error that ends
	// a connection.
	ErrTransport = errors.New("transport error")

	ErrAuthorizationDenied = errors.New("authorization_denied")
	ErrNotFound            = errors.New("not_found")
	ErrPersistence         = errors.New("persistence_failure")
	ErrProtocolViolation   = errors.New("unsupported_action")

	ErrEmptyMessage   = errors.New("empty_message")
	ErrMessageTooLong = errors.New("message_too_long")
	ErrNotJoined      = errors.New("not_joined")

	ErrChannelClosed = errors.New("room channel closed")
)

// LagError is returned by Subscription.Recv when the subscriber fell behind the
// ring buffer and the oldest unread messages were overwritten.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged, %d messages skipped", e.Skipped)
}

// errorInfo maps an error onto the short code sent back in an Error action.
func errorInfo(err error) string {
	for _, known := range []error{
		ErrAuthorizationDenied,
		ErrNotFound,
		ErrPersistence,
		ErrProtocolViolation,
		ErrEmptyMessage,
		ErrMessageTooLong,
		ErrNotJoined,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "unexpected_error"
}
