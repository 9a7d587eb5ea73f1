package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrSendFailed marks a durable send that was rejected or timed out. The optimistic
	// entry has been rolled back and the user may retry.
	ErrSendFailed = errors.New("chat: send failed")

	// ErrSubscription is reported through the status callback when the live feed drops
	// or cannot be opened.
	ErrSubscription = errors.New("chat: live feed unavailable")

	ErrEmptyBody      = errors.New("chat: message body is empty")
	ErrNoConversation = errors.New("chat: no conversation is open")

	// ErrConversationChanged is returned for a send whose result arrived after the
	// conversation was closed or switched. The result was discarded.
	ErrConversationChanged = errors.New("chat: conversation changed before the send completed")
)

// SendError describes a rolled back send.
type SendError struct {
	ClientID string
	Body     string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chat: send %s failed: %v", e.ClientID, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}
