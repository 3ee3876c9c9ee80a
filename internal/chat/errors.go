package chat

import "errors"

var (
	// ErrConversationNotFound is returned by Store implementations when the
	// referenced conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound covers both a missing message and one that exists
	// but is not editable (only user-sender messages may be edited/deleted).
	ErrMessageNotFound = errors.New("message not found")

	// ErrSlowConsumer is reported when a session's outbound buffer is full
	// and a frame had to be dropped. Delivery is best-effort; the failure is
	// isolated to that session.
	ErrSlowConsumer = errors.New("session send buffer full")

	// ErrSessionClosed is reported when a frame is enqueued for a session
	// that has already disconnected.
	ErrSessionClosed = errors.New("session closed")
)
