package queues

import "errors"

// Queue errors.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrMessageNotFound    = errors.New("message not found")
	ErrQueueClosed        = errors.New("queue is closed")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
