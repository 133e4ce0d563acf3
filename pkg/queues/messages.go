// Package queues provides the Redis-backed queue used for batch document
// extraction.
package queues

import (
	"encoding/json"
	"time"
)

// Priority levels for queue messages.
type Priority int

const (
	PriorityLow    Priority = 0 // backfill, re-extraction
	PriorityNormal Priority = 1 // batch submissions
	PriorityHigh   Priority = 2 // interactive requests
)

// MessageType identifies the type of queue message.
type MessageType string

const (
	MessageTypeExtraction MessageType = "extraction"
)

// Message is the base interface for all queue messages.
type Message interface {
	// GetDocumentID returns the document being processed.
	GetDocumentID() string
	// GetPriority returns the message priority.
	GetPriority() Priority
	// GetMessageType returns the message type.
	GetMessageType() MessageType
	// GetBatchID returns the batch ID if part of a batch.
	GetBatchID() string
}

// ExtractionMessage asks a worker to run the extraction pipeline over one
// document. The document travels by path; queue payloads stay small.
type ExtractionMessage struct {
	DocumentID           string    `json:"document_id"`
	DocumentPath         string    `json:"document_path"`
	StrategyOverride     string    `json:"strategy_override,omitempty"`
	ExtractRelationships bool      `json:"extract_relationships,omitempty"`
	GraphRAGMode         bool      `json:"graphrag_mode,omitempty"`
	OutputPath           string    `json:"output_path,omitempty"`
	Priority             Priority  `json:"priority"`
	EnqueuedAt           time.Time `json:"enqueued_at"`
	BatchID              string    `json:"batch_id,omitempty"`
}

func (m *ExtractionMessage) GetDocumentID() string        { return m.DocumentID }
func (m *ExtractionMessage) GetPriority() Priority        { return m.Priority }
func (m *ExtractionMessage) GetMessageType() MessageType  { return MessageTypeExtraction }
func (m *ExtractionMessage) GetBatchID() string           { return m.BatchID }

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  MessageType     `json:"message_type"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// ParseMessage parses the raw message based on message type.
func (qm *QueuedMessage) ParseMessage() (Message, error) {
	switch qm.MessageType {
	case MessageTypeExtraction:
		var msg ExtractionMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// Queue defines the interface for a message queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue adds a message to the queue.
	Enqueue(msg Message) error

	// EnqueueBatch adds multiple messages to the queue.
	EnqueueBatch(msgs []Message) error

	// Dequeue retrieves up to maxMessages, blocking for at most timeout.
	Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	// Ack acknowledges successful processing of a message.
	Ack(messageID string) error

	// Nack indicates processing failure; the message will be retried.
	Nack(messageID string) error

	// MoveToDeadLetter moves a message to the dead letter queue.
	MoveToDeadLetter(messageID string, reason string) error

	// Depth returns the current queue depth.
	Depth() (int64, error)

	// Close closes the queue connection.
	Close() error
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
}

// DefaultExtractionQueueConfig returns the default configuration for the
// extraction queue. Large documents can hold a worker for minutes, so the
// visibility timeout is generous.
func DefaultExtractionQueueConfig() QueueConfig {
	return QueueConfig{
		Name:              "lexext:extract",
		VisibilityTimeout: 300 * time.Second,
		MaxRetries:        3,
		RetentionPeriod:   24 * time.Hour,
	}
}

var _ Message = (*ExtractionMessage)(nil)
