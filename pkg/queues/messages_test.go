package queues

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
)

func TestExtractionMessageRoundTrip(t *testing.T) {
	msg := &ExtractionMessage{
		DocumentID:           "doc-42",
		DocumentPath:         "/data/filings/doc-42.txt",
		ExtractRelationships: true,
		Priority:             PriorityHigh,
		EnqueuedAt:           time.Now().UTC(),
		BatchID:              "batch-7",
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	qm := &QueuedMessage{
		ID:          "m1",
		Message:     raw,
		MessageType: msg.GetMessageType(),
		Priority:    msg.GetPriority(),
	}

	parsed, err := qm.ParseMessage()
	require.NoError(t, err)

	em, ok := parsed.(*ExtractionMessage)
	require.True(t, ok)
	assert.Equal(t, "doc-42", em.GetDocumentID())
	assert.Equal(t, PriorityHigh, em.GetPriority())
	assert.Equal(t, MessageTypeExtraction, em.GetMessageType())
	assert.Equal(t, "batch-7", em.GetBatchID())
	assert.True(t, em.ExtractRelationships)
}

func TestParseMessageUnknownType(t *testing.T) {
	qm := &QueuedMessage{MessageType: "nonsense", Message: []byte("{}")}
	_, err := qm.ParseMessage()
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, calculateBackoff(1))
	assert.Equal(t, 4*time.Second, calculateBackoff(2))
	assert.Equal(t, 8*time.Second, calculateBackoff(3))
	assert.Equal(t, 5*time.Minute, calculateBackoff(20), "capped at five minutes")
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 1*time.Second, p.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, p.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, p.CalculateBackoff(2))
	assert.Equal(t, 5*time.Minute, p.CalculateBackoff(30))
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	transient := lexerrors.NewTransientError(lexerrors.ErrorCodeServiceUnavailable, "llm unavailable", nil)
	permanent := lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "empty document", nil)

	assert.True(t, p.ShouldRetry(transient, 0))
	assert.True(t, p.ShouldRetry(transient, p.MaxRetries-1))
	assert.False(t, p.ShouldRetry(transient, p.MaxRetries), "budget exhausted")
	assert.False(t, p.ShouldRetry(permanent, 0))
	assert.False(t, p.ShouldRetry(errors.New("plain error"), 0), "uncategorised errors are not retried")
}

func TestRetryPolicyDecideRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	d := p.DecideRetry(lexerrors.NewTransientError(lexerrors.ErrorCodeTimeout, "timed out", nil), 1)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, 2*time.Second, d.BackoffDuration)

	d = p.DecideRetry(lexerrors.NewPermanentError(lexerrors.ErrorCodeParseError, "bad payload", nil), 0)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, lexerrors.ErrorCodeParseError)

	d = p.DecideRetry(lexerrors.NewTransientError(lexerrors.ErrorCodeTimeout, "timed out", nil), p.MaxRetries)
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, "max retries exceeded", d.Reason)
}
