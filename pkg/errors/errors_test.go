package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelChecks(t *testing.T) {
	wrapped := fmt.Errorf("route document: %w", ErrNilDocument)
	assert.True(t, errors.Is(wrapped, ErrNilDocument))

	assert.True(t, IsCircuitOpen(fmt.Errorf("llm call: %w", ErrCircuitOpen)))
	assert.True(t, IsTimeout(fmt.Errorf("wave 2: %w", ErrTimeout)))
	assert.True(t, IsMalformedResponse(fmt.Errorf("parse: %w", ErrMalformedResponse)))
	assert.False(t, IsCircuitOpen(ErrTimeout))
}

func TestProcessingErrorRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *ProcessingError
		retryable bool
	}{
		{"transient", NewTransientError(ErrorCodeTimeout, "llm timed out", nil), true},
		{"dependency", NewDependencyError(ErrorCodeServiceUnavailable, "llm down", nil), true},
		{"permanent", NewPermanentError(ErrorCodeInvalidInput, "bad document", nil), false},
		{"partial", NewPartialError(ErrorCodeLLMError, "wave 3 failed", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
		})
	}
}

func TestProcessingErrorUnwrap(t *testing.T) {
	inner := ErrTimeout
	pe := NewTransientError(ErrorCodeTimeout, "llm call failed", inner)
	assert.True(t, errors.Is(pe, ErrTimeout))
	assert.Equal(t, "llm call failed: timeout", pe.Error())
}
