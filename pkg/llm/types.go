// Package llm provides the chat-completion client for the local
// OpenAI-compatible vLLM server, plus the throttled wrapper the extraction
// orchestrator talks to.
package llm

import (
	"context"
	"errors"
)

// ChatMessage is a message in the chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one chat-completion call.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`

	// JSONMode asks the client to extract and, if needed, repair a JSON
	// body from the response content.
	JSONMode bool `json:"json_mode,omitempty"`

	// GuidedJSONSchema is an optional schema hint passed to servers that
	// support guided decoding. Ignored by servers that do not.
	GuidedJSONSchema map[string]interface{} `json:"guided_json_schema,omitempty"`
}

// TokenUsage carries the server-reported token counters.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ChatResponse is the client's answer for one request.
type ChatResponse struct {
	// Content is the model output. In JSON mode this is the extracted
	// (and possibly repaired) JSON body.
	Content string `json:"content"`

	// Malformed is set in JSON mode when repair could not produce valid
	// JSON; Content then holds the best repaired form for the caller to
	// inspect.
	Malformed bool `json:"malformed,omitempty"`

	FinishReason string     `json:"finish_reason"`
	Model        string     `json:"model"`
	LatencyMs    int        `json:"latency_ms"`
	TokensUsed   TokenUsage `json:"tokens_used"`
}

// Client is the minimal surface the throttled wrapper and the orchestrator
// depend on.
type Client interface {
	GenerateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// LLMError is an error from the LLM layer with a machine-readable code.
type LLMError struct {
	Code    LLMErrorCode `json:"code"`
	Message string       `json:"message"`
	Details interface{}  `json:"details,omitempty"`
}

func (e *LLMError) Error() string {
	return e.Message
}

// LLMErrorCode identifies the kind of LLM error.
type LLMErrorCode string

const (
	ErrTimeout       LLMErrorCode = "timeout"
	ErrUnavailable   LLMErrorCode = "unavailable"
	ErrRateLimit     LLMErrorCode = "rate_limit"
	ErrParseFailure  LLMErrorCode = "parse_failure"
	ErrTokenLimit    LLMErrorCode = "token_limit"
	ErrModelNotReady LLMErrorCode = "model_not_ready"
	ErrCircuitOpen   LLMErrorCode = "circuit_open"
)

// CodeOf extracts the LLMErrorCode from err, or "" when err is not an
// LLMError.
func CodeOf(err error) LLMErrorCode {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Code
	}
	return ""
}

// IsRetryable reports whether a fresh attempt against the server could
// succeed. Timeouts are excluded: retrying a saturated server won't help.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrUnavailable, ErrRateLimit, ErrModelNotReady:
		return true
	}
	return false
}
