package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/casemark/lexext-cli/pkg/logging"
)

// Default request parameters for structured extraction.
const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.1
	baseRetryBackoff   = 500 * time.Millisecond
	maxRetryBackoff    = 8 * time.Second
)

// HTTPClient talks to an OpenAI-compatible chat-completion server.
type HTTPClient struct {
	baseURL    string
	model      string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	logger     logging.Logger
}

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	BaseURL        string
	Model          string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int
	Logger         logging.Logger
}

// NewHTTPClient creates a client for the given server.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		logger:     opts.Logger,
	}
}

// Wire shapes for the OpenAI-compatible API.

type chatWireRequest struct {
	Model       string                 `json:"model"`
	Messages    []ChatMessage          `json:"messages"`
	Temperature float32                `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	GuidedJSON  map[string]interface{} `json:"guided_json,omitempty"`
}

type chatWireChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatWireResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []chatWireChoice `json:"choices"`
	Usage   chatWireUsage    `json:"usage"`
}

// GenerateChatCompletion sends a chat-completion request, retrying transient
// failures with exponential backoff. In JSON mode the response content is
// the extracted, possibly repaired JSON body; when repair fails the
// response is returned with Malformed set rather than an error, so the
// caller can decide.
func (c *HTTPClient) GenerateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseRetryBackoff << (attempt - 1)
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctxError(ctx)
			case <-time.After(backoff):
			}
			c.logger.Debug("retrying chat completion",
				logging.F("attempt", attempt),
				logging.F("backoff_ms", backoff.Milliseconds()))
		}

		resp, err := c.complete(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !IsRetryable(err) {
				return nil, err
			}
			continue
		}

		if resp.FinishReason == "length" {
			return nil, &LLMError{
				Code:    ErrTokenLimit,
				Message: fmt.Sprintf("response truncated at max_tokens (%d completion tokens)", resp.TokensUsed.Completion),
				Details: resp.Content,
			}
		}

		if req.JSONMode {
			body, ok := ExtractJSON(resp.Content)
			resp.Content = body
			resp.Malformed = !ok
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *HTTPClient) complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	wire := chatWireRequest{
		Model:      c.model,
		Messages:   req.Messages,
		GuidedJSON: req.GuidedJSONSchema,
	}
	if req.Temperature > 0 {
		wire.Temperature = req.Temperature
	} else {
		wire.Temperature = defaultTemperature
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = req.MaxTokens
	} else {
		wire.MaxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &LLMError{Code: ErrParseFailure, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &LLMError{Code: ErrUnavailable, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &LLMError{Code: ErrTimeout, Message: "request timeout"}
		}
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		return nil, &LLMError{Code: ErrUnavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &LLMError{Code: ErrParseFailure, Message: fmt.Sprintf("read response: %v", err)}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, respBody)
	}

	var wireResp chatWireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, &LLMError{Code: ErrParseFailure, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(wireResp.Choices) == 0 {
		return nil, &LLMError{Code: ErrParseFailure, Message: "no choices in response"}
	}

	return &ChatResponse{
		Content:      wireResp.Choices[0].Message.Content,
		FinishReason: wireResp.Choices[0].FinishReason,
		Model:        wireResp.Model,
		LatencyMs:    int(time.Since(start).Milliseconds()),
		TokensUsed: TokenUsage{
			Prompt:     wireResp.Usage.PromptTokens,
			Completion: wireResp.Usage.CompletionTokens,
			Total:      wireResp.Usage.TotalTokens,
		},
	}, nil
}

// statusError maps HTTP status codes to LLM error kinds.
func statusError(status int, body []byte) *LLMError {
	msg := fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), 300))
	switch {
	case status == http.StatusTooManyRequests:
		return &LLMError{Code: ErrRateLimit, Message: msg}
	case status == http.StatusServiceUnavailable, status == http.StatusNotFound:
		// vLLM answers 404/503 while the model is still loading.
		return &LLMError{Code: ErrModelNotReady, Message: msg}
	case status >= 500:
		return &LLMError{Code: ErrUnavailable, Message: msg}
	default:
		return &LLMError{Code: ErrUnavailable, Message: msg}
	}
}

func ctxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &LLMError{Code: ErrTimeout, Message: "request timeout"}
	}
	return ctx.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsAvailable probes the server health endpoint.
func (c *HTTPClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
