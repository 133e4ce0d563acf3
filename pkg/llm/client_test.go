package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionBody(content, finishReason string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":    "cmpl-1",
		"model": "llama-3.1-70b-instruct",
		"choices": []map[string]interface{}{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": finishReason},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	})
	return string(b)
}

func TestGenerateChatCompletion(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var wire chatWireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "llama-3.1-70b-instruct", wire.Model)
		assert.Equal(t, 2048, wire.MaxTokens)

		w.Write([]byte(completionBody("Judge Smith presided.", "stop")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "llama-3.1-70b-instruct", APIKey: "secret"})
	resp, err := c.GenerateChatCompletion(context.Background(), ChatRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, "Judge Smith presided.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 120, resp.TokensUsed.Total)
}

func TestJSONModeRepairsContent(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("```json\n{\"entities\": [],}\n```", "stop")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m"})
	resp, err := c.GenerateChatCompletion(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "extract"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.False(t, resp.Malformed)
	assert.JSONEq(t, `{"entities": []}`, resp.Content)
}

func TestJSONModeMarksMalformed(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("not json at all", "stop")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m"})
	resp, err := c.GenerateChatCompletion(context.Background(), ChatRequest{JSONMode: true})
	require.NoError(t, err, "malformed JSON is the caller's decision, not an error")
	assert.True(t, resp.Malformed)
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(completionBody("ok", "stop")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m", MaxRetries: 2})
	resp, err := c.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimeoutIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(completionBody("late", "stop")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m", MaxRetries: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GenerateChatCompletion(ctx, ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		status int
		want   LLMErrorCode
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusServiceUnavailable, ErrModelNotReady},
		{http.StatusBadGateway, ErrUnavailable},
		{http.StatusBadRequest, ErrUnavailable},
	}
	for _, tt := range tests {
		err := statusError(tt.status, []byte("x"))
		assert.Equal(t, tt.want, err.Code, "status %d", tt.status)
	}
}

func TestTokenLimitTruncation(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody(`{"entities": [`, "length")))
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m"})
	_, err := c.GenerateChatCompletion(context.Background(), ChatRequest{JSONMode: true})
	require.Error(t, err)
	assert.Equal(t, ErrTokenLimit, CodeOf(err))
}

func TestIsAvailable(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewHTTPClient(ClientOptions{BaseURL: srv.URL, Model: "m"})
	assert.True(t, c.IsAvailable(context.Background()))
}
