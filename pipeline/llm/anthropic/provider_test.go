// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraftcontent/platform/pipeline/llm"
)

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNewProvider_Defaults(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.SupportsStreaming())
	assert.True(t, p.IsHealthy())
	assert.Equal(t, DefaultBaseURL, p.baseURL)
	assert.Equal(t, DefaultAPIVersion, p.apiVersion)
}

func TestComplete_Success(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "Hello from Claude"}],
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "be brief",
		Model:        "claude-3-5-sonnet-20241022",
		History:      []llm.Turn{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "noted"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from Claude", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	// History turns precede the prompt in order.
	require.Len(t, gotReq.Messages, 3)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "assistant", gotReq.Messages[1].Role)
	assert.Equal(t, "hi", gotReq.Messages[2].Content)
	assert.Equal(t, "be brief", gotReq.System)
}

func TestComplete_RateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "claude-3-5-sonnet-20241022"})
	require.Error(t, err)
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeRateLimit, perr.Code)
	assert.True(t, perr.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Contains(t, perr.Message, "slow down")
}

func TestComplete_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "invalid key"}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "bad-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "claude-3-5-sonnet-20241022"})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeAuth, perr.Code)
	assert.False(t, perr.Retryable)
}

func TestComplete_ServerErrorMarksUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"type": "api_error", "message": "oops"}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "claude-3-5-sonnet-20241022"})
	require.Error(t, err)
	assert.False(t, p.IsHealthy())
}

func TestCompleteStream_DeliversDeltas(t *testing.T) {
	sse := "" +
		"event: message_start\n" +
		`data: {"type":"message_start","message":{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":9}}}` + "\n\n" +
		"event: content_block_delta\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}` + "\n\n" +
		"event: content_block_delta\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}` + "\n\n" +
		"event: message_delta\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}` + "\n\n" +
		"event: message_stop\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	resp, err := p.CompleteStream(context.Background(), llm.CompletionRequest{
		Prompt: "hi", Model: "claude-3-5-sonnet-20241022",
	}, func(c llm.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 9, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	require.Len(t, chunks, 3)
	assert.Equal(t, "content", chunks[0].Type)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "done", chunks[2].Type)
	assert.True(t, chunks[2].Done)
}

func TestCompleteStream_HandlerErrorStopsStream(t *testing.T) {
	sse := "" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}` + "\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.CompleteStream(context.Background(), llm.CompletionRequest{
		Prompt: "hi", Model: "claude-3-5-sonnet-20241022",
	}, func(llm.StreamChunk) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler error")
}

func TestComplete_ConnectionRefused(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "claude-3-5-sonnet-20241022"})
	require.Error(t, err)
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeUnavailable, perr.Code)
	assert.False(t, p.IsHealthy())
}
