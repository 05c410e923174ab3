// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package openrouter

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
}

func TestComplete_Success(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://kraftcontent.example", r.Header.Get("HTTP-Referer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "z-ai/glm-4.5-air:free",
			"choices": [{"message": {"role": "assistant", "content": "free answer"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
		}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Referer: "https://kraftcontent.example",
	})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "be nice",
		Model:        "z-ai/glm-4.5-air:free",
	})
	require.NoError(t, err)
	assert.Equal(t, "free answer", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 30, resp.Usage.TotalTokens)

	// System prompt rides as the leading message.
	require.NotEmpty(t, gotReq.Messages)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "hi", gotReq.Messages[len(gotReq.Messages)-1].Content)
}

func TestComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "m", "choices": []}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "m"})
	require.Error(t, err)
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeServerError, perr.Code)
}

func TestComplete_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "rate limited on free tier"}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "m"})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeRateLimit, perr.Code)
	assert.True(t, perr.Retryable)
	assert.Contains(t, perr.Message, "rate limited")
}

func TestCompleteStream_DeliversDeltas(t *testing.T) {
	sse := "" +
		`data: {"model":"z-ai/glm-4.5-air:free","choices":[{"delta":{"content":"str"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"eam"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}` + "\n\n" +
		"data: [DONE]\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	var got string
	var doneSeen bool
	resp, err := p.CompleteStream(context.Background(), llm.CompletionRequest{
		Prompt: "hi", Model: "z-ai/glm-4.5-air:free",
	}, func(c llm.StreamChunk) error {
		switch c.Type {
		case "content":
			got += c.Content
		case "done":
			doneSeen = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stream", resp.Content)
	assert.Equal(t, "stream", got)
	assert.True(t, doneSeen)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestComplete_ConnectionRefused(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi", Model: "m"})
	require.Error(t, err)
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeUnavailable, perr.Code)
}
