// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

// Package llm provides a unified interface and multi-provider routing for LLM
// completions. It defines the common request/response abstractions shared by
// all provider implementations, a static model catalog, and the Router that
// walks an ordered candidate list until one provider succeeds.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Turn is a single message in a conversation history.
type Turn struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRequest encapsulates all parameters for a completion request.
// This is the unified request type used across all providers.
type CompletionRequest struct {
	// Prompt is the user's input text/question.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// History contains prior conversation turns, oldest first.
	History []Turn `json:"history,omitempty"`

	// Model is the model identifier to use. Format is provider-specific.
	Model string `json:"model,omitempty"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, provider defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64 `json:"temperature,omitempty"`

	// Stream enables streaming response mode.
	Stream bool `json:"stream,omitempty"`
}

// CompletionResponse contains the result of a completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for billing and monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single event in a streaming response.
type StreamChunk struct {
	// Type identifies the chunk: "selected", "content" or "done".
	Type string `json:"type"`

	// Content is the text content for "content" chunks.
	Content string `json:"content,omitempty"`

	// Done indicates this is the final chunk.
	Done bool `json:"done"`

	// Metadata is populated on "selected" chunks, before any content flows,
	// so callers can echo routing information ahead of the byte stream.
	Metadata *ChatMetadata `json:"metadata,omitempty"`
}

// StreamHandler is a callback invoked for each streaming chunk.
// Returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// Provider is the uniform call contract to one AI backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier used by the catalog
	// (e.g. "anthropic", "openrouter", "bedrock").
	Name() string

	// Complete generates a buffered completion for the given request.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// SupportsStreaming indicates whether CompleteStream is available.
	// Providers that return true must also implement StreamingProvider.
	SupportsStreaming() bool

	// IsHealthy reports whether the provider believes it is operational.
	IsHealthy() bool
}

// StreamingProvider extends Provider with token-incremental delivery.
type StreamingProvider interface {
	Provider

	// CompleteStream generates a streaming completion, invoking handler for
	// each chunk and returning the aggregated response.
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error)
}

// ProviderError represents a classified error from an LLM provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried elsewhere.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "authentication_error"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
)

// NewProviderError creates a ProviderError with Retryable derived from code.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// NoProviderAvailableError is returned when the candidate walk exhausts every
// (provider, model) pair without a successful completion.
type NoProviderAvailableError struct {
	// Attempts is the number of candidates actually tried.
	Attempts int

	// LastErr is the error from the final attempt, if any.
	LastErr error
}

func (e *NoProviderAvailableError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("no LLM provider available after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("no LLM provider available after %d attempts", e.Attempts)
}

func (e *NoProviderAvailableError) Unwrap() error {
	return e.LastErr
}

// StreamInterruptedError is returned when a provider stream fails after
// content has already been delivered to the caller. It is terminal: partial
// output may be visible, so the call is not retried on another candidate.
type StreamInterruptedError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream from %s (%s) interrupted: %v", e.Provider, e.Model, e.Cause)
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.Cause
}
