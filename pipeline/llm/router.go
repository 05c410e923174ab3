// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Router walks the model catalog in cost order and dispatches completion
// requests to the provider serving each candidate. Free-tier models are
// tried first; premium models serve as fallback. Every routed call is
// folded into process-wide analytics and, when a sink is configured,
// recorded as a usage event.
type Router struct {
	catalog   *Catalog
	providers map[string]Provider
	analytics *Analytics
	logger    *log.Logger
	sink      UsageSink

	// attemptTimeout bounds a single candidate attempt.
	attemptTimeout time.Duration
}

// UsageSink receives one record per successful routed call. Implementations
// must tolerate concurrent calls.
type UsageSink interface {
	RecordUsage(ctx context.Context, model, provider string, usage UsageStats, cost float64)
}

// ChatRequest is a routed completion request.
type ChatRequest struct {
	// Message is the user prompt.
	Message string `json:"message"`

	// History carries prior conversation turns, oldest first.
	History []Turn `json:"history,omitempty"`

	// ForceModel pins the walk to a single catalog model.
	ForceModel string `json:"forceModel,omitempty"`

	// Province scopes retrieval and prompt context to a region.
	Province string `json:"province,omitempty"`

	// Intent is an optional caller-supplied classification hint.
	Intent string `json:"intent,omitempty"`

	// LeadScore above 70 flips the walk to premium-first.
	LeadScore int `json:"leadScore,omitempty"`

	SystemPrompt string  `json:"systemPrompt,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// ChatMetadata describes how a request was routed.
type ChatMetadata struct {
	ModelUsed      string  `json:"modelUsed"`
	Provider       string  `json:"provider"`
	IsFree         bool    `json:"isFree"`
	Cost           float64 `json:"cost"`
	ResponseTimeMs int64   `json:"responseTime"`

	// Attempts counts every candidate that produced a real attempt,
	// including the one that succeeded.
	Attempts int `json:"attempts"`
}

// ChatResponse is a routed completion result.
type ChatResponse struct {
	Content  string       `json:"content"`
	Metadata ChatMetadata `json:"metadata"`
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithCatalog sets the model catalog.
func WithCatalog(c *Catalog) RouterOption {
	return func(r *Router) { r.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithUsageSink sets the usage event sink.
func WithUsageSink(s UsageSink) RouterOption {
	return func(r *Router) { r.sink = s }
}

// WithAttemptTimeout bounds each candidate attempt.
func WithAttemptTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.attemptTimeout = d }
}

// NewRouter creates a Router over the given providers, keyed by the
// provider name used in the catalog.
func NewRouter(providers map[string]Provider, opts ...RouterOption) *Router {
	r := &Router{
		providers:      providers,
		analytics:      NewAnalytics(),
		attemptTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = DefaultCatalog()
	}
	if r.logger == nil {
		r.logger = log.New(os.Stdout, "[LLM_ROUTER] ", log.LstdFlags)
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	return r
}

// Catalog returns the router's model catalog.
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

// GetAnalytics returns a snapshot of the process-wide routing counters.
func (r *Router) GetAnalytics() AnalyticsSnapshot {
	return r.analytics.Snapshot()
}

// Chat routes a buffered completion through the candidate walk.
//
// Each candidate gets exactly one attempt. Candidates whose provider is not
// configured are skipped without counting as attempts. When every candidate
// has been tried, a NoProviderAvailableError wrapping the last attempt's
// error is returned.
func (r *Router) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	candidates, err := r.catalog.Candidates(req.ForceModel, req.LeadScore > 70)
	if err != nil {
		return nil, err
	}

	// Response time covers the whole walk, failed attempts included.
	start := time.Now()
	attempts := 0
	var lastErr error
	for _, candidate := range candidates {
		provider, ok := r.providers[candidate.Provider]
		if !ok {
			continue
		}
		attempts++

		resp, err := r.completeOnce(ctx, provider, r.buildRequest(req, candidate))
		if err != nil {
			lastErr = err
			r.logger.Printf("model %s on %s failed after %v: %v",
				candidate.Name, candidate.Provider, time.Since(start), err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		meta := r.buildMetadata(candidate, resp, time.Since(start), attempts)
		r.finishSuccess(ctx, candidate, meta, resp.Usage)
		return &ChatResponse{Content: resp.Content, Metadata: meta}, nil
	}

	r.analytics.RecordFailure()
	return nil, &NoProviderAvailableError{Attempts: attempts, LastErr: lastErr}
}

// StreamChat routes a streaming completion through the candidate walk.
//
// Before any content is delivered, failures advance the walk like Chat does.
// Once the first content chunk has reached the handler a failure is terminal
// and surfaces as a StreamInterruptedError. One "selected" chunk carrying
// routing metadata precedes all content so callers can emit headers early;
// cost and response time are finalized in the "done" chunk's metadata.
func (r *Router) StreamChat(ctx context.Context, req ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	candidates, err := r.catalog.Candidates(req.ForceModel, req.LeadScore > 70)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	attempts := 0
	var lastErr error
	for _, candidate := range candidates {
		provider, ok := r.providers[candidate.Provider]
		if !ok {
			continue
		}
		attempts++

		delivered := false
		selected := ChatMetadata{
			ModelUsed: candidate.Name,
			Provider:  candidate.Provider,
			IsFree:    candidate.IsFree(),
			Attempts:  attempts,
		}
		wrapped := func(chunk StreamChunk) error {
			if chunk.Type == "content" && chunk.Content != "" && !delivered {
				delivered = true
				sel := selected
				if err := handler(StreamChunk{Type: "selected", Metadata: &sel}); err != nil {
					return err
				}
			}
			if chunk.Type == "done" {
				// The router emits its own done chunk with final metadata.
				return nil
			}
			return handler(chunk)
		}

		resp, err := r.streamOnce(ctx, provider, r.buildRequest(req, candidate), wrapped)
		if err != nil {
			lastErr = err
			if delivered {
				r.analytics.RecordFailure()
				return nil, &StreamInterruptedError{
					Provider: candidate.Provider,
					Model:    candidate.Name,
					Cause:    err,
				}
			}
			r.logger.Printf("model %s on %s failed before first chunk: %v",
				candidate.Name, candidate.Provider, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		meta := r.buildMetadata(candidate, resp, time.Since(start), attempts)
		if !delivered {
			// Empty completions still report which model ran.
			sel := selected
			if err := handler(StreamChunk{Type: "selected", Metadata: &sel}); err != nil {
				return nil, err
			}
		}
		if err := handler(StreamChunk{Type: "done", Done: true, Metadata: &meta}); err != nil {
			return nil, err
		}
		r.finishSuccess(ctx, candidate, meta, resp.Usage)
		return &ChatResponse{Content: resp.Content, Metadata: meta}, nil
	}

	r.analytics.RecordFailure()
	return nil, &NoProviderAvailableError{Attempts: attempts, LastErr: lastErr}
}

// TestModel runs a one-shot diagnostic completion pinned to a single model.
// Province is optional and scopes the prompt the same way chat requests do.
func (r *Router) TestModel(ctx context.Context, model, message, province string) (*ChatResponse, error) {
	if message == "" {
		message = "Reply with the single word: ok"
	}
	return r.Chat(ctx, ChatRequest{Message: message, ForceModel: model, Province: province, MaxTokens: 32})
}

func (r *Router) buildRequest(req ChatRequest, candidate ModelSpec) CompletionRequest {
	out := CompletionRequest{
		Prompt:       req.Message,
		SystemPrompt: req.SystemPrompt,
		History:      req.History,
		Model:        candidate.Name,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 1024
	}
	if req.Province != "" {
		scope := fmt.Sprintf("Scope all regional guidance to %s.", req.Province)
		if out.SystemPrompt == "" {
			out.SystemPrompt = scope
		} else {
			out.SystemPrompt = strings.TrimSpace(out.SystemPrompt) + "\n" + scope
		}
	}
	return out
}

func (r *Router) completeOnce(ctx context.Context, p Provider, req CompletionRequest) (*CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()
	return p.Complete(attemptCtx, req)
}

// streamOnce streams when the provider supports it and otherwise falls back
// to a buffered completion replayed as a single content chunk.
func (r *Router) streamOnce(ctx context.Context, p Provider, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	if sp, ok := p.(StreamingProvider); ok && p.SupportsStreaming() {
		req.Stream = true
		return sp.CompleteStream(attemptCtx, req, handler)
	}

	resp, err := p.Complete(attemptCtx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := handler(StreamChunk{Type: "content", Content: resp.Content}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (r *Router) buildMetadata(candidate ModelSpec, resp *CompletionResponse, elapsed time.Duration, attempts int) ChatMetadata {
	return ChatMetadata{
		ModelUsed:      candidate.Name,
		Provider:       candidate.Provider,
		IsFree:         candidate.IsFree(),
		Cost:           r.catalog.Cost(candidate.Name, resp.Usage),
		ResponseTimeMs: elapsed.Milliseconds(),
		Attempts:       attempts,
	}
}

func (r *Router) finishSuccess(ctx context.Context, candidate ModelSpec, meta ChatMetadata, usage UsageStats) {
	r.analytics.RecordSuccess(meta)
	if r.sink != nil {
		r.sink.RecordUsage(ctx, candidate.Name, candidate.Provider, usage, meta.Cost)
	}
	r.logger.Printf("routed to %s on %s (free=%t attempts=%d cost=%.6f elapsed=%dms)",
		meta.ModelUsed, meta.Provider, meta.IsFree, meta.Attempts, meta.Cost, meta.ResponseTimeMs)
}
