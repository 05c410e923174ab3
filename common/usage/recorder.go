// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"database/sql"
	"log"
)

// Recorder persists usage events to PostgreSQL. A nil database makes every
// method a no-op so deployments without metering keep working.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a usage recorder with a database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// APICallEvent represents one inbound HTTP request to be recorded.
type APICallEvent struct {
	InstanceID     string
	HTTPMethod     string
	HTTPPath       string
	HTTPStatusCode int
	LatencyMs      int64
}

// RecordAPICall records an API call event to the database.
// Errors are logged but never block request handling.
func (r *Recorder) RecordAPICall(event APICallEvent) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.Exec(`
		INSERT INTO usage_events (
			event_type, instance_id, http_method, http_path,
			http_status_code, latency_ms
		) VALUES ('api_call', $1, $2, $3, $4, $5)
	`, event.InstanceID, event.HTTPMethod, event.HTTPPath,
		event.HTTPStatusCode, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record API call: %v", err)
	}
	return err
}

// LLMRequestEvent represents one routed LLM call to be recorded.
type LLMRequestEvent struct {
	InstanceID       string
	RunID            string // Optional: pipeline run that triggered the call
	LLMProvider      string // "anthropic", "openrouter", "bedrock"
	LLMModel         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
}

// RecordLLMRequest records an LLM call event with token usage and cost.
// Errors are logged but never block request handling.
func (r *Recorder) RecordLLMRequest(event LLMRequestEvent) error {
	if r.db == nil {
		return nil
	}
	costCents := CalculateCost(event.LLMProvider, event.LLMModel,
		event.PromptTokens, event.CompletionTokens)

	_, err := r.db.Exec(`
		INSERT INTO usage_events (
			event_type, instance_id, run_id, llm_provider, llm_model,
			prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_cents, latency_ms
		) VALUES ('llm_request', $1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.InstanceID, nullString(event.RunID), event.LLMProvider,
		event.LLMModel, event.PromptTokens, event.CompletionTokens,
		event.TotalTokens, costCents, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record LLM request: %v", err)
	}
	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
