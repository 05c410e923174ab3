// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kraftcontent/platform/pipeline/llm"
)

// errUnusableModelResponse marks content that came back but could not be
// decoded. Callers may fall back on it; transport and routing errors
// pass through untouched and fail the step.
var errUnusableModelResponse = errors.New("unusable model response")

// ChatCompleter is the slice of the LLM router the stage executors use.
type ChatCompleter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// defaultProvinces seeds runs that do not name target provinces.
var defaultProvinces = []string{"BC", "AB", "ON"}

// DefaultProvinces returns the provinces a scheduled run targets when
// the caller names none.
func DefaultProvinces() []string {
	return append([]string(nil), defaultProvinces...)
}

func provincesOrDefault(run *Run) []string {
	if len(run.TargetProvinces) > 0 {
		return run.TargetProvinces
	}
	return append([]string(nil), defaultProvinces...)
}

// completeJSON asks the model for a JSON object and decodes it into out.
// Models wrap JSON in prose or code fences often enough that the decoder
// scans for the outermost object instead of trusting the raw content.
func completeJSON(ctx context.Context, c ChatCompleter, system, prompt string, temperature float64, out interface{}) error {
	resp, err := c.Chat(ctx, llm.ChatRequest{
		Message:      prompt,
		SystemPrompt: system,
		Temperature:  temperature,
		MaxTokens:    2048,
	})
	if err != nil {
		return err
	}
	return decodeJSONBlock(resp.Content, out)
}

func decodeJSONBlock(content string, out interface{}) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("%w: no JSON object in content", errUnusableModelResponse)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", errUnusableModelResponse, err)
	}
	return nil
}
