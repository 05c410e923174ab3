// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

// Package bedrock implements the llm.Provider interface against AWS
// Bedrock using the AWS SDK v2 runtime client. Authentication goes
// through the standard AWS credential chain (IAM roles, env, profiles).
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"kraftcontent/platform/pipeline/llm"
)

const (
	// DefaultRegion is used when no region is configured.
	DefaultRegion = "us-east-1"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 4096

	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeClient is the subset of the Bedrock runtime client used by the
// provider (enables testing).
type InvokeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.Provider for AWS Bedrock. Streaming is not
// supported; the router emulates it from buffered completions.
type Provider struct {
	client  InvokeClient
	region  string
	healthy bool
	mu      sync.RWMutex
}

// Config contains configuration for the Bedrock provider.
type Config struct {
	Region string       // Optional: AWS region (default: us-east-1)
	Client InvokeClient // Optional: runtime client override
}

// NewProvider creates a new Bedrock provider, loading AWS credentials
// from the default chain unless a client override is given.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
		}
		cfg.Client = bedrockruntime.NewFromConfig(awsCfg)
	}

	return &Provider{
		client:  cfg.Client,
		region:  cfg.Region,
		healthy: true,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "bedrock"
}

// SupportsStreaming indicates if the provider supports streaming.
func (p *Provider) SupportsStreaming() bool {
	return false
}

// IsHealthy returns whether the provider is healthy.
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// Complete generates a buffered completion via InvokeModel.
// Only the Anthropic model family is supported.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	if !strings.HasPrefix(req.Model, "anthropic.") {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeModelNotFound,
			fmt.Sprintf("unsupported model family for %q", req.Model))
	}

	requestJSON, err := json.Marshal(p.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		return nil, &llm.ProviderError{
			Provider:  p.Name(),
			Code:      llm.ErrCodeUnavailable,
			Message:   "invoke failed",
			Retryable: true,
			Cause:     err,
		}
	}
	p.setHealthy(true)

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		content.WriteString(block.Text)
	}

	return &llm.CompletionResponse{
		Content:      content.String(),
		Model:        req.Model,
		FinishReason: resp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func (p *Provider) buildBody(req llm.CompletionRequest) claudeRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]claudeMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, claudeMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, claudeMessage{Role: "user", Content: req.Prompt})

	body := claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Messages:         messages,
		System:           req.SystemPrompt,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	return body
}

// Internal API types for the Bedrock Anthropic family.

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
	System           string          `json:"system,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
