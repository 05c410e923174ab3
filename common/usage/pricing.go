// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"fmt"
	"strings"
)

// LLM provider pricing as of August 2026
// Prices stored in cents per 1K tokens to avoid floating point issues
// All prices are USD

// ProviderPricing contains pricing for a specific model
type ProviderPricing struct {
	PromptCostPer1K     int // cents per 1K prompt tokens
	CompletionCostPer1K int // cents per 1K completion tokens
}

// providerPricing maps provider-model combinations to pricing
var providerPricing = map[string]ProviderPricing{
	// Anthropic direct API
	"anthropic-claude-3-5-sonnet-20241022": {300, 1500}, // $0.003/$0.015 per 1K tokens
	"anthropic-claude-3-5-haiku-20241022":  {25, 125},   // $0.00025/$0.00125 per 1K tokens

	// OpenRouter premium passthrough
	"openrouter-openai/gpt-4o":      {250, 1000}, // $0.0025/$0.01 per 1K tokens
	"openrouter-openai/gpt-4o-mini": {15, 60},    // $0.00015/$0.0006 per 1K tokens

	// AWS Bedrock
	"bedrock-anthropic.claude-3-5-sonnet-20240620-v1:0": {300, 1500},

	// Default fallback pricing (conservative estimate)
	"default": {1000, 3000}, // $0.01/$0.03 per 1K tokens
}

// CalculateCost calculates the cost in cents for an LLM request.
// Free-tier OpenRouter models (":free" suffix) always cost zero.
// Returns cost in cents (integer) to avoid floating point precision issues.
func CalculateCost(provider, model string, promptTokens, completionTokens int) int {
	if strings.HasSuffix(model, ":free") {
		return 0
	}

	key := provider + "-" + model
	pricing, ok := providerPricing[key]
	if !ok {
		pricing = providerPricing["default"]
	}

	promptCost := (promptTokens * pricing.PromptCostPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCostPer1K) / 1000

	return promptCost + completionCost
}

// GetProviderPricing returns the pricing for a specific provider-model combination
func GetProviderPricing(provider, model string) (ProviderPricing, bool) {
	pricing, ok := providerPricing[provider+"-"+model]
	return pricing, ok
}

// FormatCostToDollars converts cents to dollar string (e.g., 135 cents -> "$1.35")
func FormatCostToDollars(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
