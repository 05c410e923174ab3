// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost_KnownModel(t *testing.T) {
	// claude-3-5-sonnet: 300/1500 cents per 1K tokens.
	cost := CalculateCost("anthropic", "claude-3-5-sonnet-20241022", 1000, 1000)
	assert.Equal(t, 1800, cost)

	cost = CalculateCost("anthropic", "claude-3-5-sonnet-20241022", 500, 200)
	assert.Equal(t, 450, cost)
}

func TestCalculateCost_FreeTierIsZero(t *testing.T) {
	cost := CalculateCost("openrouter", "z-ai/glm-4.5-air:free", 100000, 100000)
	assert.Zero(t, cost)
}

func TestCalculateCost_UnknownModelUsesDefault(t *testing.T) {
	// default: 1000/3000 cents per 1K tokens.
	cost := CalculateCost("openrouter", "mystery/model", 1000, 1000)
	assert.Equal(t, 4000, cost)
}

func TestGetProviderPricing(t *testing.T) {
	p, ok := GetProviderPricing("bedrock", "anthropic.claude-3-5-sonnet-20240620-v1:0")
	assert.True(t, ok)
	assert.Equal(t, 300, p.PromptCostPer1K)

	_, ok = GetProviderPricing("nope", "nope")
	assert.False(t, ok)
}

func TestFormatCostToDollars(t *testing.T) {
	assert.Equal(t, "$1.35", FormatCostToDollars(135))
	assert.Equal(t, "$0.00", FormatCostToDollars(0))
}
