// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tier classifies a model by billing class.
type Tier string

const (
	// TierFree models cost nothing per token and are tried first.
	TierFree Tier = "free"

	// TierPremium models are billed per token and serve as fallback.
	TierPremium Tier = "premium"
)

// ModelSpec is the static catalog entry for one known model.
// Per-token rates are stored in cents per 1K tokens to avoid accumulating
// floating point error in the pricing tables.
type ModelSpec struct {
	// Name is the provider-specific model identifier.
	Name string `yaml:"name" json:"name"`

	// Provider names the adapter that serves this model.
	Provider string `yaml:"provider" json:"provider"`

	// Tier is "free" or "premium".
	Tier Tier `yaml:"tier" json:"tier"`

	// QualityRank orders models within a tier; lower is better.
	QualityRank int `yaml:"quality_rank" json:"quality_rank"`

	// PromptCostPer1K is the prompt-token rate in cents per 1K tokens.
	PromptCostPer1K int `yaml:"prompt_cost_per_1k" json:"prompt_cost_per_1k"`

	// CompletionCostPer1K is the completion-token rate in cents per 1K tokens.
	CompletionCostPer1K int `yaml:"completion_cost_per_1k" json:"completion_cost_per_1k"`
}

// IsFree reports whether the model belongs to the free tier.
func (m ModelSpec) IsFree() bool {
	return m.Tier == TierFree
}

// Catalog is the static registry of known models.
type Catalog struct {
	models []ModelSpec
	byName map[string]ModelSpec
}

// NewCatalog builds a catalog from the given specs.
// Returns an error on duplicate model names or unknown tiers.
func NewCatalog(models []ModelSpec) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]ModelSpec, len(models))}
	for _, m := range models {
		if m.Name == "" || m.Provider == "" {
			return nil, fmt.Errorf("catalog entry missing name or provider: %+v", m)
		}
		if m.Tier != TierFree && m.Tier != TierPremium {
			return nil, fmt.Errorf("catalog entry %q has unknown tier %q", m.Name, m.Tier)
		}
		if _, dup := c.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", m.Name)
		}
		c.byName[m.Name] = m
		c.models = append(c.models, m)
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog file with a top-level "models" list.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var doc struct {
		Models []ModelSpec `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return NewCatalog(doc.Models)
}

// DefaultCatalog returns the built-in model registry used when no catalog
// file is configured.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]ModelSpec{
		// Free tier, served through OpenRouter.
		{Name: "z-ai/glm-4.5-air:free", Provider: "openrouter", Tier: TierFree, QualityRank: 1},
		{Name: "tngtech/deepseek-r1t2-chimera:free", Provider: "openrouter", Tier: TierFree, QualityRank: 2},
		{Name: "qwen/qwen3-coder:free", Provider: "openrouter", Tier: TierFree, QualityRank: 3},
		{Name: "moonshotai/kimi-k2:free", Provider: "openrouter", Tier: TierFree, QualityRank: 4},
		{Name: "google/gemma-3n-e2b-it:free", Provider: "openrouter", Tier: TierFree, QualityRank: 5},

		// Premium tier.
		{Name: "claude-3-5-sonnet-20241022", Provider: "anthropic", Tier: TierPremium, QualityRank: 1,
			PromptCostPer1K: 300, CompletionCostPer1K: 1500},
		{Name: "openai/gpt-4o", Provider: "openrouter", Tier: TierPremium, QualityRank: 2,
			PromptCostPer1K: 250, CompletionCostPer1K: 1000},
		{Name: "anthropic.claude-3-5-sonnet-20240620-v1:0", Provider: "bedrock", Tier: TierPremium, QualityRank: 3,
			PromptCostPer1K: 300, CompletionCostPer1K: 1500},
	})
	if err != nil {
		// The built-in table is validated by tests; a failure here is a bug.
		panic(err)
	}
	return c
}

// Get returns the spec for a model by name.
func (c *Catalog) Get(name string) (ModelSpec, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// Models returns all catalog entries in candidate order (free tier first,
// quality rank ascending within each tier, name as the final tiebreak).
func (c *Catalog) Models() []ModelSpec {
	out := make([]ModelSpec, len(c.models))
	copy(out, c.models)
	sortCandidates(out)
	return out
}

// Candidates builds the ordered candidate walk for one request.
//
// If force is non-empty only that model is returned (diagnostics path).
// Otherwise free models come first and premium models after, each group
// ordered by quality rank; preferPremium flips the group order for requests
// that warrant a premium-first walk. The ordering is fully deterministic for
// a fixed catalog and fixed inputs.
func (c *Catalog) Candidates(force string, preferPremium bool) ([]ModelSpec, error) {
	if force != "" {
		m, ok := c.byName[force]
		if !ok {
			return nil, NewProviderError("catalog", ErrCodeModelNotFound,
				fmt.Sprintf("model %q is not in the catalog", force))
		}
		return []ModelSpec{m}, nil
	}

	ordered := c.Models()
	if !preferPremium {
		return ordered, nil
	}

	premium := make([]ModelSpec, 0, len(ordered))
	free := make([]ModelSpec, 0, len(ordered))
	for _, m := range ordered {
		if m.IsFree() {
			free = append(free, m)
		} else {
			premium = append(premium, m)
		}
	}
	return append(premium, free...), nil
}

// Cost computes the dollar cost for a completed call against a model's
// catalog rates. Free-tier models always cost zero.
func (c *Catalog) Cost(model string, usage UsageStats) float64 {
	m, ok := c.byName[model]
	if !ok || m.IsFree() {
		return 0
	}
	promptCents := float64(usage.PromptTokens) * float64(m.PromptCostPer1K) / 1000
	completionCents := float64(usage.CompletionTokens) * float64(m.CompletionCostPer1K) / 1000
	return (promptCents + completionCents) / 100
}

func sortCandidates(models []ModelSpec) {
	sort.SliceStable(models, func(i, j int) bool {
		a, b := models[i], models[j]
		if a.IsFree() != b.IsFree() {
			return a.IsFree()
		}
		if a.QualityRank != b.QualityRank {
			return a.QualityRank < b.QualityRank
		}
		return a.Name < b.Name
	})
}
