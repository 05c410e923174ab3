// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder turns text into vectors for the quality gate's duplicate check.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// CosineSimilarity returns the cosine of the angle between two vectors, or
// 0 when dimensions differ or either vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

const (
	openAIEmbedURL   = "https://api.openai.com/v1/embeddings"
	openAIEmbedModel = "text-embedding-3-small"
	embedDimensions  = 384
)

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	client  HTTPDoer
}

// OpenAIEmbedderConfig configures the embedder.
type OpenAIEmbedderConfig struct {
	APIKey  string   // Required
	BaseURL string   // Optional: override for tests
	Client  HTTPDoer // Optional: HTTP client override
}

// NewOpenAIEmbedder creates an embedder against the OpenAI API.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIEmbedURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIEmbedder{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, client: cfg.Client}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":      openAIEmbedModel,
		"input":      texts,
		"dimensions": embedDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	out := make([][]float64, len(apiResp.Data))
	for i, d := range apiResp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// HashingEmbedder is a deterministic local fallback: a bag-of-words vector
// built with the hashing trick. Far weaker than a learned embedding, but
// stable across runs, which is what the duplicate check needs when no
// embeddings API is configured.
type HashingEmbedder struct {
	Dimensions int
}

// NewHashingEmbedder creates a fallback embedder with the default dimension.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{Dimensions: embedDimensions}
}

func (e *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	dims := e.Dimensions
	if dims <= 0 {
		dims = embedDimensions
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, dims)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,;:!?\"'()[]")
			if word == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[h.Sum32()%uint32(dims)]++
		}
		out[i] = vec
	}
	return out, nil
}
