// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SearchClient finds web sources for the topic scout.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}

const (
	tavilyDefaultBaseURL = "https://api.tavily.com"
	tavilyTimeout        = 30 * time.Second
	snippetMaxLen        = 240
)

// HTTPDoer is the subset of http.Client used by search (enables testing).
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TavilyClient implements SearchClient against the Tavily search API, with
// an optional redis-backed result cache.
type TavilyClient struct {
	apiKey  string
	baseURL string
	client  HTTPDoer
	cache   *SearchCache
}

// TavilyConfig configures the Tavily search client.
type TavilyConfig struct {
	APIKey  string       // Required
	BaseURL string       // Optional: override for tests
	Client  HTTPDoer     // Optional: HTTP client override
	Cache   *SearchCache // Optional: result cache
}

// NewTavilyClient creates a Tavily search client.
func NewTavilyClient(cfg TavilyConfig) (*TavilyClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tavily API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = tavilyDefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: tavilyTimeout}
	}
	return &TavilyClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		cache:   cfg.Cache,
	}, nil
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	IncludeImages bool   `json:"include_images"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one search. Cached results are returned without touching the
// API; fresh results are cached for an hour.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	if maxResults <= 0 {
		maxResults = 6
	}
	if c.cache != nil {
		if sources, ok := c.cache.Get(ctx, query); ok {
			return sources, nil
		}
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tavily API error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var apiResp tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	sources := make([]Source, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		snippet := r.Content
		if len(snippet) > snippetMaxLen {
			snippet = snippet[:snippetMaxLen]
		}
		sources = append(sources, Source{Title: r.Title, URL: r.URL, Snippet: snippet})
	}

	if c.cache != nil && len(sources) > 0 {
		c.cache.Put(ctx, query, sources)
	}
	return sources, nil
}
