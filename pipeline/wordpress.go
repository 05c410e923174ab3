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

// Publisher pushes a finished article to its destination and returns the
// public URL.
type Publisher interface {
	Publish(ctx context.Context, post *PublishedPost) (string, error)
}

// WordPressPublisher posts articles to the WordPress REST API using an
// application password over basic auth.
type WordPressPublisher struct {
	baseURL  string
	username string
	password string
	client   HTTPDoer
}

// WordPressConfig configures the publisher.
type WordPressConfig struct {
	BaseURL  string   // Required: site root, e.g. https://blog.example.com
	Username string   // Required
	Password string   // Required: application password
	Client   HTTPDoer // Optional: HTTP client override
}

// NewWordPressPublisher creates a publisher against a WordPress site.
func NewWordPressPublisher(cfg WordPressConfig) (*WordPressPublisher, error) {
	if cfg.BaseURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("wordpress base URL, username, and password are required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &WordPressPublisher{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   cfg.Client,
	}, nil
}

type wpPostRequest struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Content string `json:"content"`
	Status  string `json:"status"`
	Excerpt string `json:"excerpt,omitempty"`
}

type wpPostResponse struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

// Publish creates a published post and returns its public link.
func (p *WordPressPublisher) Publish(ctx context.Context, post *PublishedPost) (string, error) {
	body, err := json.Marshal(wpPostRequest{
		Title:   post.Title,
		Slug:    post.Slug,
		Content: post.HTML,
		Status:  "publish",
		Excerpt: post.MetaDescription,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/wp-json/wp/v2/posts", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.username, p.password)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wordpress request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("wordpress API error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var wpResp wpPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&wpResp); err != nil {
		return "", fmt.Errorf("failed to decode wordpress response: %w", err)
	}
	if wpResp.Link != "" {
		return wpResp.Link, nil
	}
	return p.baseURL + "/" + post.Slug, nil
}
