// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	searchCacheTTL  = time.Hour
	recentPostsKey  = "posts:recent"
	recentPostsKeep = 50
)

// SearchCache memoizes web search results so repeated advances of the same
// run (idempotent re-execution) do not burn search quota.
type SearchCache struct {
	rdb *redis.Client
}

// NewSearchCache creates a cache over a redis client.
func NewSearchCache(rdb *redis.Client) *SearchCache {
	return &SearchCache{rdb: rdb}
}

func searchKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "search:" + hex.EncodeToString(sum[:16])
}

// Get returns cached results for the query, or (nil, false) on a miss.
func (c *SearchCache) Get(ctx context.Context, query string) ([]Source, bool) {
	data, err := c.rdb.Get(ctx, searchKey(query)).Bytes()
	if err != nil {
		return nil, false
	}
	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, false
	}
	return sources, true
}

// Put stores results for the query. Failures are ignored; the cache is an
// optimization, not a source of truth.
func (c *SearchCache) Put(ctx context.Context, query string, sources []Source) {
	data, err := json.Marshal(sources)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, searchKey(query), data, searchCacheTTL)
}

// PublishedPost is the stored record of one published article, kept for
// duplicate detection and the store publishing fallback.
type PublishedPost struct {
	Slug            string      `json:"slug"`
	Title           string      `json:"title"`
	Markdown        string      `json:"markdown"`
	HTML            string      `json:"html,omitempty"`
	MetaDescription string      `json:"metaDescription,omitempty"`
	Keywords        []string    `json:"keywords,omitempty"`
	Embeddings      [][]float64 `json:"embeddings,omitempty"`
	PublishedAt     time.Time   `json:"publishedAt"`
}

// PostStore persists published posts and serves the recent-post window the
// quality gate checks for duplicates.
type PostStore interface {
	SavePost(ctx context.Context, post *PublishedPost) error
	RecentPosts(ctx context.Context, limit int) ([]*PublishedPost, error)
}

// RedisPostStore keeps published posts in redis: one key per post plus a
// capped recency list of slugs.
type RedisPostStore struct {
	rdb *redis.Client
}

// NewRedisPostStore creates a post store over a redis client.
func NewRedisPostStore(rdb *redis.Client) *RedisPostStore {
	return &RedisPostStore{rdb: rdb}
}

func postKey(slug string) string {
	return "posts:" + slug
}

func (s *RedisPostStore) SavePost(ctx context.Context, post *PublishedPost) error {
	if post.Slug == "" {
		return &ValidationError{Field: "slug", Message: "required"}
	}
	data, err := json.Marshal(post)
	if err != nil {
		return &StorageError{Op: "save-post", Cause: err}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, postKey(post.Slug), data, 0)
	pipe.LRem(ctx, recentPostsKey, 0, post.Slug)
	pipe.LPush(ctx, recentPostsKey, post.Slug)
	pipe.LTrim(ctx, recentPostsKey, 0, recentPostsKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return &StorageError{Op: "save-post", Cause: err}
	}
	return nil
}

func (s *RedisPostStore) RecentPosts(ctx context.Context, limit int) ([]*PublishedPost, error) {
	if limit <= 0 || limit > recentPostsKeep {
		limit = recentPostsKeep
	}
	slugs, err := s.rdb.LRange(ctx, recentPostsKey, 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, &StorageError{Op: "recent-posts", Cause: err}
	}

	posts := make([]*PublishedPost, 0, len(slugs))
	for _, slug := range slugs {
		data, err := s.rdb.Get(ctx, postKey(slug)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // trimmed post, stale list entry
		}
		if err != nil {
			return nil, &StorageError{Op: "recent-posts", Cause: fmt.Errorf("post %s: %w", slug, err)}
		}
		var post PublishedPost
		if err := json.Unmarshal(data, &post); err != nil {
			continue
		}
		posts = append(posts, &post)
	}
	return posts, nil
}
