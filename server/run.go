// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver

	"kraftcontent/platform/common/usage"
	"kraftcontent/platform/pipeline"
	"kraftcontent/platform/pipeline/llm"
	"kraftcontent/platform/pipeline/llm/anthropic"
	"kraftcontent/platform/pipeline/llm/bedrock"
	"kraftcontent/platform/pipeline/llm/openrouter"
	"kraftcontent/platform/shared/logger"
)

// Run is the exported entry point for the content pipeline service.
//
// It loads configuration, connects storage, builds the LLM router and
// stage executors, and serves HTTP until shut down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - DATABASE_URL: PostgreSQL connection string (optional; in-memory runs without it)
//   - REDIS_URL: redis connection string (optional; disables cache and store publishing)
//   - JWT_SECRET, CRON_API_KEY: auth material (required)
//   - ANTHROPIC_API_KEY, OPENROUTER_API_KEY, BEDROCK_REGION: LLM providers
//   - OPENAI_API_KEY: embeddings for the duplicate check (optional)
//   - TAVILY_API_KEY: web search (required)
//   - WORDPRESS_URL, WORDPRESS_USER, WORDPRESS_APP_PASSWORD: publishing target (optional)
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	appLog := logger.New("pipeline")
	instanceID := os.Getenv("HOSTNAME")

	db := openDatabase(cfg)
	rdb := openRedis(cfg)
	recorder := usage.NewRecorder(db)

	router, err := buildRouter(cfg, recorder, instanceID)
	if err != nil {
		log.Fatalf("router initialization failed: %v", err)
	}

	orc, err := buildOrchestrator(cfg, db, rdb, router, appLog)
	if err != nil {
		log.Fatalf("orchestrator initialization failed: %v", err)
	}

	srv := NewServer(cfg, orc, router, recorder, appLog, instanceID)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func openDatabase(cfg *Config) *sql.DB {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set; using in-memory run store, usage metering disabled")
		return nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: failed to open database: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Printf("warning: failed to ping database: %v", err)
		_ = db.Close()
		return nil
	}
	log.Println("PostgreSQL connected")
	return db
}

func openRedis(cfg *Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Println("REDIS_URL not set; search cache and store publishing disabled")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("warning: invalid REDIS_URL: %v", err)
		return nil
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warning: failed to ping redis: %v", err)
		_ = rdb.Close()
		return nil
	}
	log.Println("Redis connected")
	return rdb
}

// buildRouter constructs the LLM router from whichever providers are
// configured. Unconfigured providers are simply absent; the router skips
// catalog models it has no provider for.
func buildRouter(cfg *Config, recorder *usage.Recorder, instanceID string) (*llm.Router, error) {
	providers := make(map[string]llm.Provider)

	if cfg.AnthropicAPIKey != "" {
		p, err := anthropic.NewProvider(anthropic.Config{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		providers[p.Name()] = p
		log.Println("Anthropic provider enabled")
	}
	if cfg.OpenRouterAPIKey != "" {
		p, err := openrouter.NewProvider(openrouter.Config{
			APIKey:   cfg.OpenRouterAPIKey,
			Referer:  cfg.SiteURL,
			AppTitle: "KraftContent",
		})
		if err != nil {
			return nil, fmt.Errorf("openrouter: %w", err)
		}
		providers[p.Name()] = p
		log.Println("OpenRouter provider enabled")
	}
	if cfg.BedrockRegion != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := bedrock.NewProvider(ctx, bedrock.Config{Region: cfg.BedrockRegion})
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		providers[p.Name()] = p
		log.Println("Bedrock provider enabled")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured")
	}

	opts := []llm.RouterOption{
		llm.WithUsageSink(&recorderSink{recorder: recorder, instanceID: instanceID}),
	}
	if cfg.ModelCatalogFile != "" {
		catalog, err := llm.LoadCatalog(cfg.ModelCatalogFile)
		if err != nil {
			return nil, fmt.Errorf("model catalog: %w", err)
		}
		opts = append(opts, llm.WithCatalog(catalog))
		log.Printf("model catalog loaded from %s", cfg.ModelCatalogFile)
	}

	return llm.NewRouter(providers, opts...), nil
}

func buildOrchestrator(cfg *Config, db *sql.DB, rdb *redis.Client, router *llm.Router, appLog *logger.Logger) (*pipeline.Orchestrator, error) {
	var store pipeline.RunStore
	if db != nil {
		store = pipeline.NewPostgresRunStore(db)
	} else {
		store = pipeline.NewInMemoryRunStore()
	}

	var cache *pipeline.SearchCache
	var posts pipeline.PostStore
	if rdb != nil {
		cache = pipeline.NewSearchCache(rdb)
		posts = pipeline.NewRedisPostStore(rdb)
	}

	search, err := pipeline.NewTavilyClient(pipeline.TavilyConfig{
		APIKey: cfg.TavilyAPIKey,
		Cache:  cache,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	var embedder pipeline.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder, err = pipeline.NewOpenAIEmbedder(pipeline.OpenAIEmbedderConfig{APIKey: cfg.OpenAIAPIKey})
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
	} else {
		embedder = pipeline.NewHashingEmbedder()
		log.Println("OPENAI_API_KEY not set; using local hashing embedder for duplicate checks")
	}

	var publisher pipeline.Publisher
	if cfg.WordPressEnabled() {
		publisher, err = pipeline.NewWordPressPublisher(pipeline.WordPressConfig{
			BaseURL:  cfg.WordPressURL,
			Username: cfg.WordPressUser,
			Password: cfg.WordPressPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wordpress: %w", err)
		}
		log.Println("WordPress publishing enabled")
	}

	executors := []pipeline.StageExecutor{
		&pipeline.ScoutExecutor{LLM: router, Search: search},
		&pipeline.BriefExecutor{LLM: router},
		&pipeline.WriterExecutor{LLM: router},
		&pipeline.GateExecutor{LLM: router, Embedder: embedder, Posts: posts},
		&pipeline.EditorExecutor{LLM: router},
		&pipeline.PublishExecutor{Publisher: publisher, Posts: posts, SiteURL: cfg.SiteURL},
	}
	return pipeline.NewOrchestrator(store, executors, appLog)
}

// recorderSink adapts the usage recorder to the router's sink interface.
type recorderSink struct {
	recorder   *usage.Recorder
	instanceID string
}

func (s *recorderSink) RecordUsage(_ context.Context, model, provider string, stats llm.UsageStats, _ float64) {
	_ = s.recorder.RecordLLMRequest(usage.LLMRequestEvent{
		InstanceID:       s.instanceID,
		LLMProvider:      provider,
		LLMModel:         model,
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		TotalTokens:      stats.TotalTokens,
	})
}
