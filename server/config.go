// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Port string `validate:"required"`

	// DatabaseURL enables the PostgreSQL run store and usage metering.
	// When empty, runs live in memory and metering is disabled.
	DatabaseURL string

	// RedisURL enables the search cache and the published-post store.
	RedisURL string

	// JWTSecret signs admin tokens for the run management endpoints.
	JWTSecret string `validate:"required,min=32"`

	// CronAPIKey authorizes the scheduler that advances runs.
	CronAPIKey string `validate:"required,min=16"`

	// SiteURL is the public base for store-published articles.
	SiteURL string `validate:"required,url"`

	// Provider credentials. A run can operate with any subset; the
	// router skips unconfigured providers.
	AnthropicAPIKey  string
	OpenRouterAPIKey string
	BedrockRegion    string

	// OpenAIAPIKey enables API-backed embeddings for the duplicate
	// check; without it a local hashing embedder is used.
	OpenAIAPIKey string

	// TavilyAPIKey is required for the topic scout's web research.
	TavilyAPIKey string `validate:"required"`

	// WordPress publishing target. All three must be set to enable it.
	WordPressURL      string
	WordPressUser     string
	WordPressPassword string

	// ModelCatalogFile overrides the built-in model catalog.
	ModelCatalogFile string

	AllowedOrigins []string
}

// LoadConfig reads configuration from the environment, after loading a
// local .env file when one exists.
func LoadConfig() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CronAPIKey:  os.Getenv("CRON_API_KEY"),
		SiteURL:     getEnv("SITE_URL", "https://kraftcontent.ca"),

		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		BedrockRegion:    os.Getenv("BEDROCK_REGION"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		TavilyAPIKey:     os.Getenv("TAVILY_API_KEY"),

		WordPressURL:      os.Getenv("WORDPRESS_URL"),
		WordPressUser:     os.Getenv("WORDPRESS_USER"),
		WordPressPassword: os.Getenv("WORDPRESS_APP_PASSWORD"),

		ModelCatalogFile: os.Getenv("MODEL_CATALOG_FILE"),
	}

	origins := getEnv("ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// WordPressEnabled reports whether all WordPress credentials are present.
func (c *Config) WordPressEnabled() bool {
	return c.WordPressURL != "" && c.WordPressUser != "" && c.WordPressPassword != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
