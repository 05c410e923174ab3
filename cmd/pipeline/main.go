// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the KraftContent pipeline service.
//
// The service runs the six-stage content pipeline (topic-scout, brief,
// writer, gate, editor, publish) and serves the multi-provider chat API
// with free-first model routing.
//
// Usage:
//
//	./pipeline
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - redis connection string
//	JWT_SECRET - secret for admin token validation
//	CRON_API_KEY - key for the scheduler advancing runs
//	ANTHROPIC_API_KEY, OPENROUTER_API_KEY, BEDROCK_REGION - LLM providers
//	TAVILY_API_KEY - web search for the topic scout
package main

import (
	"kraftcontent/platform/server"
)

func main() {
	server.Run()
}
