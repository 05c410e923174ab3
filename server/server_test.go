// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kraftcontent/platform/pipeline"
	"kraftcontent/platform/pipeline/llm"
	"kraftcontent/platform/shared/logger"
)

// fakeProvider is an in-memory llm.Provider for handler tests.
type fakeProvider struct {
	name    string
	content string
	err     error
	chunks  []llm.StreamChunk
	lastReq llm.CompletionRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{
		Content: f.content,
		Model:   req.Model,
		Usage:   llm.UsageStats{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (f *fakeProvider) CompleteStream(_ context.Context, req llm.CompletionRequest, handler llm.StreamHandler) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var content string
	for _, chunk := range f.chunks {
		if err := handler(chunk); err != nil {
			return nil, err
		}
		if chunk.Type == "content" {
			content += chunk.Content
		}
	}
	return &llm.CompletionResponse{Content: content, Model: req.Model}, nil
}

func (f *fakeProvider) SupportsStreaming() bool { return true }
func (f *fakeProvider) IsHealthy() bool         { return true }

// okExecutor satisfies pipeline.StageExecutor and records nothing.
type okExecutor struct {
	stage pipeline.Stage
	fail  bool
}

func (e *okExecutor) Stage() pipeline.Stage { return e.stage }

func (e *okExecutor) Execute(_ context.Context, _ *pipeline.Run) error {
	if e.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func testConfig() *Config {
	return &Config{
		Port:       "0",
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		CronAPIKey: "cron-key-for-scheduler",
		SiteURL:    "https://kraftcontent.ca",
	}
}

func testRouter(p llm.Provider, content string) *llm.Router {
	catalog, err := llm.NewCatalog([]llm.ModelSpec{
		{Name: "test/free:free", Provider: p.Name(), Tier: llm.TierFree, QualityRank: 1},
		{Name: "test/premium", Provider: p.Name(), Tier: llm.TierPremium, QualityRank: 1,
			PromptCostPer1K: 300, CompletionCostPer1K: 1500},
	})
	if err != nil {
		panic(err)
	}
	_ = content
	return llm.NewRouter(map[string]llm.Provider{p.Name(): p}, llm.WithCatalog(catalog))
}

// newTestServer builds a server over an in-memory orchestrator and a
// fake LLM provider, plus a valid admin token.
func newTestServer(t *testing.T, p llm.Provider, failStage pipeline.Stage) (*Server, string) {
	t.Helper()

	executors := make([]pipeline.StageExecutor, 0, len(pipeline.Stages()))
	for _, stage := range pipeline.Stages() {
		executors = append(executors, &okExecutor{stage: stage, fail: stage == failStage})
	}
	appLog := logger.New("server-test")
	appLog.SetOutput(io.Discard)

	orc, err := pipeline.NewOrchestrator(pipeline.NewInMemoryRunStore(), executors, appLog,
		pipeline.WithDriveDelay(0))
	require.NoError(t, err)

	cfg := testConfig()
	srv := NewServer(cfg, orc, testRouter(p, ""), nil, appLog, "test-instance")

	token, err := IssueAdminToken(cfg.JWTSecret, "ops@kraftcontent.ca", time.Hour)
	require.NoError(t, err)
	return srv, token
}
