// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraftcontent/platform/pipeline"
	"kraftcontent/platform/pipeline/llm"
)

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string, extraHeaders map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createRun(t *testing.T, handler http.Handler, token string) string {
	t.Helper()
	rec := doJSON(t, handler, "POST", "/api/v1/runs", token, `{"mode":"auto","targetProvinces":["BC","ON"]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var run pipeline.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)
	return run.ID
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter", content: "hi"}, "")
	rec := doJSON(t, srv.Handler(), "GET", "/health", "", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "kraftcontent-pipeline", body["service"])
}

func TestCreateRunRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()

	rec := doJSON(t, handler, "POST", "/api/v1/runs", "", `{"mode":"auto"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, "POST", "/api/v1/runs", "not-a-token", `{"mode":"auto"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetRun(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "GET", "/api/v1/runs/"+runID, token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run pipeline.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Len(t, run.Steps, 6)
	assert.Equal(t, pipeline.ModeAuto, run.Mode)
}

func TestCreateRunValidation(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/runs", token, `{"mode":"manual-topic"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	rec := doJSON(t, srv.Handler(), "GET", "/api/v1/runs/ghost", token, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvanceWithCronKey(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/advance", "", "",
		map[string]string{"x-api-key": "cron-key-for-scheduler"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, float64(0), res["step"])
	assert.Equal(t, "topic-scout", res["stage"])
	assert.Equal(t, false, res["done"])
}

func TestCronAdvanceCreatesAutoRun(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	cronKey := map[string]string{"x-api-key": "cron-key-for-scheduler"}

	rec := doJSON(t, handler, "POST", "/api/v1/runs/advance", "", "", cronKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, true, res["created"])
	assert.Equal(t, "topic-scout", res["stage"])
	runID, _ := res["runId"].(string)
	require.NotEmpty(t, runID)

	// naming the run advances it instead of creating another
	rec = doJSON(t, handler, "POST", "/api/v1/runs/advance", "",
		`{"runId":"`+runID+`"}`, cronKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, false, res["created"])
	assert.Equal(t, "brief", res["stage"])
	assert.Equal(t, runID, res["runId"])
}

func TestAdvanceRejectsBadCronKey(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/advance", "", "",
		map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDriveToCompletion(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/drive", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, true, res["done"])
	assert.Equal(t, float64(6), res["stepsProcessed"])
	assert.Equal(t, "completed", res["finalStatus"])
}

func TestRetryAfterStepFailure(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, pipeline.StageWriter)
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/drive", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "writer", res["stage"])
	assert.NotEmpty(t, res["error"])

	// retrying on a non-errored run is rejected, on errored it re-queues
	rec = doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/retry", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run pipeline.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, pipeline.StatusQueued, run.Steps[2].Status)
}

func TestRetryRejectsHealthyRun(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/retry", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSuccessSetsRoutingHeaders(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter", content: "Rates are holding."}, "")
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/chat", "", `{"message":"What are mortgage rates doing?"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test/free:free", rec.Header().Get("X-Model-Used"))
	assert.Equal(t, "openrouter", rec.Header().Get("X-Provider"))
	assert.Equal(t, "true", rec.Header().Get("X-Is-Free"))
	assert.Equal(t, "1", rec.Header().Get("X-Attempts"))

	var resp struct {
		llm.ChatResponse
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Rates are holding.", resp.Content)
	assert.True(t, resp.Metadata.IsFree)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestChatRequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/chat", "", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatAllProvidersDown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter", err: errors.New("rate limited")}, "")
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/chat", "", `{"message":"hello"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChatStreaming(t *testing.T) {
	provider := &fakeProvider{
		name: "openrouter",
		chunks: []llm.StreamChunk{
			{Type: "content", Content: "Rates "},
			{Type: "content", Content: "are holding."},
			{Type: "done", Done: true},
		},
	}
	srv, _ := newTestServer(t, provider, "")
	rec := doJSON(t, srv.Handler(), "POST", "/api/v1/chat", "", `{"message":"rates?","stream":true}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"type":"selected"`)
	assert.Contains(t, body, `"type":"content"`)
	assert.Contains(t, body, `"type":"done"`)
	// selected chunk precedes all content
	assert.Less(t, strings.Index(body, `"selected"`), strings.Index(body, `"content":"Rates `))
	assert.Equal(t, "test/free:free", rec.Header().Get("X-Model-Used"))
}

func TestModelsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	rec := doJSON(t, srv.Handler(), "GET", "/api/v1/models", "", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Models []llm.ModelSpec `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Models, 2)
}

func TestTestModelEndpoint(t *testing.T) {
	provider := &fakeProvider{name: "openrouter", content: "ok"}
	srv, token := newTestServer(t, provider, "")
	handler := srv.Handler()

	rec := doJSON(t, handler, "POST", "/api/v1/models/test", token, `{"model":"test/free:free"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, "POST", "/api/v1/models/test", token,
		`{"model":"test/free:free","province":"NS"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, provider.lastReq.SystemPrompt, "Scope all regional guidance to NS.")

	rec = doJSON(t, handler, "POST", "/api/v1/models/test", token, `{"model":"unknown/model"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, "POST", "/api/v1/models/test", token, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRunEndpoint(t *testing.T) {
	srv, token := newTestServer(t, &fakeProvider{name: "openrouter"}, "")
	handler := srv.Handler()
	runID := createRun(t, handler, token)

	// drive to done first so the stream closes after the first emit
	rec := doJSON(t, handler, "POST", "/api/v1/runs/"+runID+"/drive", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/runs/"+runID+"/stream?token="+token, nil)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)

	require.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "text/event-stream", out.Header().Get("Content-Type"))
	assert.Contains(t, out.Body.String(), "event: connected")
	assert.Contains(t, out.Body.String(), "event: complete")
	assert.Contains(t, out.Body.String(), runID)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{name: "openrouter", content: "hi"}, "")
	handler := srv.Handler()

	rec := doJSON(t, handler, "POST", "/api/v1/chat", "", `{"message":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, "GET", "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		LLM llm.AnalyticsSnapshot `json:"llm"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.LLM.TotalQueries)
}
