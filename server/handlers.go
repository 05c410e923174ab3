// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"kraftcontent/platform/pipeline"
	"kraftcontent/platform/pipeline/llm"
)

const (
	streamPollInterval = 2 * time.Second
	streamMaxDuration  = 10 * time.Minute
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	var nf *pipeline.NotFoundError
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "kraftcontent-pipeline",
		"version":        "1.0.0",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}

// metricsHandler returns the router's cost analytics as JSON. Prometheus
// scraping uses /prometheus instead.
func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"llm":       s.router.GetAnalytics(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) createRunHandler(w http.ResponseWriter, r *http.Request) {
	var params pipeline.CreateRunParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.orc.CreateRun(r.Context(), params)
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	promRunsCreated.Inc()
	sendJSON(w, http.StatusCreated, run)
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.orc.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	sendJSON(w, http.StatusOK, run)
}

func (s *Server) advanceRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	start := time.Now()
	res, err := s.orc.Advance(r.Context(), runID)
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	s.recordStep(res, time.Since(start))
	sendJSON(w, http.StatusOK, advancePayload(res))
}

func (s *Server) driveRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	start := time.Now()
	res, err := s.orc.Drive(r.Context(), runID)
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	s.recordStep(res, time.Since(start))
	payload := advancePayload(res)
	payload["stepsProcessed"] = res.StepsProcessed
	payload["finalStatus"] = finalStatus(res)
	sendJSON(w, http.StatusOK, payload)
}

// finalStatus summarizes a drive result for the response body.
func finalStatus(res *pipeline.AdvanceResult) string {
	switch {
	case res.Err != nil:
		return "error"
	case res.Done:
		return "completed"
	default:
		return "in_progress"
	}
}

// cronAdvanceHandler serves the schedule-driven entrypoint. When the
// body names a run it advances that run; otherwise it creates a new
// auto run for the default provinces and advances its first step.
func (s *Server) cronAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunID string `json:"runId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	runID := body.RunID
	created := false
	if runID == "" {
		run, err := s.orc.CreateRun(r.Context(), pipeline.CreateRunParams{
			Mode:            pipeline.ModeAuto,
			TargetProvinces: pipeline.DefaultProvinces(),
			CreatedBy:       "cron",
		})
		if err != nil {
			sendError(w, err.Error(), statusForError(err))
			return
		}
		promRunsCreated.Inc()
		runID = run.ID
		created = true
	}

	start := time.Now()
	res, err := s.orc.Advance(r.Context(), runID)
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	s.recordStep(res, time.Since(start))

	payload := advancePayload(res)
	payload["created"] = created
	sendJSON(w, http.StatusOK, payload)
}

func (s *Server) retryRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.orc.ResetErroredStep(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendError(w, err.Error(), statusForError(err))
		return
	}
	sendJSON(w, http.StatusOK, run)
}

// advancePayload augments the orchestrator result with the step error
// message, which does not serialize from the error value itself.
func advancePayload(res *pipeline.AdvanceResult) map[string]interface{} {
	payload := map[string]interface{}{
		"runId":      res.RunID,
		"done":       res.Done,
		"inProgress": res.InProgress,
		"step":       res.Step,
	}
	if res.Stage != "" {
		payload["stage"] = string(res.Stage)
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	return payload
}

func (s *Server) recordStep(res *pipeline.AdvanceResult, elapsed time.Duration) {
	if res == nil || res.Stage == "" {
		return
	}
	status := "ok"
	if res.Err != nil {
		status = "error"
	}
	promStepsTotal.WithLabelValues(string(res.Stage), status).Inc()
	promStepDuration.WithLabelValues(string(res.Stage)).Observe(float64(elapsed.Milliseconds()))
}

// streamRunHandler pushes run state over SSE until the run completes,
// errors, or the stream cap elapses. Clients reconnect for long runs.
func (s *Server) streamRunHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	runID := mux.Vars(r)["id"]

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	deadline := time.NewTimer(streamMaxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	hello, _ := json.Marshal(map[string]interface{}{
		"runId":     runID,
		"timestamp": time.Now().UTC(),
	})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
	flusher.Flush()

	emit := func() (stop bool) {
		run, err := s.orc.GetRun(r.Context(), runID)
		if err != nil {
			payload, _ := json.Marshal(errorResponse{Error: err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			return true
		}
		payload, _ := json.Marshal(run)
		event := "run_update"
		terminal := run.Done() || run.HasError()
		if terminal {
			event = "complete"
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
		return terminal
	}

	if emit() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if emit() {
				return
			}
		}
	}
}

type chatRequestBody struct {
	llm.ChatRequest
	Stream bool `json:"stream,omitempty"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		sendError(w, "message is required", http.StatusBadRequest)
		return
	}

	if body.Stream {
		s.streamChat(w, r, body.ChatRequest)
		return
	}

	resp, err := s.router.Chat(r.Context(), body.ChatRequest)
	if err != nil {
		promChatRequests.WithLabelValues("none", "error").Inc()
		s.log.Error("", requestID(r), "chat failed", map[string]interface{}{
			"error": err.Error(),
		})
		sendError(w, "no provider available", http.StatusInternalServerError)
		return
	}

	promChatRequests.WithLabelValues(resp.Metadata.Provider, "success").Inc()
	promChatCost.Add(resp.Metadata.Cost)
	setRoutingHeaders(w, resp.Metadata)
	sendJSON(w, http.StatusOK, struct {
		*llm.ChatResponse
		Suggestions []string `json:"suggestions"`
	}{resp, chatSuggestions(body.Message)})
}

// streamChat relays router chunks as SSE. Routing headers come from the
// selected chunk, which arrives before any content.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req llm.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	headersSent := false
	handler := func(chunk llm.StreamChunk) error {
		if !headersSent {
			if chunk.Type == "selected" && chunk.Metadata != nil {
				setRoutingHeaders(w, *chunk.Metadata)
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			headersSent = true
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return nil
	}

	resp, err := s.router.StreamChat(r.Context(), req, handler)
	if err != nil {
		var interrupted *llm.StreamInterruptedError
		if errors.As(err, &interrupted) && headersSent {
			// Content already reached the client; report the break
			// in-stream rather than with a status code.
			payload, _ := json.Marshal(errorResponse{Error: "stream interrupted"})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			promChatRequests.WithLabelValues("none", "interrupted").Inc()
			return
		}
		promChatRequests.WithLabelValues("none", "error").Inc()
		sendError(w, "no provider available", http.StatusInternalServerError)
		return
	}

	promChatRequests.WithLabelValues(resp.Metadata.Provider, "success").Inc()
	promChatCost.Add(resp.Metadata.Cost)
}

func setRoutingHeaders(w http.ResponseWriter, meta llm.ChatMetadata) {
	w.Header().Set("X-Model-Used", meta.ModelUsed)
	w.Header().Set("X-Provider", meta.Provider)
	w.Header().Set("X-Is-Free", strconv.FormatBool(meta.IsFree))
	w.Header().Set("X-Cost", strconv.FormatFloat(meta.Cost, 'f', 6, 64))
	w.Header().Set("X-Response-Time", strconv.FormatInt(meta.ResponseTimeMs, 10))
	w.Header().Set("X-Attempts", strconv.Itoa(meta.Attempts))
}

func (s *Server) modelsHandler(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"models": s.router.Catalog().Models(),
	})
}

type testModelRequest struct {
	Model    string `json:"model"`
	Message  string `json:"message,omitempty"`
	Province string `json:"province,omitempty"`
}

func (s *Server) testModelHandler(w http.ResponseWriter, r *http.Request) {
	var req testModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		sendError(w, "model is required", http.StatusBadRequest)
		return
	}

	resp, err := s.router.TestModel(r.Context(), req.Model, req.Message, req.Province)
	if err != nil {
		var perr *llm.ProviderError
		if errors.As(err, &perr) && perr.Code == llm.ErrCodeModelNotFound {
			sendError(w, err.Error(), http.StatusNotFound)
			return
		}
		sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}
