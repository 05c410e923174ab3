// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the content pipeline and the LLM router over
// HTTP: run management for operators, a scheduler-driven advance
// endpoint, and a public chat API.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"kraftcontent/platform/common/usage"
	"kraftcontent/platform/pipeline"
	"kraftcontent/platform/pipeline/llm"
	"kraftcontent/platform/shared/logger"
)

// Server wires the orchestrator and router into HTTP handlers.
type Server struct {
	cfg        *Config
	orc        *pipeline.Orchestrator
	router     *llm.Router
	usage      *usage.Recorder
	log        *logger.Logger
	instanceID string

	startedAt time.Time
}

// NewServer builds a server over already-constructed components.
func NewServer(cfg *Config, orc *pipeline.Orchestrator, router *llm.Router, rec *usage.Recorder, log *logger.Logger, instanceID string) *Server {
	if log == nil {
		log = logger.New("server")
	}
	return &Server{
		cfg:        cfg,
		orc:        orc,
		router:     router,
		usage:      rec,
		log:        log,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// Handler returns the fully-routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Public chat API
	r.HandleFunc("/api/v1/chat", s.instrument("chat", s.chatHandler)).Methods("POST")
	r.HandleFunc("/api/v1/models", s.instrument("models", s.modelsHandler)).Methods("GET")

	// Operator endpoints
	r.HandleFunc("/api/v1/runs", s.instrument("create_run", s.requireAdmin(s.createRunHandler))).Methods("POST")
	r.HandleFunc("/api/v1/runs/{id}", s.instrument("get_run", s.requireAdmin(s.getRunHandler))).Methods("GET")
	r.HandleFunc("/api/v1/runs/{id}/drive", s.instrument("drive_run", s.requireAdmin(s.driveRunHandler))).Methods("POST")
	r.HandleFunc("/api/v1/runs/{id}/retry", s.instrument("retry_run", s.requireAdmin(s.retryRunHandler))).Methods("POST")
	r.HandleFunc("/api/v1/runs/{id}/stream", s.requireAdmin(s.streamRunHandler)).Methods("GET")
	r.HandleFunc("/api/v1/models/test", s.instrument("test_model", s.requireAdmin(s.testModelHandler))).Methods("POST")

	// Scheduler endpoints: each call advances one step of one run. The
	// bare form creates a fresh auto run when none is named, so a cron
	// schedule alone keeps content flowing.
	r.HandleFunc("/api/v1/runs/{id}/advance", s.instrument("advance_run", s.requireCronOrAdmin(s.advanceRunHandler))).Methods("POST")
	r.HandleFunc("/api/v1/runs/advance", s.instrument("cron_advance", s.requireCronOrAdmin(s.cronAdvanceHandler))).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// ListenAndServe starts the HTTP server and blocks.
func (s *Server) ListenAndServe() error {
	addr := ":" + s.cfg.Port
	s.log.Info("", "", "server listening", map[string]interface{}{"addr": addr})
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// instrument records per-route latency and the API call usage event.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		latency := time.Since(start).Milliseconds()
		promHTTPDuration.WithLabelValues(route).Observe(float64(latency))
		if s.usage != nil {
			_ = s.usage.RecordAPICall(usage.APICallEvent{
				InstanceID:     s.instanceID,
				HTTPMethod:     r.Method,
				HTTPPath:       r.URL.Path,
				HTTPStatusCode: rec.status,
				LatencyMs:      latency,
			})
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working when they run behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestID returns the caller-supplied request id, or mints one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "req_" + hex.EncodeToString(b)
}
