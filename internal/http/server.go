// Package http serves the REST API: session inventory, the topology
// job flow with websocket progress, and health. The MCP streamable
// transport mounts onto the same mux.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/capclaw/internal/session"
	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

// maxExplainBytes caps the explain request body.
const maxExplainBytes = 1 << 20

// generateTimeout bounds a background topology run.
const generateTimeout = 10 * time.Minute

// Options wires the API server.
type Options struct {
	Manager  *session.Manager
	Pipeline *topology.Pipeline

	// MCP, when set, is mounted at MCPEndpoint (default "/mcp").
	MCP         http.Handler
	MCPEndpoint string

	AuthToken      string
	RateLimitRPS   float64
	RateBurst      int
	MaxUploadBytes int64
	MaxImageDim    int
	Version        string
	Logger         *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	manager  *session.Manager
	pipeline *topology.Pipeline
	mcp      http.Handler
	mcpPath  string

	token     string
	limiter   *RateLimiter
	maxUpload int64
	maxDim    int
	version   string
	log       *slog.Logger

	jobs *jobStore
}

// NewServer builds the API server from opts.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	mcpPath := opts.MCPEndpoint
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	return &Server{
		manager:   opts.Manager,
		pipeline:  opts.Pipeline,
		mcp:       opts.MCP,
		mcpPath:   mcpPath,
		token:     opts.AuthToken,
		limiter:   NewRateLimiter(opts.RateLimitRPS, opts.RateBurst),
		maxUpload: maxUpload,
		maxDim:    opts.MaxImageDim,
		version:   opts.Version,
		log:       logger,
		jobs:      newJobStore(),
	}
}

// Handler returns the routed handler. Health is unauthenticated; every
// other route goes through auth and the per-client rate limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/sessions", s.guard(s.handleSessions))
	mux.HandleFunc("POST /v1/topology/generate", s.guard(s.handleGenerate))
	mux.HandleFunc("GET /v1/topology/jobs/{id}", s.guard(s.handleJob))
	mux.HandleFunc("GET /v1/topology/jobs/{id}/config", s.guard(s.handleJobConfig))
	mux.HandleFunc("POST /v1/topology/explain", s.guard(s.handleExplain))
	mux.HandleFunc("GET /v1/topology/ws", s.guard(s.handleWS))
	if s.mcp != nil {
		mux.Handle(s.mcpPath, s.mcp)
	}
	return mux
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleGenerate accepts a multipart diagram upload and starts a
// background topology run. The response carries the job id to poll or
// stream.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "topology pipeline not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image is required: " + err.Error()})
		return
	}
	defer file.Close()

	goal := r.FormValue("goal")
	if goal == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "goal is required"})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read image: " + err.Error()})
		return
	}
	diagram, err := topology.LoadDiagram(raw, s.maxDim)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job := s.jobs.Create(goal)
	go s.runJob(job.ID, diagram, goal)

	s.log.Info("topology job started", "job", job.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "state": job.State})
}

// runJob executes the pipeline detached from the originating request.
func (s *Server) runJob(id string, diagram *topology.Diagram, goal string) {
	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	p := s.pipeline.WithSink(func(ev topology.StageEvent) {
		s.jobs.AppendEvent(id, ev)
	})
	res, err := p.Generate(ctx, diagram, goal)
	s.jobs.Finish(id, res, err)
	if err != nil {
		s.log.Error("topology job failed", "job", id, "error", err)
		return
	}
	s.log.Info("topology job done", "job", id)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobConfig serves the finished configuration as a markdown
// download.
func (s *Server) handleJobConfig(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if job.State != JobDone || job.Result == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job not finished", "state": job.State})
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", topology.ConfigFilename))
	io.WriteString(w, job.Result.Final)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "topology pipeline not configured"})
		return
	}

	var req struct {
		Config string `json:"config"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxExplainBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Config == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config is required"})
		return
	}

	out, err := s.pipeline.Explain(r.Context(), req.Config)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": out})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
