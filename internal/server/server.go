// Package server exposes fits as background jobs over a JSON HTTP API with
// server-sent progress events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/store"
)

// defaultPreviewScale applies when a request asks for previews without a
// scale.
const defaultPreviewScale = 4

var (
	fitID       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	previewName = regexp.MustCompile(`^frame-\d+\.png$`)
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	fitStore   *store.FSStore
	addr       string
	server     *http.Server

	// ctx parents every job; stop cancels them on shutdown.
	ctx  context.Context
	stop context.CancelFunc
}

// NewServer creates a server storing fits in fitStore.
func NewServer(addr string, fitStore *store.FSStore) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		fitStore:   fitStore,
		addr:       addr,
		ctx:        ctx,
		stop:       stop,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's routes wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fits", s.handleFits)
	mux.HandleFunc("/api/v1/fits/", s.handleFitsWithID)
	mux.HandleFunc("/api/v1/records", s.handleListRecords)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr, "data_dir", s.fitStore.BaseDir())
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.stop()
	return s.server.Shutdown(ctx)
}

// handleFits handles /api/v1/fits
func (s *Server) handleFits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFitsWithID handles /api/v1/fits/:id/*
func (s *Server) handleFitsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/fits/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Fit ID required", http.StatusBadRequest)
		return
	}
	if len(parts) > 2 || !fitID.MatchString(parts[0]) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		s.handleCancelJob(w, r, id)
	case r.Method != http.MethodGet:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case sub == "" || sub == "status":
		s.handleGetJobStatus(w, r, id)
	case sub == "stream":
		s.handleJobStream(w, r, id)
	case sub == "record":
		s.handleGetRecord(w, r, id)
	case sub == "trace":
		s.handleGetTrace(w, r, id)
	case previewName.MatchString(sub):
		s.handleGetPreview(w, r, id, sub)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/fits
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if req.ScenePath == "" {
		http.Error(w, "scenePath is required", http.StatusBadRequest)
		return
	}
	if req.Preview && req.PreviewScale <= 0 {
		req.PreviewScale = defaultPreviewScale
	}
	cfg, err := config.New(req.Options)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.startJob(req, cfg)
	writeJSON(w, http.StatusCreated, job)
}

// startJob registers a job and runs it in the background.
func (s *Server) startJob(req FitRequest, cfg config.Config) *Job {
	job := s.jobManager.CreateJob(req, cfg)

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.cancel = cancel })

	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.fitStore, job.ID)
		// The terminal event is already queued on every open stream.
		s.jobManager.broadcaster.CleanupJob(job.ID)
	}()
	return job
}

// handleListJobs handles GET /api/v1/fits
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/fits/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	evalsPerSecond := float64(0)
	if elapsed.Seconds() > 0 {
		evalsPerSecond = float64(job.FuncEvaluations) / elapsed.Seconds()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":              job.ID,
		"state":           job.State,
		"request":         job.Request,
		"config":          job.Config,
		"value":           job.Value,
		"initialValue":    job.InitialValue,
		"valid":           job.Valid,
		"iterations":      job.Iterations,
		"funcEvaluations": job.FuncEvaluations,
		"evalsPerSecond":  evalsPerSecond,
		"elapsed":         elapsed.Seconds(),
		"startTime":       job.StartTime,
		"endTime":         job.EndTime,
		"error":           job.Error,
	})
}

// handleCancelJob handles DELETE /api/v1/fits/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetRecord handles GET /api/v1/fits/:id/record. Any stored fit can
// be read, including ones not run by this server.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.fitStore.LoadRecord(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetTrace handles GET /api/v1/fits/:id/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := store.ReadTrace(s.fitStore.BaseDir(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetPreview handles GET /api/v1/fits/:id/frame-<n>.png
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request, id, name string) {
	path := filepath.Join(s.fitStore.Dir(id), name)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

// handleListRecords handles GET /api/v1/records
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos, err := s.fitStore.ListRecords()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("Store request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
