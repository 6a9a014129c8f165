package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const livenessMessage = "SonicTube gateway is running"

// Server holds everything a request needs. It is built once in main.
type Server struct {
	cfg          Config
	orchestrator *Orchestrator
	store        RecordStore
	slots        *extractionSlots
	stats        *counters
	limiter      *rate.Limiter
	logger       *slog.Logger
	newID        func() string
}

func NewServer(cfg Config, engine Engine, store RecordStore, logger *slog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: NewOrchestrator(cfg, engine, logger),
		store:        store,
		slots:        newExtractionSlots(cfg.MaxConcurrentDownloads),
		stats:        newCounters(),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		logger:       logger,
		newID:        uuid.NewString,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/download", rateLimitMiddleware(s.limiter, s.handleDownload))
	mux.HandleFunc("/status/{id}", rateLimitMiddleware(s.limiter, s.handleStatus))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/stats", s.handleStats)
	return loggingMiddleware(s.logger, corsMiddleware(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, livenessMessage)
}

// handleDownload runs the whole pipeline for one request and streams the
// result. The output file never outlives the handler.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		writeJSONError(w, http.StatusBadRequest, "No URL provided")
		return
	}
	req := DownloadRequest{
		URL:      rawURL,
		Format:   ParseFormatToken(q.Get("format")),
		Platform: ClassifyPlatform(rawURL),
	}

	directive, err := ResolveDirective(req.Format, req.Platform)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid format: %s", req.Format))
		return
	}

	ctx := r.Context()
	id := s.newID()
	rec := &DownloadRecord{
		ID:        id,
		URL:       req.URL,
		Format:    req.Format,
		Platform:  req.Platform,
		CreatedAt: time.Now(),
	}
	s.updateRecord(ctx, rec, StatusPending, "")
	w.Header().Set("X-Download-ID", id)

	s.logger.Info("⬇️  Download requested", "id", id, "url", req.URL, "format", req.Format, "platform", req.Platform)
	s.stats.begin()
	start := time.Now()

	out, kind, err := s.fetch(ctx, req, directive, rec)
	if err != nil {
		s.stats.fail(kind)
		s.updateRecord(ctx, rec, StatusFailed, err.Error())
		s.logger.Error("❌ Download failed", "id", id, "url", req.URL, "kind", kind, "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.removeOutputs(id, out.Path)

	f, err := os.Open(out.Path)
	if err != nil {
		s.stats.fail(FailureOther)
		s.updateRecord(ctx, rec, StatusFailed, err.Error())
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Error opening file: %v", err))
		return
	}
	defer f.Close()

	rec.Filename = out.Filename
	rec.Size = out.Size

	w.Header().Set("Content-Type", out.ContentType())
	w.Header().Set("Content-Disposition", contentDisposition(out.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(out.Size, 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		s.stats.fail(FailureOther)
		s.updateRecord(ctx, rec, StatusFailed, fmt.Sprintf("transfer aborted after %d bytes: %v", n, err))
		s.logger.Warn("Error streaming response", "id", id, "bytes", n, "error", err)
		return
	}
	s.stats.succeed(time.Since(start))
	s.updateRecord(ctx, rec, StatusCompleted, "")
	s.logger.Info("✅ Download delivered", "id", id, "file", out.Filename, "bytes", n, "attempts", rec.Attempts)
}

// fetch waits for an extraction slot, runs the orchestrator and resolves the
// produced file. Any file left behind by a failed request is removed here.
func (s *Server) fetch(ctx context.Context, req DownloadRequest, directive ExtractionDirective, rec *DownloadRecord) (ResolvedOutput, FailureKind, error) {
	if err := s.slots.Acquire(ctx); err != nil {
		return ResolvedOutput{}, FailureOther, fmt.Errorf("waiting for a free download slot: %w", err)
	}
	defer s.slots.Release()

	s.updateRecord(ctx, rec, StatusProcessing, "")
	template := filepath.Join(s.cfg.ScratchDir, rec.ID+".%(ext)s")

	outcome := s.orchestrator.Run(ctx, req.URL, directive, template)
	rec.Attempts = outcome.Attempts
	if !outcome.Success {
		s.removeOutputs(rec.ID, "")
		kind := outcome.Failure
		if kind == FailureNone {
			kind = FailureOther
		}
		return ResolvedOutput{}, kind, outcome.Err
	}

	out, err := ResolveOutput(outcome.Path, directive, outcome.Title, rec.ID)
	if err != nil {
		byID, idErr := ResolveOutputByID(s.cfg.ScratchDir, directive, outcome.Title, rec.ID)
		if idErr != nil {
			s.removeOutputs(rec.ID, outcome.Path)
			return ResolvedOutput{}, FailureOther, err
		}
		out = byID
	}
	return out, FailureNone, nil
}

// removeOutputs deletes path and anything else written for id. Failures are
// logged only: by now the response is settled.
func (s *Server) removeOutputs(id, path string) {
	paths := []string{}
	if path != "" {
		paths = append(paths, path)
	}
	if matches, err := filepath.Glob(filepath.Join(s.cfg.ScratchDir, id+".*")); err == nil {
		paths = append(paths, matches...)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Cleanup failed", "id", id, "path", p, "error", err)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing download ID")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ErrRecordNotFound) {
		writeJSONError(w, http.StatusNotFound, "Download not found")
		return
	}
	if err != nil {
		s.logger.Error("Record lookup failed", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
