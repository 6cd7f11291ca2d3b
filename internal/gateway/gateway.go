// Package gateway serves the HTTP API: health, script analysis, fixes and a
// read-only archive listing.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/config"
	otelpkg "github.com/basket/archivist/internal/otel"
	"github.com/basket/archivist/internal/persistence"
)

// maxBodyBytes leaves room for JSON escaping around the largest accepted source.
const maxBodyBytes = 2*analyzer.MaxSourceBytes + 4096

type Config struct {
	Records  *persistence.Records
	Analyzer *analyzer.Analyzer
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// APIToken enables bearer auth on /api routes when set.
	APIToken  string
	RateLimit config.RateLimitConfig

	Version string
	// ConfigFingerprint is the hash of the active config exposed by /healthz.
	ConfigFingerprint string
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *RateLimitMiddleware
	started time.Time
}

type analyzeRequest struct {
	// Code is analyzed as is. Message is a chat message the code is extracted from.
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResponse struct {
	analyzer.Report
	Total int  `json:"total"`
	Clean bool `json:"clean"`
}

type fixRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

type fixResponse struct {
	Code         string `json:"code"`
	Mode         string `json:"mode"`
	ChangedLines int    `json:"changedLines"`
}

type archivesResponse struct {
	Archives []persistence.ArchiveRecord `json:"archives"`
	Count    int                         `json:"count"`
	Stats    *persistence.Stats          `json:"stats,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		limiter: NewRateLimitMiddleware(cfg.RateLimit),
		started: time.Now(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "gateway")
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	return s
}

// Handler returns the routed handler with tracing, auth, rate limiting and
// body size limits applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/fix", s.handleFix)
	mux.HandleFunc("/api/archives", s.handleArchives)

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(maxBodyBytes)(h)
	h = s.limiter.Wrap(h)
	h = NewAuthMiddleware(s.cfg.APIToken).Wrap(h)
	return TraceMiddleware(s.logger, s.tracer)(h)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.limiter.StartEviction(ctx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	storeOK := true
	archives := 0
	if s.cfg.Records != nil {
		records, err := s.cfg.Records.List(r.Context())
		if err != nil {
			storeOK = false
			s.logger.Warn("health check store load failed", "error", err)
		}
		archives = len(records)
	}
	payload := map[string]any{
		"healthy":  storeOK,
		"store_ok": storeOK,
		"archives": archives,
		"version":  s.cfg.Version,
		"config":   s.cfg.ConfigFingerprint,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !storeOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code := sourceOf(req.Code, req.Message)
	if code == "" {
		writeError(w, http.StatusBadRequest, "code or message is required")
		return
	}
	var report analyzer.Report
	if s.cfg.Analyzer != nil {
		report = s.cfg.Analyzer.Analyze(r.Context(), code)
	} else {
		report = analyzer.Analyze(code)
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Report: report, Total: report.Total(), Clean: report.Clean()})
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req fixRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := analyzer.ParseFixMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := sourceOf(req.Code, req.Message)
	if code == "" {
		writeError(w, http.StatusBadRequest, "code or message is required")
		return
	}
	fixed, err := analyzer.Fix(code, mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fixResponse{Code: fixed, Mode: string(mode), ChangedLines: analyzer.ChangedLines(code, fixed)})
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.cfg.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	var (
		records []persistence.ArchiveRecord
		err     error
	)
	author := strings.TrimSpace(q.Get("author"))
	switch {
	case strings.TrimSpace(q.Get("q")) != "":
		records, err = s.cfg.Records.Search(ctx, q.Get("q"))
	case author != "":
		records, err = s.cfg.Records.ListByAuthor(ctx, author)
	default:
		records, err = s.cfg.Records.List(ctx)
	}
	if err != nil {
		s.logger.Error("list archives failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load archives")
		return
	}
	if records == nil {
		records = []persistence.ArchiveRecord{}
	}
	resp := archivesResponse{Archives: records, Count: len(records)}
	if author != "" {
		stats, err := s.cfg.Records.Stats(ctx, author)
		if err == nil {
			resp.Stats = &stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func sourceOf(code, message string) string {
	if strings.TrimSpace(code) != "" {
		return code
	}
	return analyzer.ExtractCode(message)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
