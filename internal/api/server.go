package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/h1v3-io/talktome/internal/logbuf"
	"github.com/h1v3-io/talktome/internal/talk"
)

// LogQuerier abstracts log entry querying.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// WorkflowInfo describes a loaded workflow for API responses.
type WorkflowInfo struct {
	Label     string     `json:"label"`
	Search    string     `json:"search"`
	Schedule  string     `json:"schedule"`
	NextSweep *time.Time `json:"next_sweep,omitempty"`
	Actions   []string   `json:"actions"`
}

// WorkflowService is what the API server needs from the daemon.
type WorkflowService interface {
	Workflows() []WorkflowInfo
	Sweep(ctx context.Context, label string) (talk.SweepReport, error)
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the talktome REST API server.
type Server struct {
	svc    WorkflowService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates a new API server. logs and slackActions may be nil;
// slackActions is mounted at POST /slack/actions and authenticates requests
// itself.
func NewServer(svc WorkflowService, cfg Config, logger *slog.Logger, logs LogQuerier, slackActions http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/workflows", s.handleListWorkflows)
		r.Get("/api/workflows/{label}", s.handleGetWorkflow)
		r.Post("/api/workflows/{label}/sweep", s.handleSweep)
		r.Get("/api/logs", s.handleGetLogs)
	})
	if slackActions != nil {
		r.Method(http.MethodPost, "/slack/actions", slackActions)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"workflows": len(s.svc.Workflows()),
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	wfs := s.svc.Workflows()
	if wfs == nil {
		wfs = []WorkflowInfo{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	for _, wf := range s.svc.Workflows() {
		if wf.Label == label {
			writeJSON(w, http.StatusOK, wf)
			return
		}
	}
	writeError(w, http.StatusNotFound, "workflow not found")
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	report, err := s.svc.Sweep(r.Context(), label)
	if errors.Is(err, talk.ErrUnknownWorkflow) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("manual sweep failed", "workflow", label, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Limit:    200,
		Workflow: q.Get("workflow"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if s := q.Get("since"); s != "" {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
