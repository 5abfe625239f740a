package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/flows"
	"club-bot/internal/flowstate"
	"club-bot/internal/metrics"
	"club-bot/internal/userstore"
	"club-bot/internal/wa"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TemplateStarter launches a templated campaign toward one member.
// Implemented by the flows engine.
type TemplateStarter interface {
	StartTemplate(ctx context.Context, waid, template, body string, buttons []wa.Button) error
}

// Dependencies exposes core services to the admin handlers.
type Dependencies struct {
	Users     *userstore.Store
	Flows     *flowstate.Machine
	Redis     *cache.Redis
	Templates TemplateStarter
	Depths    func() map[string]int
}

// Server wraps an http.Server with health, metrics and admin routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/users/", server.handleUserLookup)
	mux.HandleFunc("/admin/flows/cancel", server.handleFlowCancel)
	mux.HandleFunc("/admin/templates/send", server.handleTemplateSend)
	mux.HandleFunc("/admin/queues", server.handleQueues)

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes core services accessible to admin handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "ok"
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, map[string]string{"status": status})
}

// handleUserLookup returns the cached view of one member record.
func (s *Server) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Users == nil {
		http.Error(w, "user store unavailable", http.StatusServiceUnavailable)
		return
	}

	waid := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	if waid == "" || strings.Contains(waid, "/") {
		http.Error(w, "missing waid", http.StatusBadRequest)
		return
	}

	rec, err := s.deps.Users.Get(r.Context(), waid)
	if err != nil {
		s.logger.Error("admin user lookup failed", "waid", waid, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"waid":            rec.WAID,
		"record_id":       rec.RecordID,
		"full_name":       rec.FullName,
		"opt_status":      rec.OptStatus,
		"template_status": rec.TemplateStatus,
		"template_name":   rec.TemplateName,
		"threads":         rec.Threads,
		"last_seen_at":    rec.LastSeenAt,
	})
}

// handleFlowCancel removes one flow/user state without notifying the user.
func (s *Server) handleFlowCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Flows == nil {
		http.Error(w, "flow store unavailable", http.StatusServiceUnavailable)
		return
	}

	flow := r.URL.Query().Get("flow")
	waid := r.URL.Query().Get("waid")
	if flow == "" || waid == "" {
		http.Error(w, "flow and waid are required", http.StatusBadRequest)
		return
	}

	if err := s.deps.Flows.Delete(r.Context(), flow, waid); err != nil {
		s.logger.Error("admin flow cancel failed", "flow", flow, "waid", waid, "error", err)
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "flow": flow, "waid": waid})
}

type templateSendRequest struct {
	WAID     string `json:"waid"`
	Template string `json:"template"`
	Body     string `json:"body"`
	Buttons  []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"buttons"`
}

// handleTemplateSend starts a templated campaign: the member gets the
// opening message and is locked on the template until they answer.
func (s *Server) handleTemplateSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Templates == nil {
		http.Error(w, "template sender unavailable", http.StatusServiceUnavailable)
		return
	}

	var req templateSendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.WAID == "" || req.Template == "" || req.Body == "" {
		http.Error(w, "waid, template and body are required", http.StatusBadRequest)
		return
	}

	buttons := make([]wa.Button, 0, len(req.Buttons))
	for _, b := range req.Buttons {
		if b.ID == "" || b.Title == "" {
			http.Error(w, "buttons need id and title", http.StatusBadRequest)
			return
		}
		buttons = append(buttons, wa.Button{ID: b.ID, Title: b.Title})
	}

	err := s.deps.Templates.StartTemplate(r.Context(), req.WAID, req.Template, req.Body, buttons)
	if err != nil {
		if errors.Is(err, flows.ErrUnknownMember) {
			http.Error(w, "unknown member", http.StatusNotFound)
			return
		}
		s.logger.Error("template send failed", "waid", req.WAID, "template", req.Template, "error", err)
		http.Error(w, "template send failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok", "waid": req.WAID, "template": req.Template})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Depths == nil {
		http.Error(w, "queues unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.deps.Depths())
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
