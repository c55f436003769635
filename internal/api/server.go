// Package api implements the HTTP surface: conversational chat,
// proactive nudge triggers, memory listing, and an operational event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aavetis/memory-poc/internal/agent"
	"github.com/aavetis/memory-poc/internal/buildinfo"
	"github.com/aavetis/memory-poc/internal/events"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/notify"
	"github.com/aavetis/memory-poc/internal/nudge"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/toolschema"
	"github.com/aavetis/memory-poc/internal/usage"
)

// Server is the HTTP API server.
type Server struct {
	listen   string
	model    string
	runner   *agent.Runner
	registry *tools.Registry
	workflow *nudge.Workflow
	store    *memory.Client
	ledger   *usage.Store
	notifier *notify.Publisher
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server. store, ledger, and notifier may be
// nil; the endpoints that need them degrade with a clear error.
func NewServer(listen, model string, runner *agent.Runner, registry *tools.Registry, workflow *nudge.Workflow, store *memory.Client, ledger *usage.Store, notifier *notify.Publisher, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:   listen,
		model:    model,
		runner:   runner,
		registry: registry,
		workflow: workflow,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		bus:      bus,
		logger:   logger.With("component", "api"),
	}
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // runs can span several model calls
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Handler returns the routed handler without starting a listener.
// Used by tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /push", s.handlePush)
	mux.HandleFunc("POST /push/memories", s.handlePushMemories)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /usage", s.handleUsage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	return mux
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v to w. Encoding errors usually mean the client
// disconnected mid-response; log and move on.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// errorEnvelope is the uniform error body for every endpoint.
type errorEnvelope struct {
	Error      string         `json:"error"`
	Status     int            `json:"status"`
	StatusText string         `json:"statusText"`
	Upstream   map[string]any `json:"upstream,omitempty"`
}

// writeError maps an error to its HTTP status and envelope.
// Validation problems are the caller's fault; upstream failures keep
// the upstream status and body for diagnostics; everything else is a
// 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var upstream map[string]any

	var ve *agent.ValidationError
	var se *toolschema.SchemaError
	var ute *tools.UnsupportedToolError
	var ue *llm.UpstreamError

	switch {
	case errors.As(err, &ve), errors.As(err, &se), errors.As(err, &ute):
		status = http.StatusBadRequest
	case errors.As(err, &ue):
		status = http.StatusBadGateway
		upstream = map[string]any{"status": ue.Status, "body": ue.Body}
	case errors.Is(err, nudge.ErrNoMessage):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}

	writeJSON(w, status, errorEnvelope{
		Error:      err.Error(),
		Status:     status,
		StatusText: http.StatusText(status),
		Upstream:   upstream,
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// recordUsage writes a run's aggregated usage to the ledger.
// Best-effort: ledger failures are logged, never surfaced.
func (s *Server) recordUsage(ctx context.Context, runID, userID, workflow string, snapshots []usage.Snapshot) {
	if s.ledger == nil {
		return
	}
	for _, snap := range snapshots {
		if err := s.ledger.RecordSnapshot(ctx, runID, userID, workflow, s.model, snap); err != nil {
			s.logger.Warn("usage record failed", "run_id", runID, "error", err)
			return
		}
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &agent.ValidationError{Reason: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}
