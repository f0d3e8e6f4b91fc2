// Package api implements the scholar HTTP API: submitting messages to
// threads, inspecting and deleting threads, and streaming their commits.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/buildinfo"
	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/conversation"
	"github.com/nugget/scholar/internal/events"
	"github.com/nugget/scholar/internal/threads"
	"github.com/nugget/scholar/internal/tools"
	"github.com/nugget/scholar/internal/transcript"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	threads  *threads.Manager
	registry *tools.Registry
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server. bus may be nil, in which case
// thread streams receive no events.
func NewServer(address string, port int, mgr *threads.Manager, registry *tools.Registry, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		threads:  mgr,
		registry: registry,
		bus:      bus,
		logger:   logger,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)

	mux.HandleFunc("POST /v1/threads", s.handleThreadCreate)
	mux.HandleFunc("GET /v1/threads", s.handleThreadList)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("DELETE /v1/threads/{id}", s.handleThreadDelete)
	mux.HandleFunc("GET /v1/threads/{id}/history", s.handleThreadHistory)
	mux.HandleFunc("GET /v1/threads/{id}/transcript", s.handleThreadTranscript)
	mux.HandleFunc("POST /v1/threads/{id}/resume", s.handleThreadResume)
	mux.HandleFunc("GET /v1/threads/{id}/stream", s.handleThreadStream)

	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
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

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "scholar",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.registry.List()}, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	reply, err := s.threads.Submit(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		s.threadError(w, err)
		return
	}
	if reply.Status == agent.StatusFailed {
		s.logger.Warn("run failed", "thread", reply.ThreadID, "checkpoint", reply.CheckpointID, "error", reply.Error)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, reply, s.logger)
}

func (s *Server) handleThreadCreate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]string{"thread_id": s.threads.NewThread()}, s.logger)
}

func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	list, err := s.threads.List(r.Context())
	if err != nil {
		s.threadError(w, err)
		return
	}
	if list == nil {
		list = []checkpoint.ThreadSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"threads": list}, s.logger)
}

// ThreadView is the response of GET /v1/threads/{id}.
type ThreadView struct {
	ThreadID     string                  `json:"thread_id"`
	CheckpointID string                  `json:"checkpoint_id"`
	Step         int                     `json:"step"`
	UpdatedAt    time.Time               `json:"updated_at"`
	Messages     []conversation.Message  `json:"messages"`
	Final        string                  `json:"final,omitempty"`
	Pending      []conversation.ToolCall `json:"pending,omitempty"`
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	head, err := s.threads.State(r.Context(), r.PathValue("id"))
	if err != nil {
		s.threadError(w, err)
		return
	}
	msgs := head.State.Messages
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ThreadView{
		ThreadID:     head.ThreadID,
		CheckpointID: head.ID,
		Step:         head.Metadata.Step,
		UpdatedAt:    head.CreatedAt,
		Messages:     msgs,
		Final:        head.State.FinalAnswer(),
		Pending:      head.State.Pending(),
	}, s.logger)
}

func (s *Server) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.threads.Delete(r.Context(), id)
	if err != nil {
		s.threadError(w, err)
		return
	}
	if !existed {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("thread %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HistoryEntry describes one checkpoint in GET /v1/threads/{id}/history.
type HistoryEntry struct {
	ID           string              `json:"id"`
	ParentID     string              `json:"parent_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Metadata     checkpoint.Metadata `json:"metadata"`
	MessageCount int                 `json:"message_count"`
	ByteSize     int64               `json:"byte_size,omitempty"`
	State        *conversation.State `json:"state,omitempty"`
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.threads.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.threadError(w, err)
		return
	}
	withState := r.URL.Query().Get("state") == "1"

	entries := make([]HistoryEntry, 0, len(history))
	for _, cp := range history {
		e := HistoryEntry{
			ID:           cp.ID,
			ParentID:     cp.ParentID,
			CreatedAt:    cp.CreatedAt,
			Metadata:     cp.Metadata,
			MessageCount: cp.State.Len(),
			ByteSize:     cp.ByteSize,
		}
		if withState {
			st := cp.State
			e.State = &st
		}
		entries = append(entries, e)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"checkpoints": entries}, s.logger)
}

func (s *Server) handleThreadTranscript(w http.ResponseWriter, r *http.Request) {
	head, err := s.threads.State(r.Context(), r.PathValue("id"))
	if err != nil {
		s.threadError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := transcript.HTML("Thread "+head.ThreadID, head.State.Messages)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(page)); err != nil {
			s.logger.Debug("failed to write transcript", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if _, err := w.Write([]byte(transcript.Markdown(head.State.Messages))); err != nil {
		s.logger.Debug("failed to write transcript", "error", err)
	}
}

func (s *Server) handleThreadResume(w http.ResponseWriter, r *http.Request) {
	reply, err := s.threads.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		s.threadError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, reply, s.logger)
}

// threadError maps manager and store errors to HTTP statuses.
func (s *Server) threadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, threads.ErrEmptyMessage):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkpoint.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, checkpoint.ErrConflict):
		s.errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away", "error", err)
	default:
		s.logger.Error("request failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}
