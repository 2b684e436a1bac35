// Package server exposes the HTTP API and event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/logger"
	"github.com/mindloom/mindloom/store"
	"github.com/mindloom/mindloom/wake"
)

// Config configures the HTTP server.
type Config struct {
	Addr              string
	PermissionTimeout time.Duration
}

// Server serves the interaction API and the SSE event stream.
type Server struct {
	cfg          Config
	interactions *store.InteractionStore
	messages     *store.MessageStore
	orch         *wake.Orchestrator

	server *http.Server
	wg     sync.WaitGroup

	stream *eventStream
}

// New creates a server wired to the given stores and orchestrator.
func New(cfg Config, interactions *store.InteractionStore, messages *store.MessageStore, orch *wake.Orchestrator) *Server {
	if cfg.Addr == "" {
		cfg.Addr = runtimecfg.ServerDefaultAddr
	}
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = 60 * time.Second
	}
	return &Server{
		cfg:          cfg,
		interactions: interactions,
		messages:     messages,
		orch:         orch,
		stream:       newEventStream(),
	}
}

// Addr returns the address the server is listening on. Valid after Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return s.cfg.Addr
	}
	return s.server.Addr
}

// Start binds the listener and starts serving in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interactions", s.handleCreateInteraction)
	mux.HandleFunc("GET /api/interactions", s.handleListInteractions)
	mux.HandleFunc("GET /api/interactions/{id}", s.handleGetInteraction)
	mux.HandleFunc("GET /api/interactions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/interactions/{id}/messages", s.handleAddMessage)
	mux.HandleFunc("POST /api/interactions/{id}/result", s.handleSubmitResult)
	mux.HandleFunc("POST /api/interactions/{id}/permission", s.handleRequestPermission)
	mux.HandleFunc("GET /api/permissions/{id}/await", s.handleAwaitPermission)
	mux.HandleFunc("POST /api/permissions/{id}/respond", s.handleRespondPermission)
	mux.HandleFunc("GET /api/processes", s.handleListProcesses)
	mux.HandleFunc("GET /api/processes/{id}", s.handleGetProcess)
	mux.HandleFunc("POST /api/processes/{id}/restart", s.handleRestartProcess)
	mux.HandleFunc("POST /api/processes/{id}/stop", s.handleStopProcess)
	mux.HandleFunc("GET /api/events", s.stream.handleEvents)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server listen failed on %s: %w", s.cfg.Addr, err)
	}
	s.server.Addr = ln.Addr().String()

	s.stream.start(s.interactions, s.messages, s.orch)

	logger.Info("server started", "addr", s.server.Addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("server error", "err", serveErr)
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.stream.stop()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), runtimecfg.ServerShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("server shutdown error", "err", err)
		}
	}

	s.wg.Wait()
	logger.Info("server stopped")
	return nil
}

type createInteractionRequest struct {
	ID       string         `json:"id,omitempty"`
	Source   string         `json:"source,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateInteraction(w http.ResponseWriter, r *http.Request) {
	var req createInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	source := req.Source
	if source == "" {
		source = "user"
	}

	s.interactions.Create(&store.Interaction{
		ID:       id,
		Source:   source,
		Metadata: req.Metadata,
	})
	s.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: id,
		Role:          store.RoleUser,
		Content:       req.Content,
	})

	in := s.interactions.Get(id)
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.interactions.GetAll())
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	in := s.interactions.Get(r.PathValue("id"))
	if in == nil {
		writeError(w, http.StatusNotFound, "interaction not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.interactions.Get(id) == nil {
		writeError(w, http.StatusNotFound, "interaction not found")
		return
	}
	writeJSON(w, http.StatusOK, s.messages.GetMessages(id))
}

type addMessageRequest struct {
	Role     string         `json:"role,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.interactions.Get(id) == nil {
		writeError(w, http.StatusNotFound, "interaction not found")
		return
	}

	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	role := req.Role
	if role == "" {
		role = store.RoleUser
	}

	msgID := s.messages.AddMessage(&store.Message{
		ID:            uuid.NewString(),
		InteractionID: id,
		Role:          role,
		Content:       req.Content,
		Metadata:      req.Metadata,
	})
	writeJSON(w, http.StatusCreated, s.messages.GetMessage(msgID))
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var res wake.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := s.orch.SubmitResult(id, res); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "interaction not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type permissionRequestBody struct {
	Tool        string          `json:"toolName"`
	Description string          `json:"description,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
}

func (s *Server) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req permissionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "toolName is required")
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if err := s.orch.RequestPermission(id, req.Tool, req.Description, requestID, req.Args); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "interaction not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"requestId": requestID})
}

func (s *Server) handleAwaitPermission(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	timeout := s.cfg.PermissionTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout_ms")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	approved := s.orch.AwaitPermission(r.Context(), requestID, timeout)
	writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})
}

type permissionRespondBody struct {
	Approved bool `json:"approved"`
}

func (s *Server) handleRespondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	var req permissionRespondBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.orch.RespondToPermission(requestID, req.Approved)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetActiveProcesses())
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	details, ok := s.orch.GetProcessDetails(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "process not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleRestartProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.RestartProcess(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	s.orch.StopProcess(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
