// Package server wires the JSON-RPC dispatcher, the async task machinery
// and the SSE streaming layer into one HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/flashpoint493/NodeToCode-sub001/config"
	"github.com/flashpoint493/NodeToCode-sub001/history"
	"github.com/flashpoint493/NodeToCode-sub001/llm"
	"github.com/flashpoint493/NodeToCode-sub001/progress"
	"github.com/flashpoint493/NodeToCode-sub001/protocol"
	"github.com/flashpoint493/NodeToCode-sub001/sse"
	"github.com/flashpoint493/NodeToCode-sub001/task"
	"github.com/flashpoint493/NodeToCode-sub001/tools"
)

// Version is reported in the initialize result.
const Version = "1.0.0"

const (
	sessionHeader = "Mcp-Session-Id"
	maxBodySize   = 8 << 20
)

type session struct {
	id              string
	protocolVersion string
	created         time.Time
	lastSeen        time.Time
}

// Server is the NodeToCode MCP server.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	registry *tools.Registry
	bridge   tools.EditorBridge
	tasks    *task.Manager
	streams  *sse.Manager
	tracker  *progress.Tracker
	hub      *Hub
	history  *history.Store

	mu       sync.Mutex
	sessions map[string]*session

	httpServer *http.Server
}

// New builds the server and registers all tools and task factories. hist may
// be nil when history is disabled.
func New(cfg config.Config, bridge tools.EditorBridge, translator task.Translator,
	hist *history.Store, logger *slog.Logger) (*Server, error) {

	if logger == nil {
		logger = slog.Default()
	}
	if bridge == nil {
		bridge = tools.NewDirBridge(cfg.Blueprints.ExportDir)
	}
	if translator == nil {
		translator = llm.NewClient(llm.Config{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxRetries:  cfg.LLM.MaxRetries,
			HTTPTimeout: cfg.LLM.HTTPTimeout,
		}, logger)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: tools.NewRegistry(),
		bridge:   bridge,
		streams:  sse.NewManager(logger, cfg.Server.SSEConnectionTimeout),
		hub:      NewHub(logger),
		history:  hist,
		sessions: make(map[string]*session),
	}
	s.tracker = progress.NewTracker(s.hub, logger)

	var recorder task.HistoryRecorder
	if hist != nil {
		recorder = hist
	}
	s.tasks = task.NewManager(s.streams, logger, task.ManagerOptions{
		MaxWorkers: cfg.Tasks.MaxWorkers,
		History:    recorder,
	})

	if err := tools.RegisterBlueprintTools(s.registry, bridge); err != nil {
		return nil, fmt.Errorf("failed to register blueprint tools: %w", err)
	}
	if err := tools.RegisterTranslationTools(s.registry, tools.LLMBackend{
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
	}); err != nil {
		return nil, fmt.Errorf("failed to register translation tools: %w", err)
	}
	if err := s.registry.RegisterAsync(task.ToolTranslateBlueprint,
		"Translates the focused Blueprint graph into source code using the configured LLM. "+
			"Streams progress and delivers the result over SSE.",
		struct {
			TargetLanguage string `json:"target_language,omitempty" jsonschema:"description=Language to generate; defaults to cpp"`
		}{}); err != nil {
		return nil, fmt.Errorf("failed to register translate tool: %w", err)
	}
	s.tasks.RegisterFactory(task.ToolTranslateBlueprint,
		task.NewTranslateFactory(bridge, translator, cfg.Tasks.PollInterval, cfg.Tasks.Timeout))

	return s, nil
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", sessionHeader, "MCP-Protocol-Version"},
		ExposedHeaders: []string{sessionHeader},
	}))

	endpoint := s.cfg.Server.Endpoint
	r.Post(endpoint, s.handleMCP)
	r.Get(endpoint+"/health", s.handleHealth)
	r.Get(endpoint+"/ws", s.hub.ServeHTTP)
	return r
}

// Run serves until ctx is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.Router(),
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go s.sweep(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr(), "endpoint", s.cfg.Server.Endpoint)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.tasks.CancelAllTasks()
	s.streams.CloseAllConnections()
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.tasks.Close()
	return nil
}

// sweep periodically removes completed tasks and dead SSE streams.
func (s *Server) sweep(ctx context.Context) {
	interval := s.cfg.Server.CleanupInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tasks.CleanupCompletedTasks()
			s.streams.CleanupInactiveConnections()
			s.expireSessions()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"runningTasks":   len(s.tasks.GetRunningTaskIds()),
		"sseConnections": s.streams.ConnectionCount(),
	})
}

// handleMCP is the single JSON-RPC endpoint. Batches and synchronous
// requests answer on the POST response; async tools/call upgrades the
// response to an SSE stream.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			protocol.NewErrorResponse(nil, protocol.ParseError, "failed to read request body"))
		return
	}

	single, batch, isBatch, err := protocol.DecodeBody(body)
	if err != nil {
		writeJSON(w, http.StatusOK,
			protocol.NewErrorResponse(nil, protocol.ParseError, "Parse error"))
		return
	}

	sessionID, echo := s.resolveSession(r)
	if echo {
		w.Header().Set(sessionHeader, sessionID)
	}

	if isBatch {
		s.handleBatch(w, r, sessionID, batch)
		return
	}

	if single.Classify() == protocol.MessageNotification {
		s.dispatchNotification(single)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.isAsyncToolCall(single) {
		s.handleAsyncToolCall(w, r, sessionID, single)
		return
	}

	resp := s.dispatch(r.Context(), sessionID, single)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBatch processes a JSON-RPC batch. A batch of only notifications
// answers 202 with no body; otherwise the responses come back as an array.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, sessionID string, batch []*protocol.Message) {
	if len(batch) == 0 {
		writeJSON(w, http.StatusOK,
			protocol.NewErrorResponse(nil, protocol.InvalidRequest, "empty batch"))
		return
	}

	responses := make([]*protocol.Response, 0, len(batch))
	for _, msg := range batch {
		if resp := s.dispatch(r.Context(), sessionID, msg); resp != nil {
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) isAsyncToolCall(msg *protocol.Message) bool {
	if msg.Classify() != protocol.MessageRequest || msg.Method != protocol.MethodToolsCall {
		return false
	}
	var params protocol.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return false
	}
	async, known := s.registry.IsAsync(params.Name)
	return known && async
}

// handleAsyncToolCall launches the task, upgrades the response to SSE and
// holds the request open until the terminal response is streamed.
func (s *Server) handleAsyncToolCall(w http.ResponseWriter, r *http.Request, sessionID string, msg *protocol.Message) {
	var params protocol.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		writeJSON(w, http.StatusOK,
			protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid tools/call params"))
		return
	}

	if err := s.registry.Validate(params.Name, params.Arguments); err != nil {
		writeJSON(w, http.StatusOK,
			protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, err.Error()))
		return
	}

	progressToken := params.ProgressToken()
	if progressToken == "" {
		progressToken = uuid.NewString()
	}

	// Refuse before committing to the stream; headers cannot be unsent.
	if _, inUse := s.tasks.GetTaskContextByProgressToken(progressToken); inUse {
		writeJSON(w, http.StatusOK,
			protocol.NewErrorResponse(msg.ID, protocol.InvalidRequest,
				fmt.Sprintf("progress token already in use: %s", progressToken)))
		return
	}

	taskID := uuid.New()
	conn, err := s.streams.CreateConnection(w, taskID, progressToken, sessionID, msg.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			protocol.NewErrorResponse(msg.ID, protocol.InternalError, err.Error()))
		return
	}

	if launched := s.tasks.LaunchTask(taskID, params.Name, params.Arguments,
		progressToken, sessionID, msg.ID); launched == uuid.Nil {
		// The stream is already open; deliver the failure on it.
		s.streams.SendFinalResponse(taskID,
			protocol.NewErrorResponse(msg.ID, protocol.InternalError,
				fmt.Sprintf("failed to start task for tool %s", params.Name)))
		s.streams.CloseConnection(conn.ID)
		return
	}

	select {
	case <-conn.Done():
	case <-r.Context().Done():
		// Client went away mid-stream; the task keeps running but nobody
		// is listening anymore.
		s.logger.Warn("client disconnected during async task",
			"task_id", taskID, "progress_token", progressToken)
		s.tasks.CancelTask(taskID)
		s.streams.CloseConnection(conn.ID)
	}
}

// resolveSession reads the session header, minting a fresh id when the
// client has none yet. An id the server never issued is not adopted: the
// mismatch is logged, the request runs under a fresh session and echo is
// false so the bogus id is not confirmed back to the client.
func (s *Server) resolveSession(r *http.Request) (id string, echo bool) {
	id = r.Header.Get(sessionHeader)
	if id != "" && !s.sessionKnown(id) {
		s.logger.Warn("request carried a session id this server never issued",
			"session_id", id)
		id = ""
		echo = false
	} else {
		echo = true
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.touchSession(id, "")
	return id, echo
}

func (s *Server) sessionKnown(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

func (s *Server) touchSession(id, protocolVersion string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id, created: now}
		s.sessions[id] = sess
	}
	sess.lastSeen = now
	if protocolVersion != "" {
		sess.protocolVersion = protocolVersion
	}
}

func (s *Server) expireSessions() {
	const sessionTTL = time.Hour

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > sessionTTL {
			delete(s.sessions, id)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Tracker exposes the progress tracker for callers embedding the server.
func (s *Server) Tracker() *progress.Tracker { return s.tracker }
