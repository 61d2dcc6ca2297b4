// Package gateway exposes runs over HTTP and streams their events over
// WebSocket. Run submission is asynchronous: POST /v1/runs hands the task to
// the queue's session lane and returns a run ID immediately; progress and
// the archived result arrive on /v1/events.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/flexygent/flexygent/internal/metrics"
	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/interaction"
	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/queue"
	"github.com/flexygent/flexygent/pkg/runstore"
	"github.com/flexygent/flexygent/pkg/tool"
)

// authTimeout is how long a fresh WebSocket connection has to send its
// auth frame.
const authTimeout = 10 * time.Second

// DefaultSessionLane is the queue lane for runs submitted without a session.
const DefaultSessionLane = "default"

// Runner executes one orchestration run.
type Runner func(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)

// Enqueuer is the slice of the task queue the gateway uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane, name string, fn queue.Task) error
}

// RunArchive stores finished runs and serves them back.
type RunArchive interface {
	SaveRun(ctx context.Context, rec runstore.RunRecord) error
	GetRun(ctx context.Context, id string) (runstore.RunRecord, error)
}

// Server is the HTTP and WebSocket surface of serve mode.
type Server struct {
	host    string
	port    int
	secret  string
	queue   Enqueuer
	runner  Runner
	catalog *tool.Catalog
	store   RunArchive
	logger  zerolog.Logger

	listener    net.Listener
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *Broadcaster
	wsPort      *WSPort

	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Secret  string
	Queue   Enqueuer
	Runner  Runner
	Catalog *tool.Catalog
	Store   RunArchive

	// ConfirmTimeout bounds remote confirmations and questions; zero means
	// DefaultConfirmTimeout.
	ConfirmTimeout time.Duration

	Logger zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("tool catalog is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("run store is required")
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()
	broadcaster := NewBroadcaster(clients, logger)

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		secret:      cfg.Secret,
		queue:       cfg.Queue,
		runner:      cfg.Runner,
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		logger:      logger,
		clients:     clients,
		broadcaster: broadcaster,
		wsPort:      NewWSPort(broadcaster, cfg.ConfirmTimeout),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Port returns the interaction port backed by connected clients. Serve mode
// hands it to the orchestrator so runs stream through the gateway.
func (s *Server) Port() *WSPort {
	return s.wsPort
}

// Broadcaster returns the event broadcaster.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.requireAuth(s.handleCreateRun))
	mux.HandleFunc("GET /v1/runs/{id}", s.requireAuth(s.handleGetRun))
	mux.HandleFunc("GET /v1/tools", s.requireAuth(s.handleListTools))
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listener and begins serving in the background. It returns
// once the address is bound, so callers can dial Addr immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", s.host, s.port, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Gateway listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop announces shutdown, closes the event stream and shuts the HTTP
// server down. Queued runs are not waited for; draining the queue is the
// caller's job.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.broadcaster.BroadcastMessage(EventMessage{
		Event: "server.shutdown",
		Data:  map[string]any{"message": "server is shutting down"},
	})

	for _, client := range s.clients.All() {
		_ = client.Close()
		s.clients.Remove(client.ID)
	}

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// requireAuth guards an endpoint with the shared secret as a bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	var req CreateRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	for _, name := range req.Tools {
		if !s.catalog.Has(name) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tool: %s", name))
			return
		}
	}

	runID, err := gonanoid.New()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to generate run id")
		return
	}

	session := strings.TrimSpace(req.Session)
	if session == "" {
		session = DefaultSessionLane
	}

	// The run outlives this request, so its context derives from Background
	// and carries only the tracing identity.
	runCtx := tracing.WithSession(tracing.WithRunID(context.Background(), runID), session)

	err = s.queue.Enqueue(runCtx, session, "run:"+runID, func(ctx context.Context) error {
		return s.runTask(ctx, runID, req)
	})
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}

	s.logger.Info().
		Str("run_id", runID).
		Str("session", session).
		Msg("Run accepted")

	s.writeJSON(w, http.StatusAccepted, CreateRunResponse{RunID: runID})
}

// runTask executes an accepted run on its queue lane, archives the result
// under the ID handed out at submission and announces the archived record.
func (s *Server) runTask(ctx context.Context, runID string, req CreateRunRequest) error {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	result, err := s.runner(ctx, orchestrator.RunRequest{
		Task:         req.Task,
		SystemPrompt: req.SystemPrompt,
		Tools:        req.Tools,
		Metadata:     req.Metadata,
	})
	if err == nil && result == nil {
		err = fmt.Errorf("runner returned no result")
	}
	if result == nil {
		logger.Error().Err(err).Msg("Run failed before producing a result")
		return fmt.Errorf("run %s: %w", runID, err)
	}

	rec := runstore.NewRecord(req.Task, *result)
	rec.ID = runID
	if saveErr := s.store.SaveRun(ctx, rec); saveErr != nil {
		logger.Error().Err(saveErr).Msg("Failed to archive run")
	} else {
		s.broadcaster.BroadcastMessage(EventMessage{
			Event: "run.archived",
			RunID: runID,
			Data: map[string]any{
				"finish_reason": rec.FinishReason,
				"steps":         rec.Steps,
				"tool_calls":    rec.ToolCalls,
			},
		})
	}

	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	logger.Info().
		Str("finish_reason", string(result.FinishReason)).
		Int("steps", result.Steps).
		Msg("Run finished")

	return nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.catalog.FilterByTags(),
	})
}

// handleEvents upgrades the connection and hands it to the client loop.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		IP:          r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
	}

	go s.handleClient(client)
}

// handleClient authenticates the client and then reads frames until the
// connection drops. Broadcasts start flowing once the client is registered.
func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	// The first frame must carry the shared secret.
	_ = client.conn.SetReadDeadline(time.Now().Add(authTimeout))
	var auth authFrame
	if err := client.conn.ReadJSON(&auth); err != nil {
		s.logger.Warn().Str("client_id", client.ID).Msg("Client sent no auth frame")
		return
	}
	if subtle.ConstantTimeCompare([]byte(auth.Secret), []byte(s.secret)) != 1 {
		_ = client.WriteJSON(authResult{Event: "auth.failure", Message: "invalid secret"})
		s.logger.Warn().Str("client_id", client.ID).Str("ip", client.IP).Msg("Client failed authentication")
		return
	}

	_ = client.conn.SetReadDeadline(time.Time{})

	// Register before acking so a client that has seen auth.success never
	// misses a broadcast.
	s.clients.Add(client)
	if err := client.WriteJSON(authResult{Event: "auth.success"}); err != nil {
		return
	}

	s.logger.Info().Str("client_id", client.ID).Str("ip", client.IP).Msg("Client connected")

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("WebSocket read error")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Debug().Str("client_id", client.ID).Msg("Ignoring malformed frame")
			continue
		}
		if err := s.wsPort.Resolve(frame); err != nil {
			// Late or duplicate answers are routine after a timeout.
			s.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Frame resolved nothing")
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// Broadcast delivers a run event to every connected client.
func (s *Server) Broadcast(ev interaction.Event) {
	s.broadcaster.Broadcast(ev)
}
