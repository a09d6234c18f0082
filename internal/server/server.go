// Package server exposes agent runs over HTTP. A run is started with a
// single instruction and observed as an ordered event stream; the same
// frames are delivered over SSE and websocket. The package also owns the
// process lifecycle: it runs the event router and journal sink, and
// shuts everything down in order.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/events"
	"github.com/xkilldash9x/operator-cli/internal/journal"
)

var serverJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Time allowed to write a message to the websocket peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from the peer.
	maxMessageSize = 4096
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins. The server fronts a private sandbox, not a
	// browser-facing product surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsControlMessage is what a websocket client may send after the initial
// run request. Only cancellation is recognized.
type wsControlMessage struct {
	Type string `json:"type"`
}

// Server is the HTTP front end for agent runs.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	manager *Manager
	journal *journal.Journal
	events  *events.Router
	sink    *journal.Sink

	httpServer *http.Server
}

// New builds the server and its route table. The journal sink is
// registered on the event router here, before the router starts
// delivering.
func New(cfg *config.Config, manager *Manager, jnl *journal.Journal, eventRouter *events.Router, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("HTTPServer"),
		manager: manager,
		journal: jnl,
		events:  eventRouter,
		sink:    journal.NewSink(jnl, logger),
	}
	s.events.AddSink("journal", s.sink.Handle)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.RateLimit.Enabled {
			r.Use(rateLimitMiddleware(cfg.Server.RateLimit))
		}
		r.Post("/chat", s.handleChatSSE)
		r.Post("/runs/{runID}/cancel", s.handleCancelRun)
		r.Get("/runs/{runID}/events", s.handleRunEvents)
	})

	r.Get("/ws/v1/chat", s.handleChatWS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully. It owns
// the event router and journal sink goroutines for the life of the
// process.
func (s *Server) Run(ctx context.Context) error {
	routerCtx, cancelRouter := context.WithCancel(context.Background())
	defer cancelRouter()
	go func() {
		if err := s.events.Run(routerCtx); err != nil {
			s.logger.Error("Event router stopped unexpectedly", zap.Error(err))
		}
	}()
	select {
	case <-s.events.Running():
	case <-ctx.Done():
		return ctx.Err()
	}

	sinkCtx, cancelSink := context.WithCancel(context.Background())
	defer cancelSink()
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		s.sink.Run(sinkCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal, shutting down gracefully...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. Cancel active runs so their streams terminate and handlers can
	//    finish. Sessions close themselves as each run winds down.
	s.manager.StopAll(shutdownCtx)

	// 2. Drain the HTTP server.
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown did not complete cleanly", zap.Error(err))
	}

	// 3. Flush buffered journal writes.
	cancelSink()
	select {
	case <-sinkDone:
	case <-shutdownCtx.Done():
		s.logger.Warn("Timed out waiting for journal sink to flush")
	}

	// 4. Stop event delivery.
	cancelRouter()
	if err := s.events.Close(); err != nil {
		s.logger.Warn("Failed to close event router", zap.Error(err))
	}

	s.logger.Info("Server stopped")
	return serveErr
}

// rateLimitMiddleware applies a global token bucket to the API routes.
func rateLimitMiddleware(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.manager.ActiveRuns(),
	})
}

// handleChatSSE starts a run and streams its events as server-sent
// events. The request context doubles as the run's parent, so a client
// that disconnects cancels its run.
func (s *Server) handleChatSSE(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := serverJSON.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.manager.StartRun(r.Context(), req)
	if err != nil {
		s.writeStartError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		run.Cancel()
		drain(run)
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range run.Events() {
		if _, err := w.Write(ev.Frame()); err != nil {
			s.logger.Debug("SSE client went away mid-stream", zap.String("run_id", run.ID), zap.Error(err))
			run.Cancel()
			drain(run)
			return
		}
		flusher.Flush()
	}
}

// handleChatWS starts a run from the first websocket message and streams
// the same frames SSE would carry. A {"type":"cancel"} message or a
// closed connection cancels the run.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var req RunRequest
	if _, payload, err := conn.ReadMessage(); err != nil {
		return
	} else if err := serverJSON.Unmarshal(payload, &req); err != nil {
		s.writeWSError(conn, "invalid request payload")
		return
	}

	// The websocket connection is hijacked, so the request context no
	// longer tracks the client. Disconnects surface as read errors.
	run, err := s.manager.StartRun(context.Background(), req)
	if err != nil {
		s.writeWSError(conn, err.Error())
		return
	}

	go s.readWSControl(conn, run)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ev.Frame()); err != nil {
				run.Cancel()
				drain(run)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				run.Cancel()
				drain(run)
				return
			}
		}
	}
}

// readWSControl watches the peer for cancellation and disconnects while
// the write side streams events.
func (s *Server) readWSControl(conn *websocket.Conn, run *Run) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Websocket closed unexpectedly", zap.String("run_id", run.ID), zap.Error(err))
			}
			run.Cancel()
			return
		}
		var msg wsControlMessage
		if err := serverJSON.Unmarshal(payload, &msg); err == nil && msg.Type == "cancel" {
			s.logger.Info("Websocket client requested cancellation", zap.String("run_id", run.ID))
			run.Cancel()
		}
	}
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.manager.Cancel(runID) {
		writeJSONError(w, http.StatusNotFound, "unknown run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "cancelling",
	})
}

// runEventEntry is the journal read model exposed over the API.
type runEventEntry struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// handleRunEvents replays a run's persisted events from the journal.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if !s.journal.Enabled() {
		writeJSONError(w, http.StatusNotFound, "run journal is disabled")
		return
	}

	runID := chi.URLParam(r, "runID")
	records, err := s.journal.ListRunEvents(r.Context(), runID)
	if err != nil {
		s.logger.Error("Failed to list run events", zap.String("run_id", runID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load run events")
		return
	}

	entries := make([]runEventEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, runEventEntry{
			Seq:     rec.Seq,
			Type:    rec.Type,
			Payload: rec.Payload,
			At:      rec.At,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeStartError maps StartRun failures onto HTTP status codes.
func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	var cfgErr *schemas.ConfigurationError
	switch {
	case errors.Is(err, ErrEmptyInstruction):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooManyRuns):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &cfgErr):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Failed to start run", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to start run")
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, msg string) {
	payload, err := serverJSON.Marshal(map[string]string{"error": msg})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

// drain consumes the remainder of a cancelled run's stream so its pump
// can finish tearing down.
func drain(run *Run) {
	for range run.Events() {
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = serverJSON.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
