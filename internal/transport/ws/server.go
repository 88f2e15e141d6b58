// Package ws is the WebSocket transport: it upgrades HTTP requests, registers
// each connection with the registry, and pumps JSON envelopes between the
// socket and the room coordinator.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/voiceroom/internal/config"
	"github.com/cory-johannsen/voiceroom/internal/registry"
	"github.com/cory-johannsen/voiceroom/internal/wire"
)

// Handler consumes inbound envelopes and connection loss.
type Handler interface {
	Handle(ctx context.Context, connID string, env wire.Envelope)
	Disconnect(ctx context.Context, connID string)
}

// Readiness reports whether the server can accept new sessions.
type Readiness interface {
	Ready() bool
}

// Server serves /ws and /health.
type Server struct {
	cfg      config.ServerConfig
	reg      *registry.Registry
	handler  Handler
	ready    Readiness
	timeout  time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	httpSrv  *http.Server
	conns    map[string]*websocket.Conn
	stopping bool
	wg       sync.WaitGroup
}

// NewServer creates a WebSocket server.
//
// Precondition: reg, handler, ready, and logger must be non-nil; opTimeout > 0.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.ServerConfig, reg *registry.Registry, handler Handler, ready Readiness, opTimeout time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		handler: handler,
		ready:   ready,
		timeout: opTimeout,
		logger:  logger,
		conns:   make(map[string]*websocket.Conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// Routes returns the HTTP handler for the server's endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/ws", s.serveWs)
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	if s.isStopping() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.ready.Ready() {
		http.Error(w, "room store unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	id := uuid.NewString()
	outbox, err := s.reg.Register(id)
	if err != nil {
		s.logger.Error("registering connection", zap.String("conn_id", id), zap.Error(err))
		conn.Close()
		return
	}

	// Stop may have begun during the upgrade; the WaitGroup must not grow after it waits.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.reg.Unregister(id)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.conns[id] = conn
	s.wg.Add(2)
	s.mu.Unlock()

	if hello, err := wire.Encode(wire.Connected, wire.Hello{ConnectionID: id}); err == nil {
		_ = outbox.Push(hello)
	}

	c := &client{
		id:      id,
		conn:    conn,
		outbox:  outbox,
		handler: s.handler,
		timeout: s.timeout,
		logger:  s.logger,
	}
	s.logger.Info("client connected",
		zap.String("conn_id", id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		start := time.Now()
		c.readPump(s.cfg.ReadLimit)
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.logger.Info("client disconnected",
			zap.String("conn_id", id),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

// ListenAndServe accepts connections until Stop is called.
//
// Postcondition: Returns nil after Stop; a listen error otherwise.
func (s *Server) ListenAndServe() error {
	start := time.Now()
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop shuts the HTTP listener down, closes every live connection, and waits
// for their pumps to finish. Each closed connection goes through the
// handler's Disconnect. Upgrades arriving after Stop begins are refused.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
