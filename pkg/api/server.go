// Package api exposes the HTTP and WebSocket surface of flowscope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/config"
	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/masking"
	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/services"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// Server is the HTTP API server.
type Server struct {
	cfg          *config.Config
	engine       *gin.Engine
	httpServer   *http.Server
	dbClient     *database.Client
	eventService *services.EventService
	publisher    *events.EventPublisher
	monitor      *monitor.Monitor
	connManager  *events.ConnectionManager // nil disables /api/v1/ws
	replay       *timeline.Reducer
	masker       *masking.Service
}

// NewServer creates a new API server with all routes registered.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	eventService *services.EventService,
	publisher *events.EventPublisher,
	mon *monitor.Monitor,
	connManager *events.ConnectionManager,
) *Server {
	s := &Server{
		cfg:          cfg,
		engine:       gin.New(),
		dbClient:     dbClient,
		eventService: eventService,
		publisher:    publisher,
		monitor:      mon,
		connManager:  connManager,
		replay:       timeline.NewReducer(cfg.Reducer.Timeline(timeline.ModeReplay)),
		masker:       masking.NewService(cfg.Masking),
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger())
	s.engine.Use(securityHeaders())

	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/ws", s.wsHandler)

	wf := v1.Group("/workflows/:id")
	wf.POST("/events", s.appendEventsHandler)
	wf.GET("/events", s.listEventsHandler)
	wf.DELETE("/events", s.resetWorkflowHandler)
	wf.GET("/session", s.sessionHandler)
	wf.GET("/sections", s.sectionsHandler)
	wf.GET("/subagents", s.subagentsHandler)
	wf.GET("/replay", s.replayHandler)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves HTTP on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves HTTP on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("HTTP server listening", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
