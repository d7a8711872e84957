package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/orchestrator"
	"github.com/harun/agentapi/pkg/session"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Runner executes one agent run. orchestrator.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, query, variant string, opts orchestrator.RunOptions, observers ...agent.TransitionFunc) orchestrator.RunResult
}

// Config holds server configuration
type Config struct {
	Host string
	Port int
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins        []string
	RateLimitPerMinute int
	// RequestTimeout bounds one run started over HTTP. Zero leaves it to the agent timeout.
	RequestTimeout time.Duration
	MetricsEnabled bool
	Runner         Runner
	// Sessions backs the session endpoints. Nil disables them.
	Sessions *session.Manager
	Logger   zerolog.Logger
}

// Server is the HTTP transport adapter in front of the run dispatcher.
type Server struct {
	cfg      Config
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	limiter  *RateLimiter
	logger   zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	observability.EnsureRegistered()

	s := &Server{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute),
		logger:  cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin) != ""
		},
	}
	return s, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/agent/run", s.handleRun)
	mux.HandleFunc("POST /api/agent/tool", s.handleTool)
	mux.HandleFunc("POST /api/agent/session", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/agent/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/agent/stream", s.handleStream)
	if s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", observability.MetricsHandler())
	}

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors(h)
	h = s.track(h)
	h = s.logRequests(h)
	h = s.recoverer(h)
	return h
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	base := fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	s.logger.Info().Str("addr", listener.Addr().String()).Msgf("Agent API server running on port %d", s.cfg.Port)
	s.logger.Info().Msgf("Health check available at %s/health", base)
	s.logger.Info().Msgf("Agent endpoint available at %s/api/agent/run", base)
	s.logger.Info().Msgf("Tool calling endpoint available at %s/api/agent/tool", base)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown rejects new requests, waits for in-flight ones until ctx is done,
// then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
