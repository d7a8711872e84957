package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// streamConn serializes writes to one websocket.
type streamConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	failed bool
	logger zerolog.Logger
}

func (c *streamConn) send(evt StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := c.conn.WriteJSON(evt); err != nil {
		c.failed = true
		c.logger.Warn().Err(err).Str("event", evt.Event).Msg("Failed to write stream event")
	}
}

func (c *streamConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// handleStream runs one request received over a websocket, sending every loop
// transition and then the result.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	logger := tracing.LoggerFromContext(r.Context(), s.logger).With().Str("clientId", clientID).Logger()
	sc := &streamConn{conn: conn, logger: logger}
	defer sc.close()

	logger.Info().Str("ip", clientIP(r)).Msg("Stream client connected")

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	var req RunRequest
	if err := conn.ReadJSON(&req); err != nil {
		sc.send(StreamEvent{Event: EventError, Error: msgInvalidBody})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		sc.send(StreamEvent{Event: EventError, Error: msgQueryRequired})
		return
	}

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	result := s.cfg.Runner.Run(ctx, req.Query, req.AgentType, req.Options, func(t agent.Transition) {
		sc.send(StreamEvent{Event: EventTransition, Transition: &t})
	})
	sc.send(StreamEvent{Event: EventResult, Data: &result})

	logger.Info().Bool("success", result.Success).Msg("Stream run finished")
}
