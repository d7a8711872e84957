package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/orchestrator"
	"github.com/harun/agentapi/pkg/session"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

// decodeBody reads one JSON value. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func variantLabel(agentType string) string {
	if agentType == "" {
		return string(orchestrator.VariantBasic)
	}
	return agentType
}

// runContext applies the request timeout, if any.
func (s *Server) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Message: "Agent API is running"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, msgQueryRequired)
		return
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().
		Str("agent_type", variantLabel(req.AgentType)).
		Str("query", req.Query).
		Msgf("Received request to run %s agent", variantLabel(req.AgentType))

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	result := s.cfg.Runner.Run(ctx, req.Query, req.AgentType, req.Options)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var req ToolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Name != RunToolName {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown tool: %s", req.Name))
		return
	}

	var args RunRequest
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidBody)
			return
		}
	}
	if strings.TrimSpace(args.Query) == "" {
		writeError(w, http.StatusBadRequest, msgToolQueryRequired)
		return
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().
		Str("tool", req.Name).
		Str("query", args.Query).
		Msg("Received tool call request")

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	result := s.cfg.Runner.Run(ctx, args.Query, args.AgentType, args.Options)
	writeJSON(w, http.StatusOK, ToolResponse{
		RunResult: result,
		ToolName:  req.Name,
		ToolArgs:  req.Arguments,
	})
}

// sessionsEnabled reports whether session endpoints can serve.
func (s *Server) sessionsEnabled(w http.ResponseWriter) bool {
	if s.cfg.Sessions == nil || s.cfg.Sessions.Lifetime() != session.LifetimePerSession {
		writeError(w, http.StatusConflict, fmt.Sprintf("sessions require %s memory lifetime", session.LifetimePerSession))
		return false
	}
	return true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	id, err := s.cfg.Sessions.CreateSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", err))
		return
	}
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().Str("session_id", id).Msg("Session created")
	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: id})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := session.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.sessionsEnabled(w) {
		return
	}
	if err := s.cfg.Sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
