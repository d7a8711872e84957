package gateway

import (
	"encoding/json"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/orchestrator"
)

// RunToolName is the only tool the tool-calling endpoint accepts.
const RunToolName = "runAgent"

// Response messages
const (
	msgQueryRequired     = "Query is required"
	msgToolQueryRequired = "Query parameter is required"
	msgInvalidBody       = "Invalid request body"
	msgShuttingDown      = "Server is shutting down"
	msgRateLimited       = "Rate limit exceeded"
)

// RunRequest is the body of POST /api/agent/run and the arguments of the runAgent tool.
type RunRequest struct {
	Query     string                  `json:"query"`
	AgentType string                  `json:"agentType,omitempty"`
	Options   orchestrator.RunOptions `json:"options"`
}

// ToolRequest is the body of POST /api/agent/tool.
type ToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResponse is a RunResult with the tool call echoed back.
type ToolResponse struct {
	orchestrator.RunResult
	ToolName string          `json:"toolName"`
	ToolArgs json.RawMessage `json:"toolArgs,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every adapter-level rejection.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SessionResponse is the body of POST /api/agent/session.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

// Stream event names
const (
	EventTransition = "transition"
	EventResult     = "result"
	EventError      = "error"
)

// StreamEvent is one websocket message of GET /api/agent/stream.
type StreamEvent struct {
	Event      string                  `json:"event"`
	Transition *agent.Transition       `json:"transition,omitempty"`
	Data       *orchestrator.RunResult `json:"data,omitempty"`
	Error      string                  `json:"error,omitempty"`
}
