package orchestrator

import (
	"fmt"
	"strings"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/session"
	"github.com/harun/agentapi/pkg/toolexecutor"
)

// Variant selects the tool catalog and whether memory is attached.
type Variant string

const (
	VariantBasic    Variant = "basic"
	VariantAdvanced Variant = "advanced"
)

// ErrorPrefix starts the output of every failed run.
const ErrorPrefix = "Error executing agent: "

// UnknownVariantError is returned for an agent type outside the closed set.
type UnknownVariantError struct {
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown agent type: %s", e.Variant)
}

// ParseVariant maps an agent type string to a Variant. Empty means basic.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantBasic:
		return VariantBasic, nil
	case VariantAdvanced:
		return VariantAdvanced, nil
	default:
		return "", &UnknownVariantError{Variant: s}
	}
}

// HasMemory reports whether runs of v read and write a memory store.
func (v Variant) HasMemory() bool {
	return v == VariantAdvanced
}

// Agent is a built, ready-to-run agent.
type Agent struct {
	Variant Variant
	Loop    *agent.Loop
	Tools   *toolexecutor.ToolExecutor
	// Memory is nil for the basic variant.
	Memory *session.Store
	// SessionID is set when Memory is bound to a session.
	SessionID string
}

// BuildOptions are per-build settings outside AgentConfig.
type BuildOptions struct {
	SessionID    string
	OnTransition agent.TransitionFunc
}

// RunOptions are caller overrides for one run. ModelName is accepted as an
// alias of ModelIdentifier.
type RunOptions struct {
	ModelIdentifier string   `json:"modelIdentifier,omitempty"`
	ModelName       string   `json:"modelName,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	SessionID       string   `json:"sessionId,omitempty"`
}

// Model returns the requested model, preferring ModelIdentifier.
func (o RunOptions) Model() string {
	if m := strings.TrimSpace(o.ModelIdentifier); m != "" {
		return m
	}
	return strings.TrimSpace(o.ModelName)
}

// RunResult is the outcome of exactly one run. Error is present only when
// Success is false.
type RunResult struct {
	Output     string `json:"output"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// failure builds the normalized result for err.
func failure(msg, sessionID string) RunResult {
	return RunResult{
		Output:    ErrorPrefix + msg,
		Success:   false,
		Error:     msg,
		SessionID: sessionID,
	}
}
