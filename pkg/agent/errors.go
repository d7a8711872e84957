package agent

import (
	"fmt"
	"time"
)

// MissingCredentialsError means no usable engine credential is configured.
type MissingCredentialsError struct {
	Provider string
}

func (e *MissingCredentialsError) Error() string {
	if e.Provider == "" {
		return "missing credentials: no reasoning engine API key is configured"
	}
	return fmt.Sprintf("missing credentials: no API key configured for provider %s", e.Provider)
}

// EngineError wraps a failure of the reasoning engine itself: transport, auth or a malformed reply.
type EngineError struct {
	Provider string
	Cause    error
}

func (e *EngineError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("reasoning engine error: %v", e.Cause)
	}
	return fmt.Sprintf("reasoning engine error (%s): %v", e.Provider, e.Cause)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// MaxIterationsExceededError means the engine kept requesting tools past the iteration bound.
type MaxIterationsExceededError struct {
	Limit int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("agent stopped after reaching the maximum of %d iterations without a final answer", e.Limit)
}

// TimeoutError means the run exceeded its wall-clock budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent run timed out after %s", e.After)
}
