package toolexecutor

import (
	"fmt"
	"strings"
)

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// UnknownToolError is returned when a name does not resolve to a registered tool.
// Known lists the registered names at the time of the lookup.
type UnknownToolError struct {
	Name  string
	Known []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown tool: %s", e.Name)
	}
	return fmt.Sprintf("unknown tool: %s (available: %s)", e.Name, strings.Join(e.Known, ", "))
}

// ToolExecutionError wraps any failure raised while a tool handler ran.
type ToolExecutionError struct {
	ToolName string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
