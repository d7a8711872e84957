package coretools

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/browser"
	"github.com/harun/agentapi/pkg/memory"
	"github.com/harun/agentapi/pkg/toolexecutor"
)

var errEmptyInput = errors.New("input is empty")

// Deps are the shared services tools delegate to.
type Deps struct {
	// Provider and Config serve tools that make their own engine call.
	Provider agent.LLMProvider
	Config   agent.AgentConfig

	Fetcher browser.Fetcher
	// Index is optional; without it the leading chunks of each page are used.
	Index     *memory.PageIndex
	MaxChunks int
	// CacheTTL reuses an indexed page for this long. Zero refetches every call.
	CacheTTL time.Duration
}

// BasicTools is the catalog of the basic variant.
func BasicTools(deps Deps) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		CalculatorTool(),
		WeatherTool(),
		WebBrowserTool(deps),
	}
}

// AdvancedTools is the basic catalog plus summarization and database lookup.
func AdvancedTools(deps Deps) []toolexecutor.ToolDefinition {
	return append(BasicTools(deps),
		DatabaseTool(),
		SummarizeTool(deps.Provider, deps.Config),
	)
}

// Register adds every definition to the executor.
func Register(executor *toolexecutor.ToolExecutor, defs []toolexecutor.ToolDefinition) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	for _, def := range defs {
		if err := executor.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}
