package coretools

import (
	"context"
	"strings"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/toolexecutor"
)

const (
	SummarizeName = "summarizeTool"
	summarizeDesc = "Summarizes a long piece of text into a shorter summary."
)

// SummaryPrompt is the single-shot prompt sent for summarization.
func SummaryPrompt(input string) string {
	return "Summarize the following content in 1-2 sentences:\n\n" + input
}

// SummarizeTool asks the engine for a one or two sentence summary. It is one
// engine call, not a reasoning loop.
func SummarizeTool(provider agent.LLMProvider, cfg agent.AgentConfig) toolexecutor.ToolDefinition {
	return toolexecutor.TextTool(SummarizeName, summarizeDesc, func(ctx context.Context, input string) (string, error) {
		if strings.TrimSpace(input) == "" {
			return "", errEmptyInput
		}
		return agent.Complete(ctx, provider, cfg, SummaryPrompt(input))
	})
}
