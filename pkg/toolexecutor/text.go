package toolexecutor

import (
	"context"
	"fmt"
)

// InputParam is the single parameter of a text-in/text-out tool.
const InputParam = "input"

// TextHandler is a tool body that maps one string to another.
type TextHandler func(ctx context.Context, input string) (string, error)

// TextTool builds a definition with a single required string parameter named "input".
func TextTool(name, description string, fn TextHandler) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: []ToolParameter{
			{Name: InputParam, Type: "string", Description: "Tool input", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			input, ok := params[InputParam].(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must be a string", InputParam)
			}
			return fn(ctx, input)
		},
	}
}

// InvokeText calls a text tool with a raw string input.
func (te *ToolExecutor) InvokeText(ctx context.Context, name, input string) (string, error) {
	return te.Invoke(ctx, name, map[string]interface{}{InputParam: input})
}
