// Package toolexecutor is the tool registry agents dispatch to by name.
//
// Invariants:
//   - Tool names are unique; a second registration fails with DuplicateToolError.
//   - Names the registry does not hold fail with UnknownToolError and are never invoked.
//   - Parameters are schema-validated before execution.
//   - Handler failures, panics and timeouts surface as ToolExecutionError, never as a crash.
//
// Usage:
//
//	reg := toolexecutor.New()
//	_ = reg.RegisterTool(toolexecutor.TextTool("echo", "Echo input", func(ctx context.Context, in string) (string, error) {
//		return in, nil
//	}))
//	out, err := reg.Invoke(ctx, "echo", map[string]interface{}{"input": "hi"})
package toolexecutor
