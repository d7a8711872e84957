// Package agent drives a reasoning engine through a bounded tool-use loop.
//
// A run is an explicit state machine:
//
//	Start -> Thinking -> (ToolCall -> Observing -> Thinking)* -> Finished | Failed
//
// Invariants:
//   - Tool names chosen by the engine are checked against the registry before dispatch.
//   - Tool failures become observations; they never end a run on their own.
//   - A run ends with MaxIterationsExceededError once the engine asks for a tool past the bound.
//   - A run ends with TimeoutError when its wall-clock budget expires, abandoning any in-flight tool.
//   - With memory attached, a finished run appends exactly one user and one assistant turn.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.LoopConfig{
//		Provider: agent.NewOpenAIProvider(key, ""),
//		Tools:    registry,
//		Config:   agent.DefaultConfig(),
//	})
//	result, err := loop.Run(ctx, "What is 25 * 48?")
package agent
