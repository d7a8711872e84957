// Package orchestrator builds agents and runs queries through them.
//
// The Factory assembles one agent per run: it picks a credential profile,
// registers the tool catalog for the requested variant, attaches a memory
// store for the advanced variant and wires a reasoning loop. The Dispatcher
// resolves per-run options against its defaults, drives the loop once and
// converts every outcome into a RunResult.
//
// Invariants:
//   - Build checks credentials before the variant, and the variant before the configuration.
//   - Dispatcher.Run never panics and never returns an error; failures have
//     Success false, Error set and Output prefixed with ErrorPrefix.
//   - The basic variant never touches a memory store.
//   - Runs sharing a per-session store execute one at a time.
//
// Usage:
//
//	factory := orchestrator.NewFactory(orchestrator.FactoryConfig{Profiles: profiles})
//	dispatcher, _ := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{Factory: factory})
//	res := dispatcher.Run(ctx, "Calculate 25 * 48", "basic", orchestrator.RunOptions{})
package orchestrator
