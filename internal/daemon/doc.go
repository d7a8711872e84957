// Package daemon assembles the agent service from configuration.
//
// New builds the core modules (command queue, session manager, page fetcher,
// page index, agent factory and run dispatcher) and fails fast when no
// reasoning engine credential is configured. Start brings up the HTTP gateway
// and the idle session sweep; Stop drains in-flight requests and queued runs
// before releasing everything. One-shot commands use New, the dispatcher and
// Close without ever calling Start.
package daemon
