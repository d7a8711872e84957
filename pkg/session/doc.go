// Package session holds conversational memory for stateful agents.
//
// A Store is an ordered log of user and assistant turns. The Manager decides
// store lifetime explicitly: per-request hands out a fresh store for every run,
// per-session binds a store to a session ID so follow-up runs see earlier turns.
//
// Invariants:
//   - Appends and snapshots on one store are serialized by the store's mutex.
//   - A store never exceeds its turn and token caps; the oldest turns go first.
//   - Session IDs are validated and path-safe before touching the journal.
//   - Under per-session lifetime only minted or journaled IDs resolve to a store.
//
// Usage:
//
//	mgr := session.NewManager(session.ManagerConfig{Lifetime: session.LifetimePerSession})
//	id, _ := mgr.CreateSession(ctx)
//	store, _, _ := mgr.Acquire(ctx, id)
//	_ = store.AppendExchange("What is 2+2?", "4")
//	turns := store.Snapshot()
package session
