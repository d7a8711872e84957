package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for session IDs the manager never issued.
var ErrSessionNotFound = errors.New("session not found")

// Lifetime controls how long a memory store lives.
type Lifetime string

const (
	// LifetimePerRequest gives every run its own empty store.
	LifetimePerRequest Lifetime = "per-request"
	// LifetimePerSession binds a store to a session ID across runs.
	LifetimePerSession Lifetime = "per-session"
)

// ParseLifetime maps a config value to a Lifetime. Empty means per-request.
func ParseLifetime(value string) (Lifetime, error) {
	switch Lifetime(value) {
	case "", LifetimePerRequest:
		return LifetimePerRequest, nil
	case LifetimePerSession:
		return LifetimePerSession, nil
	default:
		return "", fmt.Errorf("invalid memory lifetime %q: must be %s or %s", value, LifetimePerRequest, LifetimePerSession)
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Lifetime Lifetime
	Store    StoreOptions
	// Journal persists per-session stores. Nil keeps sessions in memory only.
	Journal Journal
	Logger  zerolog.Logger
}

// Manager hands out memory stores according to the configured lifetime.
type Manager struct {
	cfg      ManagerConfig
	mu       sync.Mutex
	sessions map[string]*Store
}

// NewManager creates a Manager. An empty lifetime defaults to per-request.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Lifetime == "" {
		cfg.Lifetime = LifetimePerRequest
	}
	observability.EnsureRegistered()
	return &Manager{cfg: cfg, sessions: make(map[string]*Store)}
}

// Lifetime reports the lifetime in effect.
func (m *Manager) Lifetime() Lifetime {
	return m.cfg.Lifetime
}

// Acquire returns the store a run should use and the session ID it is bound to.
// Under per-request lifetime, or with an empty sessionID, a fresh unbound store
// is returned and the ID is empty. Under per-session lifetime only IDs that were
// opened or journaled are accepted; anything else is ErrSessionNotFound.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Store, string, error) {
	if m.cfg.Lifetime != LifetimePerSession || sessionID == "" {
		return m.newStore(""), "", nil
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.sessions[sessionID]; ok {
		return store, sessionID, nil
	}
	if m.cfg.Journal == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	journaled, err := m.cfg.Journal.Exists(sessionID)
	if err != nil {
		return nil, "", err
	}
	if !journaled {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	store, err := m.open(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return store, sessionID, nil
}

// Open returns the store for sessionID, creating the session if it is new.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Store, error) {
	if m.cfg.Lifetime != LifetimePerSession {
		return nil, fmt.Errorf("sessions require %s memory lifetime", LifetimePerSession)
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.sessions[sessionID]; ok {
		return store, nil
	}
	return m.open(ctx, sessionID)
}

// open loads a session from the journal, if any, and registers it. m.mu must be held.
func (m *Manager) open(ctx context.Context, sessionID string) (*Store, error) {
	store := m.newStore(sessionID)
	if m.cfg.Journal != nil {
		turns, err := m.cfg.Journal.Load(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
		if turns == nil {
			// An empty journal marks the session as issued across restarts.
			if err := m.cfg.Journal.Append(ctx, sessionID, nil); err != nil {
				return nil, fmt.Errorf("failed to create session %s: %w", sessionID, err)
			}
		}
		store.restore(turns)
	}
	m.sessions[sessionID] = store
	observability.SetActiveSessions(len(m.sessions))

	logger := tracing.LoggerFromContext(ctx, m.cfg.Logger)
	logger.Debug().
		Str("session_id", sessionID).
		Int("turns", store.Len()).
		Msg("Session store opened")

	return store, nil
}

// CreateSession mints a new session ID and opens its store.
func (m *Manager) CreateSession(ctx context.Context) (string, error) {
	if m.cfg.Lifetime != LifetimePerSession {
		return "", fmt.Errorf("sessions require %s memory lifetime", LifetimePerSession)
	}
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	if _, err := m.Open(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) newStore(sessionID string) *Store {
	store := NewStore(m.cfg.Store)
	lifetime := string(m.cfg.Lifetime)
	journal := m.cfg.Journal
	logger := m.cfg.Logger

	store.onAppend = func(added []Turn, size int) {
		observability.SetMemoryTurns(lifetime, size)
		if sessionID == "" || journal == nil {
			return
		}
		if err := journal.Append(context.Background(), sessionID, added); err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to journal turns")
		}
	}
	return store
}

// Delete forgets a session, including its journal. A session that is neither
// open nor journaled is ErrSessionNotFound.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if m.cfg.Journal != nil {
		journaled, err := m.cfg.Journal.Exists(sessionID)
		if err != nil {
			return err
		}
		if journaled {
			if err := m.cfg.Journal.Delete(ctx, sessionID); err != nil {
				return err
			}
			existed = true
		}
	}
	if !existed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// List returns the IDs of live session stores, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live session stores.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep unloads stores idle for longer than maxIdle and returns how many went.
// Journaled turns stay on disk and are reloaded on the next Acquire.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, store := range m.sessions {
		if store.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	observability.SetActiveSessions(len(m.sessions))

	if removed > 0 {
		m.cfg.Logger.Info().Int("removed", removed).Int("remaining", len(m.sessions)).Msg("Idle sessions swept")
	}
	return removed
}
