package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T, lifetime Lifetime, journal Journal) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Lifetime: lifetime,
		Store:    StoreOptions{MaxTurns: 100},
		Journal:  journal,
		Logger:   zerolog.Nop(),
	})
}

func TestParseLifetime(t *testing.T) {
	tests := []struct {
		in      string
		want    Lifetime
		wantErr bool
	}{
		{"", LifetimePerRequest, false},
		{"per-request", LifetimePerRequest, false},
		{"per-session", LifetimePerSession, false},
		{"global", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLifetime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("should hand out fresh stores under per-request lifetime", func(t *testing.T) {
		m := testManager(t, LifetimePerRequest, nil)

		a, idA, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		b, _, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)

		assert.Empty(t, idA)
		assert.NotSame(t, a, b)
		assert.Equal(t, 0, m.Count())
	})

	t.Run("should share a store per session id", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		opened, err := m.Open(ctx, "s1")
		require.NoError(t, err)

		a, id, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)
		assert.Same(t, opened, a)
		require.NoError(t, a.AppendExchange("q", "a"))

		b, _, err := m.Acquire(ctx, "s1")
		require.NoError(t, err)

		assert.Equal(t, "s1", id)
		assert.Same(t, a, b)
		assert.Equal(t, 2, b.Len())
		assert.Equal(t, []string{"s1"}, m.List())
	})

	t.Run("should fall back to a fresh store without a session id", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		store, id, err := m.Acquire(ctx, "")
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.Empty(t, id)
		assert.Equal(t, 0, m.Count())
	})

	t.Run("should reject ids that were never issued", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		_, _, err := m.Acquire(ctx, "made-up")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Equal(t, 0, m.Count())

		journal, err := NewFileJournal(t.TempDir())
		require.NoError(t, err)
		_, _, err = testManager(t, LifetimePerSession, journal).Acquire(ctx, "made-up")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("should reject unsafe session ids", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		for _, id := range []string{"../etc", "a/b", "a\\b", "a\x00b"} {
			_, _, err := m.Acquire(ctx, id)
			assert.Error(t, err, id)
		}
	})
}

func TestManager_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should mint distinct ids", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		a, err := m.CreateSession(ctx)
		require.NoError(t, err)
		b, err := m.CreateSession(ctx)
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.Len(t, a, 21)
		assert.Equal(t, 2, m.Count())
	})

	t.Run("should refuse under per-request lifetime", func(t *testing.T) {
		_, err := testManager(t, LifetimePerRequest, nil).CreateSession(ctx)
		assert.Error(t, err)
	})
}

func TestManager_Journal(t *testing.T) {
	ctx := context.Background()

	t.Run("should restore journaled turns in a new manager", func(t *testing.T) {
		dir := t.TempDir()
		journal, err := NewFileJournal(dir)
		require.NoError(t, err)

		first := testManager(t, LifetimePerSession, journal)
		store, err := first.Open(ctx, "persisted")
		require.NoError(t, err)
		require.NoError(t, store.AppendExchange("hello", "hi there"))

		_, err = os.Stat(filepath.Join(dir, "persisted.jsonl"))
		require.NoError(t, err)

		second := testManager(t, LifetimePerSession, journal)
		restored, _, err := second.Acquire(ctx, "persisted")
		require.NoError(t, err)

		turns := restored.Snapshot()
		require.Len(t, turns, 2)
		assert.Equal(t, "hello", turns[0].Content)
		assert.Equal(t, "hi there", turns[1].Content)
	})

	t.Run("should accept an empty session minted before a restart", func(t *testing.T) {
		journal, err := NewFileJournal(t.TempDir())
		require.NoError(t, err)

		id, err := testManager(t, LifetimePerSession, journal).CreateSession(ctx)
		require.NoError(t, err)

		store, got, err := testManager(t, LifetimePerSession, journal).Acquire(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("should delete the journal with the session", func(t *testing.T) {
		journal, err := NewFileJournal(t.TempDir())
		require.NoError(t, err)

		m := testManager(t, LifetimePerSession, journal)
		store, err := m.Open(ctx, "gone")
		require.NoError(t, err)
		require.NoError(t, store.AppendExchange("q", "a"))

		require.NoError(t, m.Delete(ctx, "gone"))
		ids, err := journal.List()
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Equal(t, 0, m.Count())

		assert.ErrorIs(t, m.Delete(ctx, "gone"), ErrSessionNotFound)
	})

	t.Run("should skip corrupt journal lines", func(t *testing.T) {
		dir := t.TempDir()
		journal, err := NewFileJournal(dir)
		require.NoError(t, err)

		content := `{"sessionId":"c","turn":{"role":"user","content":"ok"}}
not json
{"sessionId":"c","turn":{"role":"robot","content":"bad role"}}
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jsonl"), []byte(content), 0600))

		turns, err := journal.Load(ctx, "c")
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "ok", turns[0].Content)
	})
}

func TestManager_Delete(t *testing.T) {
	t.Run("should report unknown sessions without a journal", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		assert.ErrorIs(t, m.Delete(context.Background(), "missing"), ErrSessionNotFound)
	})

	t.Run("should report unknown sessions with a journal", func(t *testing.T) {
		journal, err := NewFileJournal(t.TempDir())
		require.NoError(t, err)
		m := testManager(t, LifetimePerSession, journal)

		assert.ErrorIs(t, m.Delete(context.Background(), "missing"), ErrSessionNotFound)
	})

	t.Run("should delete a journaled session that is not in memory", func(t *testing.T) {
		journal, err := NewFileJournal(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, journal.Append(context.Background(), "cold", []Turn{{Role: RoleUser, Content: "hi"}}))

		m := testManager(t, LifetimePerSession, journal)
		require.NoError(t, m.Delete(context.Background(), "cold"))

		ok, err := journal.Exists("cold")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestManager_Sweep(t *testing.T) {
	t.Run("should drop idle stores only", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		ctx := context.Background()

		idle, err := m.Open(ctx, "idle")
		require.NoError(t, err)
		_, err = m.Open(ctx, "busy")
		require.NoError(t, err)

		idle.mu.Lock()
		idle.lastUsed = time.Now().Add(-time.Hour)
		idle.mu.Unlock()

		removed := m.Sweep(30 * time.Minute)
		assert.Equal(t, 1, removed)
		assert.Equal(t, []string{"busy"}, m.List())
	})
}
