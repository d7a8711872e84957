package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCleanup(t *testing.T) {
	m := testManager(t, LifetimePerSession, nil)

	t.Run("should default the schedule", func(t *testing.T) {
		c, err := NewCleanup(m, "", time.Minute, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, DefaultSweepSchedule, c.schedule)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewCleanup(m, "every now and then", time.Minute, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should require a positive idle window", func(t *testing.T) {
		_, err := NewCleanup(m, "", 0, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should require a manager", func(t *testing.T) {
		_, err := NewCleanup(nil, "", time.Minute, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestCleanup_StartStop(t *testing.T) {
	t.Run("should refuse a second start and stop cleanly", func(t *testing.T) {
		c, err := NewCleanup(testManager(t, LifetimePerSession, nil), "@every 1h", time.Minute, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, c.Start())
		assert.Error(t, c.Start())
		c.Stop()
		c.Stop()
	})
}

func TestCleanup_RunOnce(t *testing.T) {
	t.Run("should sweep idle sessions", func(t *testing.T) {
		m := testManager(t, LifetimePerSession, nil)
		store, err := m.Open(context.Background(), "old")
		require.NoError(t, err)
		store.mu.Lock()
		store.lastUsed = time.Now().Add(-2 * time.Minute)
		store.mu.Unlock()

		c, err := NewCleanup(m, "", time.Minute, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 1, c.RunOnce())
		assert.Equal(t, 0, m.Count())
	})
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		valid    bool
	}{
		{"@every 5m", true},
		{"*/10 * * * *", true},
		{"@hourly", true},
		{"* * *", false},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
