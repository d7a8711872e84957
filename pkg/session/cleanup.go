package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the idle sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Cleanup periodically sweeps idle session stores on a cron schedule.
type Cleanup struct {
	manager  *Manager
	maxIdle  time.Duration
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// ValidateSchedule reports whether schedule is a standard cron spec or descriptor.
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// NewCleanup creates a sweeper. An empty schedule uses DefaultSweepSchedule.
func NewCleanup(manager *Manager, schedule string, maxIdle time.Duration, logger zerolog.Logger) (*Cleanup, error) {
	if manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("max idle must be positive")
	}

	return &Cleanup{
		manager:  manager,
		maxIdle:  maxIdle,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start schedules the sweep.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, func() { c.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.cron.Start()
	c.running = true

	c.logger.Info().Str("schedule", c.schedule).Dur("max_idle", c.maxIdle).Msg("Session cleanup started")
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (c *Cleanup) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cr := c.cron
	c.running = false
	c.mu.Unlock()

	<-cr.Stop().Done()
	c.logger.Info().Msg("Session cleanup stopped")
}

// RunOnce sweeps immediately and returns the number of stores removed.
func (c *Cleanup) RunOnce() int {
	return c.manager.Sweep(c.maxIdle)
}
