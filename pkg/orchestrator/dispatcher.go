package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/commandqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// sessionLanePrefix names the queue lane of a per-session store.
const sessionLanePrefix = "session-"

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Factory *Factory
	// Queue serializes runs sharing a session store. Nil runs them inline,
	// relying on the store mutex alone.
	Queue    *commandqueue.CommandQueue
	Defaults agent.AgentConfig
	Logger   zerolog.Logger
}

// Dispatcher is the single entry point for runs. Every outcome, including
// panics, leaves it as a RunResult.
type Dispatcher struct {
	factory *Factory
	queue   *commandqueue.CommandQueue
	logger  zerolog.Logger

	mu       sync.RWMutex
	defaults agent.AgentConfig
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	return &Dispatcher{
		factory:  cfg.Factory,
		queue:    cfg.Queue,
		logger:   cfg.Logger,
		defaults: cfg.Defaults.WithDefaults(),
	}, nil
}

// Defaults returns the agent configuration runs start from.
func (d *Dispatcher) Defaults() agent.AgentConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaults
}

// UpdateDefaults replaces the base configuration. Runs already started keep theirs.
func (d *Dispatcher) UpdateDefaults(cfg agent.AgentConfig) {
	d.mu.Lock()
	d.defaults = cfg.WithDefaults()
	d.mu.Unlock()
	d.logger.Info().Str("model", cfg.Model).Msg("Agent defaults updated")
}

// Factory returns the factory used to build agents.
func (d *Dispatcher) Factory() *Factory {
	return d.factory
}

// resolve overlays caller options on the defaults.
func (d *Dispatcher) resolve(opts RunOptions) agent.AgentConfig {
	cfg := d.Defaults()
	if model := opts.Model(); model != "" {
		cfg.Model = model
	}
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	return cfg
}

// Run builds an agent for variant and drives query through it once.
// Observers receive the loop's state transitions.
func (d *Dispatcher) Run(ctx context.Context, query, variant string, opts RunOptions, observers ...agent.TransitionFunc) (result RunResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	label := "unknown"
	if v, err := ParseVariant(variant); err == nil {
		label = string(v)
	}

	ctx = tracing.NewRunContext(ctx, label, opts.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerDispatcher, "dispatcher.run",
		attribute.String("variant", label),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Agent run panicked")
			result = failure(fmt.Sprintf("internal error: %v", r), opts.SessionID)
		}
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.SetAttributes(attribute.Bool("success", result.Success))
		observability.RecordAgentRun(label, time.Since(start), result.Success)
	}()

	if strings.TrimSpace(query) == "" {
		return failure("query is required", opts.SessionID)
	}

	built, err := d.factory.Build(ctx, variant, d.resolve(opts), BuildOptions{SessionID: opts.SessionID})
	if err != nil {
		logger.Warn().Err(err).Msg("Agent build failed")
		return failure(err.Error(), opts.SessionID)
	}

	var out *agent.LoopResult
	if built.SessionID != "" && d.queue != nil {
		span.SetAttributes(attribute.String("session_id", built.SessionID))
		value, qerr := d.queue.EnqueueWithContext(ctx, sessionLanePrefix+built.SessionID,
			func(ctx context.Context) (interface{}, error) {
				return built.Loop.Run(ctx, query, observers...)
			},
			&commandqueue.TaskOptions{WarnAfter: 5 * time.Second},
		)
		out, _ = value.(*agent.LoopResult)
		err = qerr
	} else {
		out, err = built.Loop.Run(ctx, query, observers...)
	}

	if err != nil {
		res := failure(err.Error(), built.SessionID)
		if out != nil {
			res.Iterations = out.Iterations
		}
		return res
	}

	logger.Info().
		Str("variant", string(built.Variant)).
		Int("iterations", out.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")

	return RunResult{
		Output:     out.Output,
		Success:    true,
		SessionID:  built.SessionID,
		Iterations: out.Iterations,
	}
}
