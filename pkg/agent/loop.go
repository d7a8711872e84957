package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/session"
	"github.com/harun/agentapi/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LoopConfig wires one Reasoning Loop.
type LoopConfig struct {
	Provider LLMProvider
	Tools    *toolexecutor.ToolExecutor
	// Memory is replayed into the prompt and receives the exchange on success. Nil for stateless runs.
	Memory    *session.Store
	Config    AgentConfig
	Variant   string
	SessionID string
	Logger    zerolog.Logger
	// OnTransition observes every state change.
	OnTransition TransitionFunc
	// Backoff returns the wait before retry n (0-based). Defaults to ExponentialBackoff.
	Backoff func(attempt int) time.Duration
}

// Step records one tool round-trip.
type Step struct {
	ToolName    string `json:"tool_name"`
	ToolInput   string `json:"tool_input"`
	Observation string `json:"observation"`
	Failed      bool   `json:"failed,omitempty"`
}

// LoopResult is the outcome of a finished run. On failure it holds whatever progress was made.
type LoopResult struct {
	Output     string     `json:"output"`
	Iterations int        `json:"iterations"`
	Steps      []Step     `json:"steps,omitempty"`
	Usage      TokenUsage `json:"usage"`
}

// Loop drives Thinking -> ToolCall -> Observing rounds until the engine answers
// or a bound is hit. One Loop may serve several sequential runs.
type Loop struct {
	cfg LoopConfig
}

// NewLoop validates cfg and fills defaults.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("reasoning engine provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	cfg.Config = cfg.Config.WithDefaults()
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff
	}
	return &Loop{cfg: cfg}, nil
}

// Config returns the effective agent configuration.
func (l *Loop) Config() AgentConfig { return l.cfg.Config }

// Memory returns the attached store, if any.
func (l *Loop) Memory() *session.Store { return l.cfg.Memory }

// Tools returns the registry the loop dispatches to.
func (l *Loop) Tools() *toolexecutor.ToolExecutor { return l.cfg.Tools }

func (l *Loop) event(logger zerolog.Logger) *zerolog.Event {
	if l.cfg.Config.Verbose {
		return logger.Info()
	}
	return logger.Debug()
}

// Run executes one query. Extra observers see this run's transitions only.
func (l *Loop) Run(ctx context.Context, query string, observers ...TransitionFunc) (*LoopResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := l.cfg.Config
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	runCtx, span := tracing.StartSpan(runCtx, tracing.TracerAgent, "agent.loop",
		attribute.String("variant", l.cfg.Variant),
		attribute.String("model", cfg.Model),
		attribute.Bool("memory", l.cfg.Memory != nil),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(runCtx, l.cfg.Logger)

	m := &machine{state: StateStart}
	m.observe = append(m.observe, func(t Transition) {
		l.event(logger).
			Str("from", t.FromName).
			Str("to", t.ToName).
			Int("iteration", t.Iteration).
			Str("tool", t.ToolName).
			Msg("Loop transition")
	}, l.cfg.OnTransition)
	m.observe = append(m.observe, observers...)

	result := &LoopResult{}

	fail := func(err error, reason string) (*LoopResult, error) {
		m.to(StateFailed, Transition{Error: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordLoopEnd(l.cfg.Variant, reason, result.Iterations)
		logger.Warn().Err(err).Str("reason", reason).Int("iterations", result.Iterations).Msg("Reasoning loop failed")
		return result, err
	}
	interrupted := func() (*LoopResult, error) {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			after := cfg.Timeout
			if deadline, ok := ctx.Deadline(); ok && deadline.Before(start.Add(cfg.Timeout)) {
				after = deadline.Sub(start).Round(time.Millisecond)
			}
			return fail(&TimeoutError{After: after}, "timeout")
		}
		return fail(fmt.Errorf("agent run cancelled: %w", runCtx.Err()), "cancelled")
	}

	toolCtx := toolexecutor.ContextWithExecContext(runCtx, &toolexecutor.ExecutionContext{
		SessionID: l.cfg.SessionID,
		Variant:   l.cfg.Variant,
	})
	messages := l.initialMessages(query)
	specs := l.toolSpecs()

	m.to(StateThinking, Transition{})

	for {
		if runCtx.Err() != nil {
			return interrupted()
		}

		resp, err := callWithRetry(runCtx, l.cfg.Provider, LLMRequest{
			Model:        cfg.Model,
			Messages:     messages,
			Tools:        specs,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
		}, cfg.MaxRetries, l.cfg.Backoff, logger)
		if err != nil {
			if runCtx.Err() != nil {
				return interrupted()
			}
			return fail(&EngineError{Provider: l.cfg.Provider.Provider(), Cause: err}, "engine_error")
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			output := strings.TrimSpace(resp.Content)
			if output == "" {
				return fail(&EngineError{
					Provider: l.cfg.Provider.Provider(),
					Cause:    errors.New("engine returned an empty answer"),
				}, "engine_error")
			}

			result.Output = output
			m.to(StateFinished, Transition{Output: output})
			l.remember(logger, query, output)

			observability.RecordLoopEnd(l.cfg.Variant, "finished", result.Iterations)
			span.SetAttributes(attribute.Int("iterations", result.Iterations))
			l.event(logger).
				Int("iterations", result.Iterations).
				Dur("duration", time.Since(start)).
				Msg("Reasoning loop finished")
			return result, nil
		}

		if result.Iterations >= cfg.MaxIterations {
			return fail(&MaxIterationsExceededError{Limit: cfg.MaxIterations}, "max_iterations")
		}
		result.Iterations++
		m.iteration = result.Iterations

		calls := withCallIDs(resp.ToolCalls, result.Iterations)
		messages = append(messages, AgentMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls})

		for _, call := range calls {
			input := describeInput(call.Parameters)
			m.to(StateToolCall, Transition{ToolName: call.Name, ToolInput: input})

			observation, failed := l.act(toolCtx, call)
			if runCtx.Err() != nil {
				return interrupted()
			}

			result.Steps = append(result.Steps, Step{
				ToolName:    call.Name,
				ToolInput:   input,
				Observation: observation,
				Failed:      failed,
			})
			m.to(StateObserving, Transition{ToolName: call.Name, ToolInput: input, Observation: observation})
			messages = append(messages, AgentMessage{Role: RoleTool, Content: observation, ToolCallID: call.ID})
		}

		m.to(StateThinking, Transition{})
	}
}

// act dispatches one engine-requested call. Engine-chosen names are untrusted:
// anything the registry does not hold becomes an observation, never a dispatch.
func (l *Loop) act(ctx context.Context, call ToolCall) (string, bool) {
	if !l.cfg.Tools.Has(call.Name) {
		return invalidToolObservation(call.Name, l.cfg.Tools.ListTools()), true
	}

	out, err := l.cfg.Tools.Invoke(ctx, call.Name, call.Parameters)
	if err != nil {
		var unknown *toolexecutor.UnknownToolError
		if errors.As(err, &unknown) {
			return invalidToolObservation(call.Name, unknown.Known), true
		}
		return err.Error(), true
	}
	if out == "" {
		return "(empty result)", false
	}
	return out, false
}

func invalidToolObservation(name string, known []string) string {
	return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(known, ", "))
}

func (l *Loop) remember(logger zerolog.Logger, query, output string) {
	if l.cfg.Memory == nil {
		return
	}
	if err := l.cfg.Memory.AppendExchange(query, output); err != nil {
		logger.Warn().Err(err).Msg("Failed to append turns to memory")
	}
}

func (l *Loop) initialMessages(query string) []AgentMessage {
	var messages []AgentMessage
	if l.cfg.Memory != nil {
		for _, turn := range l.cfg.Memory.Snapshot() {
			messages = append(messages, AgentMessage{Role: string(turn.Role), Content: turn.Content})
		}
	}
	return append(messages, AgentMessage{Role: RoleUser, Content: query})
}

func (l *Loop) toolSpecs() []ToolSpec {
	defs := l.cfg.Tools.Definitions()
	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: toolexecutor.SchemaFor(def),
		})
	}
	return specs
}

func withCallIDs(calls []ToolCall, iteration int) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			id, err := gonanoid.New(12)
			if err != nil {
				id = fmt.Sprintf("%d_%d", iteration, i)
			}
			call.ID = "call_" + id
		}
		if call.Parameters == nil {
			call.Parameters = map[string]interface{}{}
		}
		out[i] = call
	}
	return out
}

func describeInput(params map[string]interface{}) string {
	if len(params) == 1 {
		if s, ok := params[toolexecutor.InputParam].(string); ok {
			return s
		}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
