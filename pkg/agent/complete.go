package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxBackoff = 30 * time.Second

// ExponentialBackoff waits 1s, 2s, 4s... capped at 30s.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// callWithRetry calls the engine, retrying transient failures with backoff.
func callWithRetry(ctx context.Context, provider LLMProvider, req LLMRequest, maxRetries int, backoff func(int) time.Duration, logger zerolog.Logger) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.engine_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", req.Model),
		attribute.Int("messages", len(req.Messages)),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying reasoning engine call")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		start := time.Now()
		resp, err := provider.Call(ctx, req)
		if err == nil && resp == nil {
			err = errors.New("engine returned no response")
		}
		observability.RecordEngineCall(provider.Provider(), time.Since(start), err == nil)

		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryableError(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

// Complete makes one engine call with a single user prompt and no tools.
// Tools that delegate to the engine (summarization, page question answering) use it.
func Complete(ctx context.Context, provider LLMProvider, cfg AgentConfig, prompt string) (string, error) {
	if provider == nil {
		return "", &MissingCredentialsError{}
	}
	cfg = cfg.WithDefaults()

	req := LLMRequest{
		Model:       cfg.Model,
		Messages:    []AgentMessage{{Role: RoleUser, Content: prompt}},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	resp, err := callWithRetry(ctx, provider, req, cfg.MaxRetries, ExponentialBackoff, logger)
	if err != nil {
		return "", &EngineError{Provider: provider.Provider(), Cause: err}
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", &EngineError{Provider: provider.Provider(), Cause: errors.New("engine returned an empty answer")}
	}
	return answer, nil
}
