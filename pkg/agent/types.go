package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultSystemPrompt frames the engine as a tool-using assistant.
const DefaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the question, and answer directly when they do not."

// Message roles understood by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AgentConfig configures one run. It is built from defaults plus caller overrides
// and is not modified while the run executes.
type AgentConfig struct {
	Model         string        `json:"model" yaml:"model"`
	Temperature   float64       `json:"temperature" yaml:"temperature"`
	MaxTokens     int           `json:"max_tokens,omitempty" yaml:"max_tokens"`
	SystemPrompt  string        `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Verbose       bool          `json:"verbose" yaml:"verbose"`
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Model:         "gpt-3.5-turbo",
		Temperature:   0,
		MaxTokens:     1024,
		SystemPrompt:  DefaultSystemPrompt,
		Verbose:       true,
		MaxIterations: 15,
		Timeout:       2 * time.Minute,
		MaxRetries:    3,
	}
}

// WithDefaults fills zero-valued limits from DefaultConfig.
func (c AgentConfig) WithDefaults() AgentConfig {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Validate checks the fields a caller may override.
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// ToolCall is a tool invocation requested by the engine.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// AuthProfile is one reasoning engine credential.
type AuthProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
	// Priority orders profiles of the same provider; lower goes first.
	Priority int `json:"priority"`
}

// AgentMessage is one entry of the conversation sent to the engine.
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

var retryableMarkers = []string{
	"ECONNRESET", "ETIMEDOUT", "connection reset", "connection refused",
	"429", "rate limit", "overloaded",
	"500", "502", "503", "504", "529",
}

// IsRetryableError reports whether an engine failure is transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) || strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
