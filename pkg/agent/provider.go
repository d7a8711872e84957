package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMProvider is a reasoning engine.
type LLMProvider interface {
	// Call sends one request and returns either a final answer or tool calls.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ToolSpec is the engine-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse is either a final answer (no ToolCalls) or a tool-invocation request.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates the SDK-backed providers.
type ProviderFactory struct{}

// NewProvider creates a provider for profile.
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	if strings.TrimSpace(profile.APIKey) == "" {
		return nil, &MissingCredentialsError{Provider: profile.Provider}
	}
	switch profile.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// ProviderForModel infers the provider serving a model identifier.
func ProviderForModel(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// HasCredentials reports whether any profile carries an API key.
func HasCredentials(profiles []AuthProfile) bool {
	for _, p := range profiles {
		if strings.TrimSpace(p.APIKey) != "" {
			return true
		}
	}
	return false
}

// SelectProfile picks the highest-priority profile able to serve model.
func SelectProfile(profiles []AuthProfile, model string) (AuthProfile, error) {
	want := ProviderForModel(model)

	candidates := make([]AuthProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Provider == want && strings.TrimSpace(p.APIKey) != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		if !HasCredentials(profiles) {
			return AuthProfile{}, &MissingCredentialsError{}
		}
		return AuthProfile{}, &MissingCredentialsError{Provider: want}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates[0], nil
}
