package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/browser"
	"github.com/harun/agentapi/pkg/session"
	"gopkg.in/yaml.v3"
)

// ErrNoCredentials is returned by Validate when no reasoning engine profile
// carries an API key.
var ErrNoCredentials = errors.New("no reasoning engine credentials configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY, or add an ai profile")

// Config represents the main agentapi configuration
type Config struct {
	Agent   AgentConfig    `json:"agent" mapstructure:"agent" yaml:"agent"`
	Memory  MemoryConfig   `json:"memory" mapstructure:"memory" yaml:"memory"`
	Tools   ToolsConfig    `json:"tools" mapstructure:"tools" yaml:"tools"`
	Server  ServerConfig   `json:"server" mapstructure:"server" yaml:"server"`
	Tracing tracing.Config `json:"tracing" mapstructure:"tracing" yaml:"tracing"`
	Logging LoggingConfig  `json:"logging" mapstructure:"logging" yaml:"logging"`
	AI      AIConfig       `json:"ai" mapstructure:"ai" yaml:"ai"`
}

// AgentConfig holds the default reasoning loop settings. Callers may override
// model and temperature per run.
type AgentConfig struct {
	Model          string  `json:"model" mapstructure:"model" yaml:"model"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	Verbose        bool    `json:"verbose" mapstructure:"verbose" yaml:"verbose"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxIterations  int     `json:"max_iterations" mapstructure:"max_iterations" yaml:"max_iterations"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	SystemPrompt   string  `json:"system_prompt" mapstructure:"system_prompt" yaml:"system_prompt"`
}

// MemoryConfig holds conversation memory settings
type MemoryConfig struct {
	Lifetime          string `json:"lifetime" mapstructure:"lifetime" yaml:"lifetime"` // per-request, per-session
	MaxTurns          int    `json:"max_turns" mapstructure:"max_turns" yaml:"max_turns"`
	MaxTokens         int    `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	SessionTTLMinutes int    `json:"session_ttl_minutes" mapstructure:"session_ttl_minutes" yaml:"session_ttl_minutes"`
	SweepSchedule     string `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
	PersistDir        string `json:"persist_dir" mapstructure:"persist_dir" yaml:"persist_dir"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	TimeoutSeconds int           `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Browser        BrowserConfig `json:"browser" mapstructure:"browser" yaml:"browser"`
}

// BrowserConfig configures the web-browser tool
type BrowserConfig struct {
	Headless                 bool     `json:"headless" mapstructure:"headless" yaml:"headless"`
	ChromePath               string   `json:"chrome_path" mapstructure:"chrome_path" yaml:"chrome_path"`
	AllowedDomains           []string `json:"allowed_domains" mapstructure:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains           []string `json:"blocked_domains" mapstructure:"blocked_domains" yaml:"blocked_domains"`
	AllowLocalhost           bool     `json:"allow_localhost" mapstructure:"allow_localhost" yaml:"allow_localhost"`
	NavigationTimeoutSeconds int      `json:"navigation_timeout_seconds" mapstructure:"navigation_timeout_seconds" yaml:"navigation_timeout_seconds"`
	EmbeddingModel           string   `json:"embedding_model" mapstructure:"embedding_model" yaml:"embedding_model"`
	MaxChunks                int      `json:"max_chunks" mapstructure:"max_chunks" yaml:"max_chunks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host                  string   `json:"host" mapstructure:"host" yaml:"host"`
	Port                  int      `json:"port" mapstructure:"port" yaml:"port"`
	RateLimitPerMinute    int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	CORSOrigins           []string `json:"cors_origins" mapstructure:"cors_origins" yaml:"cors_origins"`
	MetricsEnabled        bool     `json:"metrics_enabled" mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles" yaml:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id" yaml:"id"`
	Provider string `json:"provider" mapstructure:"provider" yaml:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`
	Priority int    `json:"priority" mapstructure:"priority" yaml:"priority"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	agentDefaults := agent.DefaultConfig()

	return &Config{
		Agent: AgentConfig{
			Model:          agentDefaults.Model,
			Temperature:    agentDefaults.Temperature,
			Verbose:        agentDefaults.Verbose,
			MaxTokens:      agentDefaults.MaxTokens,
			MaxIterations:  agentDefaults.MaxIterations,
			TimeoutSeconds: int(agentDefaults.Timeout / time.Second),
			MaxRetries:     agentDefaults.MaxRetries,
			SystemPrompt:   agentDefaults.SystemPrompt,
		},
		Memory: MemoryConfig{
			Lifetime:          string(session.LifetimePerRequest),
			MaxTurns:          100,
			SessionTTLMinutes: 60,
			SweepSchedule:     session.DefaultSweepSchedule,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
			Browser: BrowserConfig{
				Headless:                 true,
				NavigationTimeoutSeconds: 30,
				EmbeddingModel:           "text-embedding-3-small",
				MaxChunks:                4,
			},
		},
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  3000,
			RateLimitPerMinute:    60,
			RequestTimeoutSeconds: 180,
			CORSOrigins:           []string{"*"},
			MetricsEnabled:        true,
		},
		Tracing: tracing.Config{
			Enabled:     false,
			ServiceName: "agentapi",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
	}
}

// AgentDefaults converts the agent section into the reasoning loop configuration.
func (c *Config) AgentDefaults() agent.AgentConfig {
	return agent.AgentConfig{
		Model:         c.Agent.Model,
		Temperature:   c.Agent.Temperature,
		MaxTokens:     c.Agent.MaxTokens,
		SystemPrompt:  c.Agent.SystemPrompt,
		Verbose:       c.Agent.Verbose,
		MaxIterations: c.Agent.MaxIterations,
		Timeout:       time.Duration(c.Agent.TimeoutSeconds) * time.Second,
		MaxRetries:    c.Agent.MaxRetries,
	}.WithDefaults()
}

// AuthProfiles returns the configured credentials that carry a key.
func (c *Config) AuthProfiles() []agent.AuthProfile {
	profiles := make([]agent.AuthProfile, 0, len(c.AI.Profiles))
	for _, p := range c.AI.Profiles {
		if strings.TrimSpace(p.APIKey) == "" {
			continue
		}
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		})
	}
	return profiles
}

// BrowserSettings converts the browser section into fetcher configuration.
func (c *Config) BrowserSettings() browser.Config {
	cfg := browser.DefaultConfig()
	b := c.Tools.Browser
	cfg.Headless = b.Headless
	cfg.ChromePath = b.ChromePath
	if b.NavigationTimeoutSeconds > 0 {
		cfg.NavigationTimeout = time.Duration(b.NavigationTimeoutSeconds) * time.Second
	}
	cfg.Security = browser.SecurityConfig{
		AllowLocalhostUrls: b.AllowLocalhost,
		AllowedDomains:     b.AllowedDomains,
		BlockedDomains:     b.BlockedDomains,
	}
	return cfg
}

// SessionTTL is how long a per-session store may sit idle before the sweep drops it.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Memory.SessionTTLMinutes) * time.Minute
}

// Validate is the startup readiness check. The credential rule comes first so
// a missing key is reported even when other settings are also wrong.
func (c *Config) Validate() error {
	if !agent.HasCredentials(c.AuthProfiles()) {
		return ErrNoCredentials
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		switch profile.Provider {
		case agent.ProviderOpenAI, agent.ProviderAnthropic:
		default:
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: %s, %s)",
				profile.ID, profile.Provider, agent.ProviderOpenAI, agent.ProviderAnthropic)
		}
	}

	// The default model must be servable, or every run would fail at build time.
	if _, err := agent.SelectProfile(c.AuthProfiles(), c.Agent.Model); err != nil {
		return err
	}

	if err := c.AgentDefaults().Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if _, err := session.ParseLifetime(c.Memory.Lifetime); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if c.Memory.MaxTurns < 0 || c.Memory.MaxTokens < 0 {
		return fmt.Errorf("memory: max_turns and max_tokens must be >= 0")
	}
	if c.Memory.SweepSchedule != "" {
		if err := session.ValidateSchedule(c.Memory.SweepSchedule); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
	}
	if err := browser.ValidateNavigationTimeout(c.Tools.Browser.NavigationTimeoutSeconds); err != nil {
		return fmt.Errorf("tools.browser: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}

	return nil
}

// YAML renders the configuration with API keys masked.
func (c *Config) YAML() (string, error) {
	masked := *c
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		p.APIKey = MaskSecret(p.APIKey)
		masked.AI.Profiles[i] = p
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}

// String returns the masked YAML form of the config
func (c *Config) String() string {
	out, err := c.YAML()
	if err != nil {
		return err.Error()
	}
	return out
}

// MaskSecret keeps the first and last four characters of long secrets.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 12 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
