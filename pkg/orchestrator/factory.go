package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/coretools"
	"github.com/harun/agentapi/pkg/session"
	"github.com/harun/agentapi/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Profiles  []agent.AuthProfile
	Providers agent.ProviderCreator
	Sessions  *session.Manager
	// Tools carries the shared tool services; Provider and Config are filled per build.
	Tools       coretools.Deps
	ToolTimeout time.Duration
	Logger      zerolog.Logger
	// Backoff overrides engine retry delays.
	Backoff func(attempt int) time.Duration
}

// Factory builds agents. Each build gets its own tool registry and loop.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a Factory. Nil Providers uses the SDK-backed providers;
// nil Sessions gives per-request memory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Providers == nil {
		cfg.Providers = &agent.ProviderFactory{}
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(session.ManagerConfig{Logger: cfg.Logger})
	}
	return &Factory{cfg: cfg}
}

// Sessions returns the store manager used for advanced agents.
func (f *Factory) Sessions() *session.Manager {
	return f.cfg.Sessions
}

// HasCredentials reports whether any engine credential is configured.
func (f *Factory) HasCredentials() bool {
	return agent.HasCredentials(f.cfg.Profiles)
}

// Build constructs an agent for variant. Checks run in order: credentials,
// variant, then configuration.
func (f *Factory) Build(ctx context.Context, variant string, cfg agent.AgentConfig, opts BuildOptions) (*Agent, error) {
	cfg = cfg.WithDefaults()

	profile, err := agent.SelectProfile(f.cfg.Profiles, cfg.Model)
	if err != nil {
		return nil, err
	}

	v, err := ParseVariant(variant)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}

	provider, err := f.cfg.Providers.NewProvider(profile)
	if err != nil {
		return nil, err
	}

	var toolOpts []toolexecutor.Option
	if f.cfg.ToolTimeout > 0 {
		toolOpts = append(toolOpts, toolexecutor.WithTimeout(f.cfg.ToolTimeout))
	}
	tools := toolexecutor.New(toolOpts...)

	deps := f.cfg.Tools
	deps.Provider = provider
	deps.Config = cfg

	defs := coretools.BasicTools(deps)
	if v == VariantAdvanced {
		defs = coretools.AdvancedTools(deps)
	}
	if err := coretools.Register(tools, defs); err != nil {
		return nil, err
	}

	built := &Agent{Variant: v, Tools: tools}
	if v.HasMemory() {
		store, sessionID, err := f.cfg.Sessions.Acquire(ctx, opts.SessionID)
		if err != nil {
			return nil, err
		}
		built.Memory = store
		built.SessionID = sessionID
	}

	loop, err := agent.NewLoop(agent.LoopConfig{
		Provider:     provider,
		Tools:        tools,
		Memory:       built.Memory,
		Config:       cfg,
		Variant:      string(v),
		SessionID:    built.SessionID,
		Logger:       f.cfg.Logger,
		OnTransition: opts.OnTransition,
		Backoff:      f.cfg.Backoff,
	})
	if err != nil {
		return nil, err
	}
	built.Loop = loop

	f.cfg.Logger.Debug().
		Str("variant", string(v)).
		Str("provider", provider.Provider()).
		Str("model", cfg.Model).
		Strs("tools", tools.ListTools()).
		Str("session_id", built.SessionID).
		Msg("Agent built")

	return built, nil
}
