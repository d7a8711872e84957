package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentapi/internal/config"
	"github.com/harun/agentapi/internal/logger"
	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/browser"
	"github.com/harun/agentapi/pkg/commandqueue"
	"github.com/harun/agentapi/pkg/coretools"
	"github.com/harun/agentapi/pkg/gateway"
	"github.com/harun/agentapi/pkg/memory"
	"github.com/harun/agentapi/pkg/orchestrator"
	"github.com/harun/agentapi/pkg/session"
	"github.com/rs/zerolog"
)

const (
	// pageCacheTTL reuses an indexed page across web-browser calls.
	pageCacheTTL = 10 * time.Minute

	shutdownTimeout = 30 * time.Second
	drainTimeout    = 10 * time.Second
)

// Status reports whether the service is running and for how long.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
}

// Daemon owns every long-lived component of the agent service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue      *commandqueue.CommandQueue
	sessions   *session.Manager
	fetcher    *browser.RodFetcher
	index      *memory.PageIndex
	factory    *orchestrator.Factory
	dispatcher *orchestrator.Dispatcher

	// Services
	gatewayServer *gateway.Server
	cleanup       *session.Cleanup
	watcher       *config.Watcher

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// newProviderCreator builds reasoning engine clients. Tests replace it.
var newProviderCreator = func() agent.ProviderCreator {
	return &agent.ProviderFactory{}
}

// New validates cfg and builds the core modules. A configuration without
// engine credentials is refused here, before anything listens.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		zl := log.GetZerolog()
		if err := tracing.InitOpenTelemetry(cfg.Tracing); err != nil {
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			zl.Info().Str("service", cfg.Tracing.ServiceName).Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	return d, nil
}

func (d *Daemon) component(name string) zerolog.Logger {
	return d.logger.GetZerolog().With().Str("component", name).Logger()
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	profiles := cfg.AuthProfiles()

	d.queue = commandqueue.New()

	lifetime, err := session.ParseLifetime(cfg.Memory.Lifetime)
	if err != nil {
		return err
	}
	var journal session.Journal
	if cfg.Memory.PersistDir != "" {
		fj, err := session.NewFileJournal(cfg.Memory.PersistDir)
		if err != nil {
			return fmt.Errorf("failed to open session journal: %w", err)
		}
		journal = fj
	}
	d.sessions = session.NewManager(session.ManagerConfig{
		Lifetime: lifetime,
		Store: session.StoreOptions{
			MaxTurns:  cfg.Memory.MaxTurns,
			MaxTokens: cfg.Memory.MaxTokens,
		},
		Journal: journal,
		Logger:  d.component("session"),
	})

	d.fetcher = browser.NewRodFetcher(cfg.BrowserSettings(), d.component("browser"))

	var embeddings memory.EmbeddingProvider
	if profile, ok := openAIProfile(profiles); ok {
		emb, err := memory.NewOpenAIEmbeddings(profile.APIKey, profile.BaseURL, cfg.Tools.Browser.EmbeddingModel)
		if err != nil {
			logger := d.component("memory")
			logger.Warn().Err(err).Msg("Embeddings unavailable, page search is keyword only")
		} else {
			embeddings = emb
		}
	}
	d.index, err = memory.NewPageIndex(memory.IndexConfig{
		Embeddings: embeddings,
		Logger:     d.component("memory"),
	})
	if err != nil {
		return fmt.Errorf("failed to create page index: %w", err)
	}

	d.factory = orchestrator.NewFactory(orchestrator.FactoryConfig{
		Profiles:  profiles,
		Providers: newProviderCreator(),
		Sessions:  d.sessions,
		Tools: coretools.Deps{
			Fetcher:   d.fetcher,
			Index:     d.index,
			MaxChunks: cfg.Tools.Browser.MaxChunks,
			CacheTTL:  pageCacheTTL,
		},
		ToolTimeout: time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Logger:      d.component("factory"),
	})

	d.dispatcher, err = orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Factory:  d.factory,
		Queue:    d.queue,
		Defaults: cfg.AgentDefaults(),
		Logger:   d.component("dispatcher"),
	})
	if err != nil {
		return err
	}

	logger := d.logger.GetZerolog()
	logger.Info().
		Str("model", cfg.Agent.Model).
		Str("memory_lifetime", string(lifetime)).
		Bool("vector_search", d.index.VectorsEnabled()).
		Int("profiles", len(profiles)).
		Msg("Core modules initialized")

	return nil
}

// openAIProfile returns the preferred OpenAI credential, used for embeddings.
func openAIProfile(profiles []agent.AuthProfile) (agent.AuthProfile, bool) {
	var best agent.AuthProfile
	found := false
	for _, p := range profiles {
		if p.Provider != agent.ProviderOpenAI {
			continue
		}
		if !found || p.Priority < best.Priority {
			best, found = p, true
		}
	}
	return best, found
}

// Start starts the HTTP server and, for per-session memory, the idle sweep.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting agent service")

	cfg := d.config
	server, err := gateway.NewServer(gateway.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RequestTimeout:     time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		MetricsEnabled:     cfg.Server.MetricsEnabled,
		Runner:             d.dispatcher,
		Sessions:           d.sessions,
		Logger:             d.component("gateway"),
	})
	if err != nil {
		d.setStopped()
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	if err := server.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	d.mu.Lock()
	d.gatewayServer = server
	d.mu.Unlock()

	if d.sessions.Lifetime() == session.LifetimePerSession {
		cleanup, err := session.NewCleanup(d.sessions, cfg.Memory.SweepSchedule, cfg.SessionTTL(), d.component("session_cleanup"))
		if err != nil {
			logger.Warn().Err(err).Msg("Session cleanup disabled")
		} else if err := cleanup.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start session cleanup")
		} else {
			d.mu.Lock()
			d.cleanup = cleanup
			d.mu.Unlock()
		}
	}

	logger.Info().Msg("Agent service started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// WatchConfig reloads the log level and agent defaults when the config file
// changes. Credentials and listener settings need a restart.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	w, err := config.NewWatcher(loader, d.logger.GetZerolog(), d.ApplyConfig)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.watcher = w
	d.mu.Unlock()
	return nil
}

// ApplyConfig applies the hot-reloadable parts of cfg.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.logger.SetLevel(cfg.Logging.Level)
	d.dispatcher.UpdateDefaults(cfg.AgentDefaults())

	logger := d.logger.GetZerolog()
	logger.Info().
		Str("log_level", d.logger.Level().String()).
		Str("model", cfg.Agent.Model).
		Msg("Configuration applied")
}

// Stop shuts the HTTP server down gracefully, waits for queued runs and
// releases every component.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	server := d.gatewayServer
	cleanup := d.cleanup
	watcher := d.watcher
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping agent service")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
		cancel()
	}

	if cleanup != nil {
		cleanup.Stop()
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if !d.queue.WaitForActive(drainTimeout) {
		logger.Warn().Msg("Timeout waiting for queued runs to finish")
	}

	d.Close()

	logger.Info().Msg("Agent service stopped")
	return nil
}

// Close releases the core modules. It is called by Stop and directly by
// one-shot commands that never Start.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	log := d.logger.GetZerolog()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close command queue")
		}
	}
	if d.fetcher != nil {
		if err := d.fetcher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close browser")
		}
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close page index")
		}
	}
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status returns the current run state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// GetConfig returns the configuration the daemon was built with.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetDispatcher returns the run dispatcher.
func (d *Daemon) GetDispatcher() *orchestrator.Dispatcher {
	return d.dispatcher
}

// GetSessionManager returns the memory store manager.
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessions
}

// GetGatewayServer returns the HTTP server, or nil before Start.
func (d *Daemon) GetGatewayServer() *gateway.Server {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gatewayServer
}
