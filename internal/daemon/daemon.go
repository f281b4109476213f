package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/logger"
	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/tracing"
	"github.com/taskdeck/taskdeck/pkg/agent"
	"github.com/taskdeck/taskdeck/pkg/commandqueue"
	"github.com/taskdeck/taskdeck/pkg/history"
	"github.com/taskdeck/taskdeck/pkg/server"
	"github.com/taskdeck/taskdeck/pkg/taskstore"
	"github.com/taskdeck/taskdeck/pkg/tasktools"
	"github.com/taskdeck/taskdeck/pkg/toolexecutor"
)

// Daemon owns every long-lived component of the service and starts
// and stops them in dependency order.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store        *taskstore.Store
	toolExecutor *toolexecutor.Executor
	provider     agent.LLMProvider
	history      *history.Manager
	cleanup      *history.Cleanup
	queue        *commandqueue.Queue
	orchestrator *agent.Orchestrator
	server       *server.Server

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	tracingEnabled := cfg.Tracing.Enabled
	if tracingEnabled {
		err := tracing.Init(tracing.Options{
			ServiceName: "taskdeck",
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
			tracingEnabled = false
		} else {
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized successfully")
		}
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initialize(ctx); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.Shutdown(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d, nil
}

// initialize builds all components in dependency order.
func (d *Daemon) initialize(ctx context.Context) error {
	store, err := taskstore.New(taskstore.Config{
		Path:   d.config.Database.Path,
		Logger: d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("path", d.config.Database.Path).Msg("Task store initialized")

	d.toolExecutor = toolexecutor.New()
	d.toolExecutor.SetTimeout(time.Duration(d.config.Agent.RequestTimeoutSeconds) * time.Second)
	if err := tasktools.Register(d.toolExecutor, d.store, d.logger.Zerolog()); err != nil {
		return fmt.Errorf("failed to register task tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.toolExecutor.List()).Msg("Task tools registered")

	provider, err := agent.NewProvider(ctx, d.config.Agent.Provider, d.config.Agent.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create inference provider: %w", err)
	}
	d.provider = provider
	d.logger.Info().Str("provider", provider.Provider()).Str("model", d.config.Agent.Model).Msg("Inference provider initialized")

	hm, err := history.New(history.Config{
		Dir:        d.config.History.Dir,
		MaxEntries: d.config.History.MaxEntriesPerKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create history manager: %w", err)
	}
	d.history = hm
	d.cleanup = history.NewCleanup(
		hm,
		time.Duration(d.config.History.RetentionDays)*24*time.Hour,
		d.config.History.CleanupSchedule,
	)
	d.logger.Info().Str("dir", d.config.History.Dir).Msg("Conversation history initialized")

	d.queue = commandqueue.New()
	d.logger.Info().Msg("Command queue initialized")

	orchestrator, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Executor: d.toolExecutor,
		History:  d.history,
		Queue:    d.queue,
		Provider: d.provider,
		Turn: agent.Config{
			Model:          d.config.Agent.Model,
			Temperature:    d.config.Agent.Temperature,
			MaxTokens:      d.config.Agent.MaxTokens,
			MaxRetries:     d.config.Agent.MaxRetries,
			RequestTimeout: time.Duration(d.config.Agent.RequestTimeoutSeconds) * time.Second,
		},
		Logger: d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orchestrator

	srv, err := server.New(server.Options{
		Host:               d.config.Server.Host,
		Port:               d.config.Server.Port,
		RateLimitPerMinute: d.config.Server.RateLimitPerMinute,
	}, d.orchestrator, d.toolExecutor, d.logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv

	return nil
}

// Start launches the background services and the HTTP server.
// It blocks until the server stops or the daemon context is cancelled.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.cleanup.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to start history cleanup, continuing without it")
	}

	d.logger.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Msg("Daemon started")

	return d.server.Start()
}

// Stop shuts everything down in reverse dependency order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")

	if err := d.server.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Server shutdown reported an error")
	}

	d.cleanup.Stop()
	d.queue.Close()

	if err := d.history.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("History close reported an error")
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Task store close reported an error")
	}

	d.cancel()

	if d.tracingEnabled {
		if err := tracing.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Tracing shutdown reported an error")
		}
		d.tracingEnabled = false
	}

	d.logger.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")
	return nil
}

// IsRunning reports whether Start has been called and Stop has not.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}
