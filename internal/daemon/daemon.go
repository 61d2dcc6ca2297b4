// Package daemon wires the serve-mode runtime: tool catalog, plugins,
// model client, run archive, queue, gateway, scheduler, hooks and the
// config watcher, plus a PID file for the status and stop commands.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexygent/flexygent/internal/audit"
	"github.com/flexygent/flexygent/internal/config"
	"github.com/flexygent/flexygent/internal/logger"
	"github.com/flexygent/flexygent/internal/metrics"
	"github.com/flexygent/flexygent/internal/telegram"
	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/coretools"
	"github.com/flexygent/flexygent/pkg/gateway"
	"github.com/flexygent/flexygent/pkg/hooks"
	"github.com/flexygent/flexygent/pkg/interaction"
	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/plugin"
	"github.com/flexygent/flexygent/pkg/provider"
	"github.com/flexygent/flexygent/pkg/queue"
	"github.com/flexygent/flexygent/pkg/runstore"
	"github.com/flexygent/flexygent/pkg/scheduler"
	"github.com/flexygent/flexygent/pkg/tool"
)

// Version is the host version, advertised to plugins and reported by the CLI.
const Version = "0.1.0"

// Model calls go through the retry wrapper with these settings.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Daemon is the long-running serve-mode process.
type Daemon struct {
	config *config.Config
	logger zerolog.Logger

	// Core modules
	catalog     *tool.Catalog
	plugins     *plugin.Loader
	client      orchestrator.ModelClient
	store       *runstore.Store
	queue       *queue.Queue
	hookManager *hooks.Manager

	// Services
	telegramBot   *telegram.Bot
	gatewayServer *gateway.Server
	orchestrator  *orchestrator.Orchestrator
	scheduler     *scheduler.Scheduler
	watcher       *config.Watcher

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	configPath string
	dataDir    string
	startTime  time.Time
	running    bool
	mu         sync.RWMutex

	tracingEnabled bool
}

// New assembles a daemon from the loaded configuration. configPath is the
// file the config watcher follows; empty means the default location.
func New(cfg *config.Config, configPath string, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	metrics.EnsureRegistered()

	d := &Daemon{
		config:     cfg,
		logger:     log.Zerolog(),
		ctx:        ctx,
		cancel:     cancel,
		configPath: configPath,
	}

	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "flexygent"
		}
		if err := tracing.InitOpenTelemetry(serviceName); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.logger.Info().Str("service", serviceName).Msg("Tracing initialized")
		}
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds the components everything else depends on.
func (d *Daemon) initializeCoreModules() error {
	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	d.dataDir = dataDir

	if err := audit.Init(filepath.Join(dataDir, "audit.log")); err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	d.logger.Info().Msg("Audit log initialized")

	d.catalog = tool.NewCatalog()
	if err := coretools.RegisterAll(d.catalog, d.config.Tools.CoreOptions()); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	d.logger.Info().Int("tools", len(d.catalog.Names())).Msg("Tool catalog initialized")

	if dir := d.config.Tools.PluginsDir; dir != "" {
		loader, err := plugin.NewLoader(plugin.Config{
			Catalog:     d.catalog,
			HostVersion: Version,
			Logger:      d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create plugin loader: %w", err)
		}
		d.plugins = loader

		loaded, err := loader.LoadDir(dir)
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Plugin scan failed")
		} else if loaded > 0 {
			d.logger.Info().Int("plugins", loaded).Msg("Plugins loaded")
		}
	}

	client, err := provider.FromConfig(d.config.Provider.Options())
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	d.client = provider.WithRetry(client, retryAttempts, retryBaseDelay)
	d.logger.Info().
		Str("provider", d.config.Provider.Name).
		Str("model", d.config.Provider.Model).
		Msg("Model client initialized")

	store, err := runstore.Open(filepath.Join(dataDir, "runs.db"))
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	d.store = store
	d.logger.Info().Msg("Run store initialized")

	d.queue = queue.New()
	d.logger.Info().Msg("Task queue initialized")

	hookManager, err := hooks.NewManager(hooks.Config{
		Enabled: d.config.Hooks.Enabled,
		Hooks:   d.config.Hooks.Hooks(),
		Logger:  d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create hook manager: %w", err)
	}
	d.hookManager = hookManager
	d.logger.Info().Bool("enabled", d.config.Hooks.Enabled).Msg("Hook manager initialized")

	return nil
}

// initializeServices builds the gateway, the orchestrator behind it, the
// scheduler and, in telegram mode, the bot.
func (d *Daemon) initializeServices() error {
	if d.config.Interaction.Mode == config.ModeTelegram {
		bot, err := telegram.New(d.config.Interaction.Telegram, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		d.telegramBot = bot
		d.logger.Info().Msg("Telegram bot initialized")
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:    d.config.Gateway.Host,
		Port:    d.config.Gateway.Port,
		Secret:  d.config.Gateway.Secret,
		Queue:   d.queue,
		Catalog: d.catalog,
		Store:   d.store,
		Runner: func(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error) {
			return d.Orchestrator().Run(ctx, req)
		},
		ConfirmTimeout: d.config.Interaction.ConfirmTimeout(),
		Logger:         d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server
	d.logger.Info().Msg("Gateway server initialized")

	orch, err := orchestrator.New(orchestrator.Config{
		Client:  d.client,
		Catalog: d.catalog,
		Policy:  d.config.Policy.Policy(),
		Port:    d.orchestratorPort(),
		Model:   d.config.Provider.Model,
		Logger:  d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch
	d.logger.Info().Str("autonomy", string(d.config.Policy.Policy().Autonomy)).Msg("Orchestrator initialized")

	sched, err := scheduler.New(scheduler.Options{
		Queue: d.queue,
		Store: d.store,
		Runner: func(ctx context.Context, task scheduler.Task) (*orchestrator.RunResult, error) {
			return d.Orchestrator().Run(ctx, orchestrator.RunRequest{
				Task:  task.Task,
				Tools: task.Tools,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	for _, task := range d.config.ScheduleTasks() {
		if err := sched.Add(task); err != nil {
			return fmt.Errorf("failed to register schedule %q: %w", task.Name, err)
		}
	}
	d.scheduler = sched
	d.logger.Info().Int("schedules", len(d.config.Schedules)).Msg("Scheduler initialized")

	return nil
}

// orchestratorPort assembles the interaction port for serve mode. Gateway
// clients always receive events; in telegram mode the bot chat answers
// confirmations and questions, otherwise the WebSocket port does. Hook
// scripts ride along as an emit-only sink.
func (d *Daemon) orchestratorPort() interaction.Port {
	ports := []interaction.Port{}
	if d.telegramBot != nil {
		ports = append(ports, d.telegramBot.Port())
	}
	ports = append(ports, d.gatewayServer.Port(), hooks.PortSink(d.hookManager))
	return interaction.NewTee(ports...)
}

// Start brings the daemon up: PID file, gateway, telegram bot, scheduler and
// config watcher.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.With().Str("trace_id", traceID).Logger()
	logger.Info().Str("version", Version).Msg("Starting flexygent daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.telegramBot != nil {
		if err := d.telegramBot.Start(); err != nil {
			return fmt.Errorf("failed to start telegram bot: %w", err)
		}
		logger.Info().Msg("Telegram bot started")
	}

	if err := d.scheduler.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info().Int("jobs", len(d.scheduler.Jobs())).Msg("Scheduler started")

	watcher, err := config.Watch(d.configPath, d.logger, d.applyConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("Config watcher unavailable, reload requires restart")
	} else {
		d.watcher = watcher
		logger.Info().Msg("Config watcher started")
	}

	logger.Info().Msg("Daemon started")

	return nil
}

// applyConfig swaps in a changed configuration. Only the orchestrator side
// takes effect live (policy, provider, model); gateway, logging and schedule
// changes apply on the next start.
func (d *Daemon) applyConfig(cfg *config.Config) {
	client, err := provider.FromConfig(cfg.Provider.Options())
	if err != nil {
		d.logger.Error().Err(err).Msg("Config reload rejected, model client rebuild failed")
		return
	}
	wrapped := provider.WithRetry(client, retryAttempts, retryBaseDelay)

	orch, err := orchestrator.New(orchestrator.Config{
		Client:  wrapped,
		Catalog: d.catalog,
		Policy:  cfg.Policy.Policy(),
		Port:    d.orchestratorPort(),
		Model:   cfg.Provider.Model,
		Logger:  d.logger,
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("Config reload rejected, orchestrator rebuild failed")
		return
	}

	d.mu.Lock()
	previous := d.config
	d.config = cfg
	d.client = wrapped
	d.orchestrator = orch
	d.mu.Unlock()

	if previous.Gateway != cfg.Gateway {
		d.logger.Warn().Msg("Gateway settings changed, restart to apply")
	}
	if previous.Logging != cfg.Logging {
		d.logger.Warn().Msg("Logging settings changed, restart to apply")
	}

	d.logger.Info().
		Str("model", cfg.Provider.Model).
		Str("autonomy", string(cfg.Policy.Policy().Autonomy)).
		Msg("Configuration reloaded")
}

// Stop shuts the daemon down gracefully: intake first, then the queue, then
// stores and tracing.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping flexygent daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.telegramBot != nil {
		if err := d.telegramBot.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop telegram bot")
		}
	}

	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.queue != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.queue.Close(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("Queue did not drain cleanly")
		}
		cancel()
	}

	if d.plugins != nil {
		d.plugins.Close()
	}

	d.cancel()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close run store")
		}
	}

	if err := audit.Get().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit log")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	logger.Info().Msg("Daemon stopped")

	return nil
}

// Status reports whether the daemon runs and for how long.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Status returns the current run state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Orchestrator returns the current orchestrator. Config reloads swap it, so
// callers must not cache the result across runs.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.orchestrator
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Catalog returns the shared tool catalog.
func (d *Daemon) Catalog() *tool.Catalog {
	return d.catalog
}

// Queue returns the task queue.
func (d *Daemon) Queue() *queue.Queue {
	return d.queue
}

// GatewayServer returns the HTTP/WebSocket gateway.
func (d *Daemon) GatewayServer() *gateway.Server {
	return d.gatewayServer
}

// Scheduler returns the schedule runner.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// Store returns the run archive.
func (d *Daemon) Store() *runstore.Store {
	return d.store
}
