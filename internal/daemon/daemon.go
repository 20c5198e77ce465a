// Package daemon wires the relay together and runs it until stopped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/docrelay/internal/config"
	"github.com/harun/docrelay/internal/logger"
	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/internal/observability"
	"github.com/harun/docrelay/internal/telegram"
	"github.com/harun/docrelay/internal/tracing"
	"github.com/harun/docrelay/pkg/allowlist"
	"github.com/harun/docrelay/pkg/api"
	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/commandqueue"
	"github.com/harun/docrelay/pkg/delivery"
	"github.com/harun/docrelay/pkg/dispatch"
	"github.com/harun/docrelay/pkg/selection"
	"github.com/rs/zerolog"
)

const (
	serviceName = "docrelay"

	drainTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Transport is a chat provider with a receive lifecycle.
type Transport interface {
	chat.Provider
	Start() error
	Stop() error
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithTransport replaces the Telegram bot.
func WithTransport(t Transport) Option {
	return func(d *Daemon) { d.transport = t }
}

// WithLoader enables hot reload of the allowlist from the loader's file.
func WithLoader(l *config.Loader) Option {
	return func(d *Daemon) { d.loader = l }
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Queue     map[string]int
}

// Daemon owns every long-lived component.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	log     zerolog.Logger
	metrics *metrics.Metrics
	audit   *observability.AuditLogger

	filter     *allowlist.Filter
	backend    *backend.Client
	sessions   selection.Store
	queue      *commandqueue.Queue
	dedup      *commandqueue.Dedup
	dispatcher *dispatch.Dispatcher
	transport  Transport
	delivery   *delivery.Service
	apiServer  *api.Server
	loader     *config.Loader
	watcher    *config.Watcher
	lifecycle  *LifecycleManager
	eventLoop  *EventLoop

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	serveCh chan error

	mu             sync.RWMutex
	running        bool
	startTime      time.Time
	tracingEnabled bool
}

// New builds the daemon from cfg. Nothing is started yet.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:  cfg,
		logger:  log,
		log:     log.Component("daemon"),
		metrics: metrics.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		serveCh: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := tracing.InitOpenTelemetry(serviceName); err != nil {
		d.log.Warn().Err(err).Msg("Failed to initialize tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initialize(); err != nil {
		d.cleanup()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	d.eventLoop = NewEventLoop(d)
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	if cfg.Logging.AuditFile != "" {
		audit, err := observability.OpenAuditLogger(cfg.Logging.AuditFile)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		d.audit = audit
	}

	d.filter = allowlist.New(rulesFrom(cfg))

	client, err := backend.New(backend.Options{
		BaseURL:        cfg.Backend.BaseURL,
		Secret:         cfg.Backend.Secret,
		Sign:           cfg.Backend.SignRequests,
		Timeout:        cfg.BackendTimeout(),
		MessageTimeout: cfg.MessageTimeout(),
		Paths: backend.Paths{
			Message:    cfg.Backend.Paths.Message,
			Ingest:     cfg.Backend.Paths.Ingest,
			Candidates: cfg.Backend.Paths.Candidates,
			Link:       cfg.Backend.Paths.Link,
		},
		Metrics: d.metrics,
	}, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	d.backend = client

	store, err := selection.Open(SessionOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.sessions = store

	if d.transport == nil {
		bot, err := telegram.New(&cfg.Telegram, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		d.transport = bot
	}

	d.queue = commandqueue.New(commandqueue.Options{
		MaxWorkers: cfg.Dispatch.Workers,
		Logger:     d.logger.GetZerolog(),
		Metrics:    d.metrics,
	})
	d.dedup = commandqueue.NewDedup(d.ctx, cfg.DedupTTL())

	d.dispatcher, err = dispatch.New(dispatch.Options{
		Filter:           d.filter,
		Chat:             d.transport,
		Backend:          d.backend,
		Sessions:         d.sessions,
		DocumentMimeType: cfg.Dispatch.DocumentMimeType,
		ConnectKeyword:   cfg.Dispatch.ConnectKeyword,
		RelayUnhandled:   cfg.Dispatch.RelayUnhandled,
		Metrics:          d.metrics,
		Logger:           d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	d.delivery = delivery.NewService(d.transport, d.metrics, d.logger.GetZerolog())

	d.apiServer, err = api.NewServer(api.ServerOptions{
		Host:                  cfg.API.Host,
		Port:                  cfg.API.Port,
		APIKey:                cfg.API.APIKey,
		IPAllowlist:           cfg.API.IPAllowlist,
		TrustForwardedFor:     cfg.API.TrustForwardedFor,
		RequireSignedRequests: cfg.API.RequireSignedRequests,
		Secret:                cfg.Backend.Secret,
		SignatureWindow:       cfg.SignatureWindow(),
		RateLimitPerMinute:    cfg.API.RateLimitPerMinute,
		MaxBodyBytes:          cfg.MaxBodyBytes(),
		GuardGetGroups:        cfg.API.GuardGetGroups,
		CORSOrigins:           cfg.API.CORSOrigins,
		Audit:                 d.audit,
	}, d.delivery, d.metrics, d.logger.Component("api"))
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	if d.loader != nil && d.loader.GetConfigPath() != "" {
		d.watcher, err = config.NewWatcher(d.loader, d.applyReload, d.logger.Component("config"))
		if err != nil {
			d.log.Warn().Err(err).Msg("Config hot reload disabled")
			d.watcher = nil
		}
	}

	return nil
}

// cleanup releases what initialize managed to build.
func (d *Daemon) cleanup() {
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.dedup != nil {
		d.dedup.Stop()
	}
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.sessions != nil {
		_ = d.sessions.Close()
	}
	_ = d.audit.Close()
	d.cancel()
	d.shutdownTracing()
}

// SessionOptions maps the sessions section onto store options.
func SessionOptions(cfg *config.Config) selection.Options {
	return selection.Options{
		Backend:    cfg.Sessions.Backend,
		Dir:        cfg.Sessions.Dir,
		SQLitePath: cfg.Sessions.SQLitePath,
		Redis: selection.RedisOptions{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			Prefix:   cfg.Sessions.Redis.Prefix,
		},
	}
}

func rulesFrom(cfg *config.Config) allowlist.Rules {
	return allowlist.Rules{
		Groups:     cfg.Allowlist.Groups,
		Numbers:    cfg.Allowlist.Numbers,
		Production: cfg.Production,
	}
}

// applyReload swaps the allowlist. Other settings need a restart.
func (d *Daemon) applyReload(cfg *config.Config) {
	d.filter.Update(rulesFrom(cfg))
	d.audit.RecordConfig(d.ctx, "allowlist_reload", map[string]any{
		"groups":     len(cfg.Allowlist.Groups),
		"numbers":    len(cfg.Allowlist.Numbers),
		"production": cfg.Production,
	})
	d.log.Info().
		Int("groups", len(cfg.Allowlist.Groups)).
		Int("numbers", len(cfg.Allowlist.Numbers)).
		Msg("Allowlist reloaded")
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewID()).Logger()
	logger.Info().Msg("Starting docrelay daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.transport.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start chat transport: %w", err)
	}
	logger.Info().Msg("Chat transport started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	go func() {
		if err := d.apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP API stopped")
			d.serveCh <- err
		}
	}()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			logger.Info().Str("path", d.loader.GetConfigPath()).Msg("Config watcher started")
		}
	}

	logger.Info().Str("addr", d.apiServer.Addr()).Msg("Daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewID()).Logger()
	logger.Info().Msg("Stopping docrelay daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	// Inbound first so nothing new reaches the queue.
	if err := d.transport.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop chat transport")
	}

	d.eventLoop.HandleShutdown()
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := d.apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP API")
	}
	cancel()

	d.cancel()
	d.dedup.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(drainTimeout):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.sessions.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if err := d.audit.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit log")
	}

	d.shutdownTracing()

	logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Queue:   d.queue.GetStats(),
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Wait blocks until SIGINT/SIGTERM or an HTTP API failure, then stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var cause error
	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case cause = <-d.serveCh:
	}

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
		return errors.Join(cause, err)
	}
	return cause
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetMetrics returns the metrics registry wrapper.
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}

// GetSessions returns the selection session store.
func (d *Daemon) GetSessions() selection.Store {
	return d.sessions
}
