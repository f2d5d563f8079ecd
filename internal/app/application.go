// Package app is the composition root: it builds every component from a
// Config and owns their start and stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"campus/internal/api"
	"campus/internal/config"
	"campus/internal/database"
	"campus/internal/hub"
	"campus/internal/logging"
	"campus/internal/notify"
	"campus/internal/presence"
	"campus/internal/reminder"
	"campus/internal/websocket"
	pkgdatabase "campus/pkg/database"
	"campus/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      *database.Manager
	registry   *websocket.Registry
	chatHub    *hub.Hub
	scheduler  *reminder.Scheduler
	notifier   interfaces.Notifier
	presence   *presence.Manager
	apiServer  *api.Server
	httpServer *http.Server
	log        zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// OpenStore opens the SQLite database described by cfg and applies pending migrations.
func OpenStore(cfg *config.DatabaseConfig, log zerolog.Logger) (*database.Manager, int, error) {
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.MaxConnections = cfg.MaxConnections

	store, err := database.NewManager(dbConfig, log)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	applied, err := store.Migrate()
	if err != nil {
		_ = store.Close()
		return nil, 0, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	return store, applied, nil
}

// NewScheduler builds the reminder scheduler and its notifier from cfg.
func NewScheduler(cfg *config.Config, store interfaces.ScheduleStore, log zerolog.Logger) (*reminder.Scheduler, interfaces.Notifier, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}

	notifier, err := notify.New(cfg.Notifier, cfg.Scheduler.LeadWindow, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build notifier: %w", err)
	}

	scheduler := reminder.New(store, notifier, reminder.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		LeadWindow:   cfg.Scheduler.LeadWindow,
		SendTimeout:  cfg.Scheduler.SendTimeout,
		Location:     loc,
	}, log)
	return scheduler, notifier, nil
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Hub → Scheduler → Presence → API → HTTP
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	store, applied, err := OpenStore(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info().Int("applied", applied).Str("path", cfg.Database.Path).Msg("database ready")

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}

	// STEP 2: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry(log)

	// STEP 3: Initialize chat hub over the registry and the message log
	chatHub := hub.New(registry, store, hub.Config{
		RatePerSec:   cfg.Chat.RatePerSec,
		Burst:        cfg.Chat.Burst,
		HistoryLimit: cfg.Chat.HistoryLimit,
		QueueSize:    cfg.Chat.QueueSize,
		Location:     loc,
	}, log)

	// STEP 4: Initialize reminder scheduler
	scheduler, notifier, err := NewScheduler(cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// STEP 5: Initialize WebSocket handler
	wsHandler := websocket.NewHandler(registry, chatHub, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: websocket.DefaultHandlerConfig().MaxMessageSize,
	}, log)

	// STEP 6: Initialize API server with all business dependencies
	presenceManager := presence.NewManager(log)
	apiServer := api.NewServer(api.Options{
		Store:       store,
		Presence:    presenceManager,
		Connections: registry,
		Reminders:   scheduler,
		Chat:        wsHandler,
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   registry,
		chatHub:    chatHub,
		scheduler:  scheduler,
		notifier:   notifier,
		presence:   presenceManager,
		apiServer:  apiServer,
		httpServer: httpServer,
		log:        logging.Component(log, "app"),
	}, nil
}

// Start begins application execution
// Hub and scheduler start first, then the HTTP listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start chat hub (background message processing)
	if err := app.chatHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat hub: %w", err)
	}

	// STEP 2: Start reminder scheduler
	if app.config.Scheduler.Enabled {
		if err := app.scheduler.Start(ctx); err != nil {
			_ = app.chatHub.Stop()
			return fmt.Errorf("failed to start reminder scheduler: %w", err)
		}
	} else {
		app.log.Warn().Msg("reminder scheduler disabled")
	}

	// STEP 3: Bind synchronously so address errors surface here
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopBackground(ctx)
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	serveErr := make(chan error, 1)
	app.mu.Lock()
	app.listener = ln
	app.serveErr = serveErr
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(serveErr)
	}()

	// TECHNICAL DISCOVERY: SdNotify is a no-op returning false when not run under systemd
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		app.log.Warn().Err(err).Msg("systemd notify failed")
	} else if sent {
		app.log.Debug().Msg("systemd notified ready")
	}

	app.log.Info().Str("addr", ln.Addr().String()).Msg("campus server started")
	return nil
}

// Errors delivers a fatal HTTP server error, and is closed when serving stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → Hub → Scheduler → Database
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down campus server")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Hijacked chat sockets are not closed by Shutdown
	app.registry.CloseAll()

	// STEP 3: Stop background work
	app.stopBackground(ctx)

	// STEP 4: Close database connections
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.log.Info().Msg("campus server shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) stopBackground(ctx context.Context) {
	if err := app.chatHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.Error().Err(err).Msg("chat hub shutdown error")
	}
	if err := app.scheduler.Stop(ctx); err != nil && !errors.Is(err, reminder.ErrSchedulerNotRunning) {
		app.log.Error().Err(err).Msg("reminder scheduler shutdown error")
	}
}

// Addr returns the bound listen address once started, the configured one before.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Store exposes the database manager.
func (app *Application) Store() *database.Manager { return app.store }

// Scheduler exposes the reminder scheduler.
func (app *Application) Scheduler() *reminder.Scheduler { return app.scheduler }

// Notifier exposes the configured reminder notifier.
func (app *Application) Notifier() interfaces.Notifier { return app.notifier }

// Registry exposes the chat connection registry.
func (app *Application) Registry() *websocket.Registry { return app.registry }
