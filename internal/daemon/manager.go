// Package daemon manages the process lifecycle: the ops HTTP server, the
// Telegram poller and the retention sweeper, with graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/commit365/chatzipper/internal/config"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Runner is a long-running component that stops when its context is
// cancelled. The Telegram bot and the retention sweeper implement it.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps bundles everything the manager runs.
type Deps struct {
	Logger     zerolog.Logger
	OpsHandler http.Handler
	Bot        Runner
	Sweeper    Runner // optional
}

// Validate checks that required dependencies are present.
func (d Deps) Validate() error {
	if d.OpsHandler == nil {
		return errors.New("ops handler is required")
	}
	if d.Bot == nil {
		return errors.New("bot runner is required")
	}
	return nil
}

// ErrManagerNotStarted is returned when Shutdown is called before Start.
var ErrManagerNotStarted = errors.New("daemon manager not started")

// Manager manages the daemon lifecycle.
type Manager struct {
	serverCfg config.ServerConfig
	deps      Deps

	opsServer *http.Server

	shutdownHooks []namedHook

	runCancel context.CancelFunc

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given configuration and dependencies.
func NewManager(serverCfg config.ServerConfig, deps Deps) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &Manager{
		serverCfg:     serverCfg,
		deps:          deps,
		logger:        deps.Logger.With().Str("component", "manager").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start starts all components and blocks until the context is cancelled
// or a component fails.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.serverCfg.ListenAddr).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runCancel = cancel
	m.mu.Unlock()

	errChan := make(chan error, 3)

	m.startOpsServer(errChan)

	go func() {
		if err := m.deps.Bot.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("bot: %w", err)
		}
	}()

	if m.deps.Sweeper != nil {
		go func() {
			if err := m.deps.Sweeper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("sweeper: %w", err)
			}
		}()
	}

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("component error, initiating shutdown")
		// Detached but bounded so shutdown can complete even when the parent is cancelled
		shutdownCtx, scancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
		defer scancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("component error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, scancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
		defer scancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *Manager) startOpsServer(errChan chan<- error) {
	m.opsServer = &http.Server{
		Addr:              m.serverCfg.ListenAddr,
		Handler:           m.deps.OpsHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}

	go func() {
		m.logger.Info().
			Str("addr", m.serverCfg.ListenAddr).
			Msg("ops server listening")

		if err := m.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "ops.server.failed").
				Msg("ops server failed")
			errChan <- fmt.Errorf("ops server: %w", err)
		}
	}()
}

// Shutdown gracefully stops all components and runs shutdown hooks.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	cancel := m.runCancel
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	// Stop the bot and sweeper first so no new work arrives
	if cancel != nil {
		cancel()
	}

	shutdownCtx, scancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer scancel()

	var errs []error

	if m.opsServer != nil {
		m.logger.Debug().Msg("shutting down ops server")
		if err := m.opsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
		}
	}

	m.logger.Debug().Int("hooks", len(m.shutdownHooks)).Msg("executing shutdown hooks")
	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
