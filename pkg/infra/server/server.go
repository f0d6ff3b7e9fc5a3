package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	httpopts "github.com/kart-io/sentinel-kb/pkg/options/http"
)

// Manager owns the HTTP server, any extra Runnables and the shutdown hooks.
type Manager struct {
	opts       *httpopts.Options
	httpServer *HTTPServer

	mu      sync.Mutex
	servers []Runnable
	hooks   []ShutdownHook
	started bool
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	validator   binding.StructValidator
	middlewares []gin.HandlerFunc
}

// WithValidator installs v as gin's binding validator.
func WithValidator(v binding.StructValidator) Option {
	return func(o *managerOptions) {
		o.validator = v
	}
}

// WithMiddleware appends global middlewares in order.
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(o *managerOptions) {
		o.middlewares = append(o.middlewares, mw...)
	}
}

// NewManager creates a Manager serving HTTP on opts.Addr.
func NewManager(opts *httpopts.Options, options ...Option) *Manager {
	var mo managerOptions
	for _, o := range options {
		o(&mo)
	}
	return &Manager{
		opts:       opts,
		httpServer: NewHTTPServer(opts, mo.validator, mo.middlewares...),
	}
}

// HTTPServer returns the HTTP server.
func (m *Manager) HTTPServer() *HTTPServer {
	return m.httpServer
}

// AddServer adds a component that is started after, and stopped before, the HTTP server.
func (m *Manager) AddServer(r Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, r)
}

// OnShutdown registers fn to run after all servers stopped.
// Hooks run in reverse registration order.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Start starts the HTTP server and then the extra servers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("server manager already started")
	}
	m.started = true
	servers := append([]Runnable(nil), m.servers...)
	m.mu.Unlock()

	if err := m.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	logger.Infow("HTTP server started", "addr", m.httpServer.Addr())

	for i, s := range servers {
		if err := s.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = servers[j].Stop(ctx)
			}
			_ = m.httpServer.Stop(ctx)
			return fmt.Errorf("failed to start server %s: %w", s.Name(), err)
		}
		logger.Infow("Server started", "name", s.Name())
	}
	return nil
}

// Stop stops the servers in reverse start order, then runs the shutdown hooks.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	servers := append([]Runnable(nil), m.servers...)
	hooks := append([]ShutdownHook(nil), m.hooks...)
	m.mu.Unlock()

	var errs []error
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", servers[i].Name(), err))
		}
	}
	if err := m.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http: %w", err))
	}
	logger.Info("HTTP server stopped")

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].Fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", hooks[i].Name, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Run starts the servers and blocks until ctx is cancelled, SIGINT/SIGTERM
// arrives or the listener fails. Shutdown is bounded by the configured timeout.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-ctx.Done():
	case sig := <-quit:
		logger.Infow("Received signal", "signal", sig.String())
	case runErr = <-m.httpServer.Errors():
	}

	logger.Info("Server shutting down...")
	timeout := m.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := m.Stop(shutdownCtx); err != nil {
		return utilerrors.NewAggregate([]error{runErr, err})
	}
	return runErr
}
