package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"

	apierrors "github.com/kart-io/sentinel-kb/pkg/errors"
	httpopts "github.com/kart-io/sentinel-kb/pkg/options/http"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// HTTPServer wraps a gin engine with an http.Server.
type HTTPServer struct {
	opts   *httpopts.Options
	engine *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	errCh    chan error
}

// NewHTTPServer creates a server for opts. Middlewares are installed before any
// route so that every group inherits them.
func NewHTTPServer(opts *httpopts.Options, validator binding.StructValidator, middlewares ...gin.HandlerFunc) *HTTPServer {
	gin.SetMode(opts.Mode)
	if validator != nil {
		binding.Validator = validator
	}

	engine := gin.New()
	engine.MaxMultipartMemory = 32 << 20
	engine.Use(middlewares...)
	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrRouteNotFound)
	})
	engine.NoMethod(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrRouteNotFound)
	})
	engine.HandleMethodNotAllowed = true

	return &HTTPServer{opts: opts, engine: engine, errCh: make(chan error, 1)}
}

// Name implements Runnable.
func (s *HTTPServer) Name() string {
	return "http"
}

// Engine returns the gin engine routes are registered on.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Addr returns the bound address, which differs from the configured one
// when the port is 0. Empty before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a listener that failed after Start returned.
func (s *HTTPServer) Errors() <-chan error {
	return s.errCh
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server stopped unexpectedly", "error", err.Error())
			s.errCh <- err
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx expires.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
