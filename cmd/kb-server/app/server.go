// Package app provides the knowledge base server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"

	"github.com/kart-io/sentinel-kb/cmd/kb-server/app/options"
	kbsvc "github.com/kart-io/sentinel-kb/internal/kb"
	"github.com/kart-io/sentinel-kb/pkg/infra/app"
)

const (
	// Name is the name of the application.
	Name = kbsvc.Name

	// commandDesc is the description of the command.
	commandDesc = `Knowledge Base Service

A multi-tenant retrieval-augmented generation service.

This server provides:
  - Ingestion of documents, websites and YouTube videos into vector chunks
  - Vector, full-text and hybrid search scoped by tenant, agent and brand
  - Question answering with session history and SSE streaming
  - Embedding provider fallback with a shared embedding cache`
)

// running holds the server once run has built it, for config reloads.
var running atomic.Pointer[kbsvc.Server]

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(Name),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithConfigWatch(reloadLogLevel),
	)

	return application
}

// reloadLogLevel applies log.level from the changed config file.
func reloadLogLevel(v *viper.Viper, e fsnotify.Event) {
	srv := running.Load()
	if srv == nil {
		return
	}
	level := v.GetString("log.level")
	if level == "" {
		return
	}
	if err := srv.SetLogLevel(level); err != nil {
		logger.Warnw("Failed to apply log level from config", "file", e.Name, "level", level, "error", err)
		return
	}
	logger.Infow("Log level reloaded", "file", e.Name, "level", level)
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		// Load the configuration options
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		// Build the server using the configuration
		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		running.Store(server)
		defer running.Store(nil)

		// Run the server with signal context for graceful shutdown
		return server.Run(ctx)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal exits immediately.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
