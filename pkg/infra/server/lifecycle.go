// Package server runs the HTTP listener of a service and coordinates its
// graceful shutdown together with the clients the service depends on.
package server

import "context"

// Lifecycle is implemented by components the Manager starts and stops.
type Lifecycle interface {
	// Start must return once the component is serving.
	Start(ctx context.Context) error
	// Stop stops the component gracefully within ctx.
	Stop(ctx context.Context) error
}

// Runnable is a named Lifecycle.
type Runnable interface {
	Lifecycle
	Name() string
}

// ShutdownHook releases a resource after the listeners stopped,
// e.g. a database client.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}
