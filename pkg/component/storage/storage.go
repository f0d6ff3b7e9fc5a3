// Package storage tracks the backing-service clients of the process so they
// can be health-checked together and closed in one place on shutdown.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClientNotFound is returned when a named client is not registered.
	ErrClientNotFound = errors.New("storage: client not found")
	// ErrClientAlreadyExists is returned when a name is registered twice.
	ErrClientAlreadyExists = errors.New("storage: client already registered")
	// ErrInvalidClient is returned for an empty name or nil client.
	ErrInvalidClient = errors.New("storage: invalid client")
)

// Client is implemented by every backing-service client (MongoDB, Milvus, Redis).
type Client interface {
	// Name returns the storage type identifier, e.g. "mongodb".
	Name() string
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the connection; it must be safe to call twice.
	Close() error
}

// HealthStatus is the result of one health probe.
type HealthStatus struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	LatencyMS int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
}

func probe(ctx context.Context, name string, c Client) HealthStatus {
	start := time.Now()
	err := c.Ping(ctx)
	latency := time.Since(start)

	st := HealthStatus{
		Name:      name,
		Healthy:   err == nil,
		Latency:   latency,
		LatencyMS: latency.Milliseconds(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
