package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/infra/pool"
)

// Manager manages the registered storage clients.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string

	// workers runs health probes; nil means one goroutine per probe.
	workers *pool.Pool
}

// NewManager creates a new storage manager. workers may be nil.
func NewManager(workers *pool.Pool) *Manager {
	return &Manager{
		clients: make(map[string]Client),
		workers: workers,
	}
}

// Register adds a client under name.
func (m *Manager) Register(name string, client Client) error {
	if name == "" || client == nil {
		return ErrInvalidClient
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[name]; exists {
		return fmt.Errorf("%w: %s", ErrClientAlreadyExists, name)
	}
	m.clients[name] = client
	m.order = append(m.order, name)
	return nil
}

// Get returns the client registered under name.
func (m *Manager) Get(name string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}
	return client, nil
}

// List returns the registered names, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll probes every client concurrently.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	m.mu.RLock()
	clients := make(map[string]Client, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, client := range clients {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			st := probe(ctx, name, client)
			mu.Lock()
			statuses[name] = st
			mu.Unlock()
		}

		if m.workers == nil || m.workers.Submit(task) != nil {
			go task()
		}
	}

	wg.Wait()
	return statuses
}

// AllHealthy reports whether every registered client answers Ping.
func (m *Manager) AllHealthy(ctx context.Context) bool {
	for _, st := range m.HealthCheckAll(ctx) {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// CloseAll closes clients in reverse registration order and unregisters them.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if err := m.clients[name].Close(); err != nil {
			logger.Errorw("Failed to close storage client", "name", name, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.clients = make(map[string]Client)
	m.order = nil
	return errors.Join(errs...)
}
