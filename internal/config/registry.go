package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TransportFactory builds a transport from its configuration.
type TransportFactory func(TransportConfig) (s2s.Provider, error)

// MemoryFactory opens a memory store from its configuration.
type MemoryFactory func(context.Context, MemoryConfig) (memory.Store, error)

// Registry maps transport provider names and memory drivers to their
// constructors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	transport map[string]TransportFactory
	memory    map[MemoryDriver]MemoryFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transport: make(map[string]TransportFactory),
		memory:    make(map[MemoryDriver]MemoryFactory),
	}
}

// RegisterTransport registers a transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport[name] = factory
}

// RegisterMemory registers a memory store factory for driver.
func (r *Registry) RegisterMemory(driver MemoryDriver, factory MemoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[driver] = factory
}

// CreateTransport builds the transport named by cfg.Provider.
func (r *Registry) CreateTransport(cfg TransportConfig) (s2s.Provider, error) {
	r.mu.RLock()
	f, ok := r.transport[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport %q", ErrProviderNotRegistered, cfg.Provider)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create transport %q: %w", cfg.Provider, err)
	}
	return p, nil
}

// CreateMemory opens the store for cfg.Driver.
func (r *Registry) CreateMemory(ctx context.Context, cfg MemoryConfig) (memory.Store, error) {
	r.mu.RLock()
	f, ok := r.memory[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: memory driver %q", ErrProviderNotRegistered, cfg.Driver)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open memory %q: %w", cfg.Driver, err)
	}
	return s, nil
}
