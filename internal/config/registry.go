package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/attune/pkg/provider/acoustic"
	"github.com/MrWong99/attune/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      map[string]func(ProviderEntry) (stt.Provider, error)
	acoustic map[string]func(ProviderEntry) (acoustic.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		acoustic: make(map[string]func(ProviderEntry) (acoustic.Backend, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterAcoustic registers an acoustic backend factory under name.
func (r *Registry) RegisterAcoustic(name string, factory func(ProviderEntry) (acoustic.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acoustic[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAcoustic instantiates an acoustic backend using the factory registered
// under entry.Name.
func (r *Registry) CreateAcoustic(entry ProviderEntry) (acoustic.Backend, error) {
	r.mu.RLock()
	factory, ok := r.acoustic[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: acoustic/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
