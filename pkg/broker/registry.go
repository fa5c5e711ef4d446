// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"

	"github.com/loomlab/loom/pkg/core"
	"github.com/loomlab/loom/pkg/errors"
)

// Registry is a concurrently-accessible mapping from capability name to
// provider. Lookups dominate registrations, so a single map behind a
// reader/writer lock is enough; replacement is atomic with respect to
// concurrent lookups, and in-flight calls keep the handle they resolved.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]core.CapabilityProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]core.CapabilityProvider)}
}

// Register stores the provider under its descriptor name, replacing any
// prior binding for that name.
func (r *Registry) Register(provider core.CapabilityProvider) error {
	if provider == nil {
		return errors.New(errors.CodeInvalidInput, "provider is nil", nil)
	}
	name := provider.Describe().Name
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "provider descriptor has no name", nil)
	}
	r.mu.Lock()
	r.providers[name] = provider
	r.mu.Unlock()
	return nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (core.CapabilityProvider, bool) {
	r.mu.RLock()
	provider, ok := r.providers[name]
	r.mu.RUnlock()
	return provider, ok
}

// List returns a snapshot of all registered descriptors, one per name.
func (r *Registry) List() []core.CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.CapabilityDescriptor, 0, len(r.providers))
	for _, provider := range r.providers {
		out = append(out, provider.Describe())
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
