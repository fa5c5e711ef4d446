// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package native provides in-process capability providers backed by
// plain Go functions.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loomlab/loom/pkg/core"
)

// Handler executes one call and produces its result. Errors returned
// here are provider-channel failures; use a StatusError result for
// application-level problems.
type Handler func(ctx context.Context, call core.ActionCall) (core.ActionResult, error)

// Provider wraps a Handler as a registrable capability.
type Provider struct {
	descriptor core.CapabilityDescriptor
	handler    Handler
}

// Option configures a Provider.
type Option func(*Provider)

// WithMetadata sets descriptor metadata.
func WithMetadata(metadata map[string]string) Option {
	return func(p *Provider) {
		p.descriptor.Metadata = metadata
	}
}

// New creates a native provider for the given capability name.
func New(name, version string, handler Handler, opts ...Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("capability name is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	p := &Provider{
		descriptor: core.CapabilityDescriptor{
			Name:    name,
			Version: version,
			Kind:    core.ProviderNative,
		},
		handler: handler,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Describe implements core.CapabilityProvider.
func (p *Provider) Describe() core.CapabilityDescriptor {
	return p.descriptor
}

// Invoke implements core.CapabilityProvider.
func (p *Provider) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	return p.handler(ctx, call)
}

// JSONHandler executes one call with its payload decoded from JSON.
// The returned value is JSON-encoded into the result output.
type JSONHandler func(ctx context.Context, input map[string]any, headers map[string]string) (any, error)

// NewJSON creates a native provider whose payload is a JSON object.
// A payload that does not decode yields a structured BAD_PAYLOAD
// result rather than a provider-channel failure.
func NewJSON(name, version string, fn JSONHandler, opts ...Option) (*Provider, error) {
	if fn == nil {
		return nil, errors.New("handler is required")
	}
	handler := func(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
		input := map[string]any{}
		if len(call.Payload) > 0 {
			if err := json.Unmarshal(call.Payload, &input); err != nil {
				return core.ErrorResult(call.ID, "BAD_PAYLOAD",
					fmt.Sprintf("expected JSON object payload: %v", err)), nil
			}
		}
		value, err := fn(ctx, input, call.Headers)
		if err != nil {
			return core.ActionResult{}, err
		}
		output, err := json.Marshal(value)
		if err != nil {
			return core.ActionResult{}, fmt.Errorf("encode output: %w", err)
		}
		return core.OkResult(call.ID, output), nil
	}
	return New(name, version, handler, opts...)
}

var _ core.CapabilityProvider = (*Provider)(nil)
