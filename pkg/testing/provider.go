// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides scripted capability providers for exercising
// broker dispatch in tests.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/loomlab/loom/pkg/core"
)

// ScriptedProvider is an enhanced mock provider for testing scenarios.
// It supports scripted results, failure simulation, artificial delays,
// and call capture.
type ScriptedProvider struct {
	mu           sync.Mutex
	descriptor   core.CapabilityDescriptor
	responses    []ScriptedResponse
	currentIndex int
	calls        []core.ActionCall
	defaultFn    func(call core.ActionCall) (core.ActionResult, error)
}

// ScriptedResponse defines one queued provider outcome.
type ScriptedResponse struct {
	Result core.ActionResult
	Err    error
	// Delay is applied before the outcome is returned; the provider
	// still honors context cancellation while waiting.
	Delay time.Duration
	// Hang never completes until the call context is done.
	Hang bool
}

// NewScriptedProvider creates a scripted provider registered under name.
func NewScriptedProvider(name, version string) *ScriptedProvider {
	return &ScriptedProvider{
		descriptor: core.CapabilityDescriptor{
			Name:    name,
			Version: version,
			Kind:    core.ProviderNative,
		},
	}
}

// WithMetadata sets descriptor metadata.
func (p *ScriptedProvider) WithMetadata(metadata map[string]string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descriptor.Metadata = metadata
	return p
}

// AddResult queues a successful result with the given output.
func (p *ScriptedProvider) AddResult(output []byte) *ScriptedProvider {
	return p.AddScriptedResponse(ScriptedResponse{
		Result: core.ActionResult{Status: core.StatusOk, Output: output},
	})
}

// AddError queues a provider-channel failure.
func (p *ScriptedProvider) AddError(err error) *ScriptedProvider {
	return p.AddScriptedResponse(ScriptedResponse{Err: err})
}

// AddHang queues an invocation that never completes.
func (p *ScriptedProvider) AddHang() *ScriptedProvider {
	return p.AddScriptedResponse(ScriptedResponse{Hang: true})
}

// AddScriptedResponse queues a fully configured response.
func (p *ScriptedProvider) AddScriptedResponse(resp ScriptedResponse) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithDefault sets the handler used when no responses are queued.
func (p *ScriptedProvider) WithDefault(fn func(call core.ActionCall) (core.ActionResult, error)) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultFn = fn
	return p
}

// Describe implements core.CapabilityProvider.
func (p *ScriptedProvider) Describe() core.CapabilityDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.descriptor
}

// Invoke implements core.CapabilityProvider, replaying the next queued
// response.
func (p *ScriptedProvider) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	var resp *ScriptedResponse
	if p.currentIndex < len(p.responses) {
		r := p.responses[p.currentIndex]
		p.currentIndex++
		resp = &r
	}
	defaultFn := p.defaultFn
	p.mu.Unlock()

	if resp == nil {
		if defaultFn != nil {
			return defaultFn(call)
		}
		return core.OkResult(call.ID, nil), nil
	}

	if resp.Hang {
		<-ctx.Done()
		return core.ActionResult{}, ctx.Err()
	}
	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return core.ActionResult{}, ctx.Err()
		case <-time.After(resp.Delay):
		}
	}
	if resp.Err != nil {
		return core.ActionResult{}, resp.Err
	}
	result := resp.Result
	if result.ID == "" {
		result.ID = call.ID
	}
	return result, nil
}

// Calls returns a copy of all captured calls.
func (p *ScriptedProvider) Calls() []core.ActionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.ActionCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of invocations observed.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var _ core.CapabilityProvider = (*ScriptedProvider)(nil)
