// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"

	loomerr "github.com/loomlab/loom/pkg/errors"

	"github.com/loomlab/loom/pkg/core"
)

// FallbackStrategy produces a result when the primary dispatch fails.
type FallbackStrategy interface {
	Execute(ctx context.Context, call core.ActionCall, primary core.ActionResult) (core.ActionResult, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, call core.ActionCall, primary core.ActionResult) (core.ActionResult, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, call core.ActionCall, primary core.ActionResult) (core.ActionResult, error) {
	return f(ctx, call, primary)
}

// StaticFallback answers every failure with a fixed ok payload, e.g. a
// canned "service degraded" message.
type StaticFallback struct {
	Output []byte
}

// Execute implements FallbackStrategy.
func (s *StaticFallback) Execute(ctx context.Context, call core.ActionCall, primary core.ActionResult) (core.ActionResult, error) {
	return core.OkResult(call.ID, s.Output), nil
}

// CapabilityFallback retries the same call against alternate
// capabilities in order until one returns ok. Unregistered alternates
// are skipped.
type CapabilityFallback struct {
	Invoker      Invoker
	Capabilities []string
}

// Execute implements FallbackStrategy.
func (c *CapabilityFallback) Execute(ctx context.Context, call core.ActionCall, primary core.ActionResult) (core.ActionResult, error) {
	last := primary
	for _, name := range c.Capabilities {
		alt := call
		alt.Capability = name
		result, err := c.Invoker.Invoke(ctx, alt)
		if err != nil {
			if le, ok := err.(*loomerr.LoomError); ok && le.Code == loomerr.CodeNotFound {
				continue
			}
			return result, err
		}
		if result.Ok() {
			return result, nil
		}
		last = result
	}
	return last, nil
}

// WithFallback dispatches the call through inv and, when the outcome is
// not ok, hands it to the fallback strategy. Routing errors bypass the
// fallback only when no strategy is given.
func WithFallback(ctx context.Context, inv Invoker, call core.ActionCall, fallback FallbackStrategy) (core.ActionResult, error) {
	result, err := inv.Invoke(ctx, call)
	if err == nil && result.Ok() {
		return result, nil
	}
	if fallback == nil {
		return result, err
	}
	if err != nil {
		result = core.ErrorResult(call.ID, "DISPATCH_ERROR", err.Error())
	}
	return fallback.Execute(ctx, call, result)
}
